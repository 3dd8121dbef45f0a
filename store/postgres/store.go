// Package postgres provides a PostgreSQL Store implementation backed by pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/castellanhq/herald"
	"github.com/castellanhq/herald/delivery"
	"github.com/castellanhq/herald/endpoint"
	"github.com/castellanhq/herald/event"
	"github.com/castellanhq/herald/id"
	"github.com/castellanhq/herald/pattern"
	heraldstore "github.com/castellanhq/herald/store"
)

// compile-time interface check.
var _ heraldstore.Store = (*Store)(nil)

// Store implements store.Store on PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a PostgreSQL store on an existing connection pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Connect opens a connection pool for the given DSN and returns a store on it.
func Connect(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return New(pool), nil
}

// Pool returns the underlying connection pool for direct access.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

// Migrate applies the schema migrations in order.
func (s *Store) Migrate(ctx context.Context) error {
	for _, m := range migrations {
		if _, err := s.pool.Exec(ctx, m.sql); err != nil {
			return fmt.Errorf("postgres: migration %s: %w", m.name, err)
		}
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close closes the connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// ──────────────────────────────────────────────────
// event.Store
// ──────────────────────────────────────────────────

// CreateEvent persists an event.
func (s *Store) CreateEvent(ctx context.Context, evt *event.Event) error {
	data, metadata, err := encodeEvent(evt)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO herald_events (`+eventColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		evt.ID, evt.Type, evt.Source, evt.TenantID,
		data, metadata,
		evt.Status, evt.ErrorMessage, evt.RetryCount,
		evt.ProcessedAt, evt.CreatedAt, evt.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create event: %w", err)
	}
	return nil
}

// GetEvent returns an event by ID.
func (s *Store) GetEvent(ctx context.Context, evtID id.ID) (*event.Event, error) {
	evt, err := scanEvent(s.pool.QueryRow(ctx,
		`SELECT `+eventColumns+` FROM herald_events WHERE id = $1`, evtID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, herald.ErrEventNotFound
		}
		return nil, fmt.Errorf("get event: %w", err)
	}
	return evt, nil
}

// ListEvents returns events filtered by opts, newest first.
func (s *Store) ListEvents(ctx context.Context, opts event.ListOpts) ([]*event.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM herald_events WHERE 1=1`
	var args []any

	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if opts.Type != "" {
		query += ` AND type = ` + arg(opts.Type)
	}
	if opts.Source != "" {
		query += ` AND source = ` + arg(opts.Source)
	}
	if opts.Status != "" {
		query += ` AND status = ` + arg(opts.Status)
	}
	if opts.From != nil {
		query += ` AND created_at >= ` + arg(*opts.From)
	}
	if opts.To != nil {
		query += ` AND created_at <= ` + arg(*opts.To)
	}

	query += ` ORDER BY created_at DESC`
	if opts.Limit > 0 {
		query += ` LIMIT ` + arg(opts.Limit)
	}
	if opts.Offset > 0 {
		query += ` OFFSET ` + arg(opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []*event.Event
	for rows.Next() {
		evt, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, evt)
	}
	return events, rows.Err()
}

// MarkProcessing transitions pending → processing. The conditional UPDATE is
// what lets several router instances share one database: exactly one wins.
func (s *Store) MarkProcessing(ctx context.Context, evtID id.ID) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE herald_events SET status = $2, updated_at = now()
		 WHERE id = $1 AND status = $3`,
		evtID, event.StatusProcessing, event.StatusPending,
	)
	if err != nil {
		return false, fmt.Errorf("mark processing: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// MarkCompleted transitions processing → completed. The status condition
// keeps a stale claimant from clobbering an event that was replayed and
// re-claimed elsewhere in the meantime.
func (s *Store) MarkCompleted(ctx context.Context, evtID id.ID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE herald_events
		 SET status = $2, error_message = '', processed_at = now(), updated_at = now()
		 WHERE id = $1 AND status = $3`,
		evtID, event.StatusCompleted, event.StatusProcessing,
	)
	if err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.eventMissing(ctx, evtID)
	}
	return nil
}

// MarkFailed transitions processing → failed with the aggregated error.
// Like MarkCompleted, events in any other state are left untouched.
func (s *Store) MarkFailed(ctx context.Context, evtID id.ID, errMsg string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE herald_events
		 SET status = $2, error_message = $3, processed_at = now(), updated_at = now()
		 WHERE id = $1 AND status = $4`,
		evtID, event.StatusFailed, errMsg, event.StatusProcessing,
	)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.eventMissing(ctx, evtID)
	}
	return nil
}

// eventMissing distinguishes "no such event" from "event exists but the
// conditional UPDATE matched nothing".
func (s *Store) eventMissing(ctx context.Context, evtID id.ID) error {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM herald_events WHERE id = $1)`, evtID,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check event exists: %w", err)
	}
	if !exists {
		return herald.ErrEventNotFound
	}
	return nil
}

// MarkStalled transitions processing → pending so an event claimed by a
// crashed router instance can be dispatched again.
func (s *Store) MarkStalled(ctx context.Context, evtID id.ID) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE herald_events SET status = $2, updated_at = now()
		 WHERE id = $1 AND status = $3`,
		evtID, event.StatusPending, event.StatusProcessing,
	)
	if err != nil {
		return false, fmt.Errorf("mark stalled: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// MarkReplay transitions failed → pending, bounded by maxRetries.
func (s *Store) MarkReplay(ctx context.Context, evtID id.ID, maxRetries int) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE herald_events
		 SET status = $2, retry_count = retry_count + 1, updated_at = now()
		 WHERE id = $1 AND status = $3 AND retry_count < $4`,
		evtID, event.StatusPending, event.StatusFailed, maxRetries,
	)
	if err != nil {
		return false, fmt.Errorf("mark replay: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ListFailed returns failed events, oldest first.
func (s *Store) ListFailed(ctx context.Context, limit int) ([]*event.Event, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+eventColumns+` FROM herald_events
		 WHERE status = $1 ORDER BY created_at ASC LIMIT $2`,
		event.StatusFailed, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list failed events: %w", err)
	}
	defer rows.Close()

	var events []*event.Event
	for rows.Next() {
		evt, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, evt)
	}
	return events, rows.Err()
}

// EventStats returns aggregate event counts by status.
func (s *Store) EventStats(ctx context.Context) (event.Stats, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT status, count(*) FROM herald_events GROUP BY status`)
	if err != nil {
		return event.Stats{}, fmt.Errorf("event stats: %w", err)
	}
	defer rows.Close()

	var stats event.Stats
	for rows.Next() {
		var (
			status event.Status
			count  int64
		)
		if err := rows.Scan(&status, &count); err != nil {
			return event.Stats{}, fmt.Errorf("scan stats: %w", err)
		}
		switch status {
		case event.StatusPending:
			stats.Pending = count
		case event.StatusProcessing:
			stats.Processing = count
		case event.StatusCompleted:
			stats.Completed = count
		case event.StatusFailed:
			stats.Failed = count
		}
	}
	return stats, rows.Err()
}

// ──────────────────────────────────────────────────
// endpoint.Store
// ──────────────────────────────────────────────────

// CreateEndpoint persists a new endpoint.
func (s *Store) CreateEndpoint(ctx context.Context, ep *endpoint.Endpoint) error {
	headers, err := encodeHeaders(ep.Headers)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO herald_endpoints (`+endpointColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		ep.ID, ep.TenantID, ep.Name, ep.URL, ep.Secret,
		ep.EventTypes, headers, ep.Enabled,
		ep.FailureCount, ep.RateLimit,
		ep.LastAttemptAt, ep.LastTriggeredAt,
		ep.CreatedAt, ep.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create endpoint: %w", err)
	}
	return nil
}

// GetEndpoint returns an endpoint by ID.
func (s *Store) GetEndpoint(ctx context.Context, epID id.ID) (*endpoint.Endpoint, error) {
	ep, err := scanEndpoint(s.pool.QueryRow(ctx,
		`SELECT `+endpointColumns+` FROM herald_endpoints WHERE id = $1`, epID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, herald.ErrEndpointNotFound
		}
		return nil, fmt.Errorf("get endpoint: %w", err)
	}
	return ep, nil
}

// UpdateEndpoint modifies an existing endpoint.
func (s *Store) UpdateEndpoint(ctx context.Context, ep *endpoint.Endpoint) error {
	headers, err := encodeHeaders(ep.Headers)
	if err != nil {
		return err
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE herald_endpoints SET
			name = $2, url = $3, secret = $4, event_types = $5,
			headers = $6, enabled = $7, rate_limit = $8, updated_at = now()
		 WHERE id = $1`,
		ep.ID, ep.Name, ep.URL, ep.Secret, ep.EventTypes,
		headers, ep.Enabled, ep.RateLimit,
	)
	if err != nil {
		return fmt.Errorf("update endpoint: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return herald.ErrEndpointNotFound
	}
	return nil
}

// DeleteEndpoint removes an endpoint and its attempt history.
func (s *Store) DeleteEndpoint(ctx context.Context, epID id.ID) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM herald_endpoints WHERE id = $1`, epID)
	if err != nil {
		return fmt.Errorf("delete endpoint: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return herald.ErrEndpointNotFound
	}
	return nil
}

// ListEndpoints returns endpoints for a tenant, optionally filtered.
func (s *Store) ListEndpoints(ctx context.Context, tenantID string, opts endpoint.ListOpts) ([]*endpoint.Endpoint, error) {
	query := `SELECT ` + endpointColumns + ` FROM herald_endpoints WHERE tenant_id = $1`
	args := []any{tenantID}

	if opts.Enabled != nil {
		args = append(args, *opts.Enabled)
		query += fmt.Sprintf(` AND enabled = $%d`, len(args))
	}

	query += ` ORDER BY created_at ASC`
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		query += fmt.Sprintf(` OFFSET $%d`, len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list endpoints: %w", err)
	}
	defer rows.Close()

	var endpoints []*endpoint.Endpoint
	for rows.Next() {
		ep, err := scanEndpoint(rows)
		if err != nil {
			return nil, fmt.Errorf("scan endpoint: %w", err)
		}
		endpoints = append(endpoints, ep)
	}
	return endpoints, rows.Err()
}

// Resolve finds all enabled endpoints matching an event type for a tenant.
// Pattern matching happens in Go so the wildcard semantics are identical
// across store backends; the query narrows to the tenant's enabled rows.
func (s *Store) Resolve(ctx context.Context, tenantID, eventType string) ([]*endpoint.Endpoint, error) {
	enabled := true
	candidates, err := s.ListEndpoints(ctx, tenantID, endpoint.ListOpts{Enabled: &enabled})
	if err != nil {
		return nil, err
	}

	var result []*endpoint.Endpoint
	for _, ep := range candidates {
		for _, raw := range ep.EventTypes {
			if pattern.Match(raw, eventType) {
				result = append(result, ep)
				break
			}
		}
	}
	return result, nil
}

// SetEnabled enables or disables an endpoint.
func (s *Store) SetEnabled(ctx context.Context, epID id.ID, enabled bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE herald_endpoints SET enabled = $2, updated_at = now() WHERE id = $1`,
		epID, enabled,
	)
	if err != nil {
		return fmt.Errorf("set enabled: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return herald.ErrEndpointNotFound
	}
	return nil
}

// RecordFailure increments the failure count and stamps LastAttemptAt.
func (s *Store) RecordFailure(ctx context.Context, epID id.ID, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE herald_endpoints
		 SET failure_count = failure_count + 1, last_attempt_at = $2, updated_at = $2
		 WHERE id = $1`,
		epID, at,
	)
	if err != nil {
		return fmt.Errorf("record failure: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return herald.ErrEndpointNotFound
	}
	return nil
}

// RecordSuccess resets the failure count and stamps the attempt timestamps.
func (s *Store) RecordSuccess(ctx context.Context, epID id.ID, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE herald_endpoints
		 SET failure_count = 0, last_attempt_at = $2, last_triggered_at = $2, updated_at = $2
		 WHERE id = $1`,
		epID, at,
	)
	if err != nil {
		return fmt.Errorf("record success: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return herald.ErrEndpointNotFound
	}
	return nil
}

// ──────────────────────────────────────────────────
// delivery.Store
// ──────────────────────────────────────────────────

// RecordAttempt persists one attempt audit record.
func (s *Store) RecordAttempt(ctx context.Context, a *delivery.Attempt) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO herald_attempts (`+attemptColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		a.ID, a.EndpointID, a.EventID,
		a.AttemptNumber, a.Status, a.HTTPStatus,
		a.Signature, a.Error, a.Response, a.LatencyMs,
		a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("record attempt: %w", err)
	}
	return nil
}

// ListAttempts returns attempt history for an endpoint, newest first.
func (s *Store) ListAttempts(ctx context.Context, epID id.ID, opts delivery.ListOpts) ([]*delivery.Attempt, error) {
	query := `SELECT ` + attemptColumns + ` FROM herald_attempts WHERE endpoint_id = $1`
	args := []any{epID}

	if opts.Status != nil {
		args = append(args, *opts.Status)
		query += fmt.Sprintf(` AND status = $%d`, len(args))
	}

	query += ` ORDER BY created_at DESC`
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		query += fmt.Sprintf(` OFFSET $%d`, len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	defer rows.Close()

	var attempts []*delivery.Attempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}

// CountAttempts returns the attempt count for an endpoint+event pair.
func (s *Store) CountAttempts(ctx context.Context, epID, evtID id.ID) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM herald_attempts WHERE endpoint_id = $1 AND event_id = $2`,
		epID, evtID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count attempts: %w", err)
	}
	return n, nil
}
