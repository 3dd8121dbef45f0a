package redis

// Key prefixes for primary entity storage.
const (
	prefixEvent    = "herald:evt:"
	prefixEndpoint = "herald:ep:"
	prefixAttempt  = "herald:att:"
)

// Key prefixes for sorted set indexes (scored by creation time).
const (
	zEventAll       = "herald:z:evt:all"
	zEventStatus    = "herald:z:evt:status:" // + status
	zEndpointTenant = "herald:z:ep:tenant:"  // + tenant ID
	zAttemptEP      = "herald:z:att:ep:"     // + endpoint ID
)

// Counter prefix for per-endpoint+event attempt numbering.
const cAttempt = "herald:c:att:" // + endpoint ID + ":" + event ID

// entityKey returns the primary key for an entity.
func entityKey(prefix, id string) string {
	return prefix + id
}

// statusKey returns the sorted set key for one event status.
func statusKey(status string) string {
	return zEventStatus + status
}

// attemptCounterKey returns the counter key for an endpoint+event pair.
func attemptCounterKey(epID, evtID string) string {
	return cAttempt + epID + ":" + evtID
}
