package schema

import "testing"

var invoiceSchema = map[string]any{
	"type":     "object",
	"required": []any{"invoice_id", "amount"},
	"properties": map[string]any{
		"invoice_id": map[string]any{"type": "string"},
		"amount":     map[string]any{"type": "number"},
	},
}

func TestValidatePassesConformingPayload(t *testing.T) {
	v := NewValidator()
	if err := v.Register("invoice.paid", invoiceSchema); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	err := v.Validate("invoice.paid", map[string]any{
		"invoice_id": "inv-42",
		"amount":     99.5,
	})
	if err != nil {
		t.Errorf("Validate() error = %v, want nil", err)
	}
}

func TestValidateRejectsNonConformingPayload(t *testing.T) {
	v := NewValidator()
	if err := v.Register("invoice.paid", invoiceSchema); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	err := v.Validate("invoice.paid", map[string]any{
		"invoice_id": "inv-42",
		// amount missing
	})
	if err == nil {
		t.Error("Validate() without required field should fail")
	}

	err = v.Validate("invoice.paid", map[string]any{
		"invoice_id": 42, // wrong type
		"amount":     99.5,
	})
	if err == nil {
		t.Error("Validate() with wrong field type should fail")
	}
}

func TestValidateSkipsUnregisteredTypes(t *testing.T) {
	v := NewValidator()

	if err := v.Validate("user.created", map[string]any{"whatever": true}); err != nil {
		t.Errorf("Validate() on unregistered type error = %v, want nil", err)
	}
}

func TestRegisterRejectsMalformedSchema(t *testing.T) {
	v := NewValidator()

	err := v.Register("invoice.paid", map[string]any{"type": 12345})
	if err == nil {
		t.Error("Register() with malformed schema should fail")
	}

	if err := v.Register("", invoiceSchema); err == nil {
		t.Error("Register() with empty event type should fail")
	}
}
