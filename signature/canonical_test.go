package signature_test

import (
	"testing"

	"github.com/castellanhq/herald/signature"
)

func TestCanonicalJSONSortsKeys(t *testing.T) {
	got, err := signature.CanonicalJSON(map[string]any{
		"zeta":  1,
		"alpha": "x",
		"mid":   map[string]any{"b": 2, "a": 1},
	})
	if err != nil {
		t.Fatal(err)
	}

	want := `{"alpha":"x","mid":{"a":1,"b":2},"zeta":1}`
	if string(got) != want {
		t.Errorf("CanonicalJSON = %s, want %s", got, want)
	}
}

func TestCanonicalJSONStableAcrossInsertOrder(t *testing.T) {
	a := map[string]any{"x": 1, "y": []any{"a", "b"}, "z": nil}
	b := map[string]any{"z": nil, "y": []any{"a", "b"}, "x": 1}

	ca, err := signature.CanonicalJSON(a)
	if err != nil {
		t.Fatal(err)
	}
	cb, err := signature.CanonicalJSON(b)
	if err != nil {
		t.Fatal(err)
	}

	if string(ca) != string(cb) {
		t.Errorf("canonical forms differ: %s vs %s", ca, cb)
	}
}

func TestCanonicalJSONPreservesNumbers(t *testing.T) {
	got, err := signature.CanonicalJSON(map[string]any{"amount": 9900, "rate": 0.15})
	if err != nil {
		t.Fatal(err)
	}

	want := `{"amount":9900,"rate":0.15}`
	if string(got) != want {
		t.Errorf("CanonicalJSON = %s, want %s", got, want)
	}
}

func TestCanonicalSignatureRoundTrip(t *testing.T) {
	payload := map[string]any{"type": "invoice.paid", "data": map[string]any{"id": "inv_1"}}

	body, err := signature.CanonicalJSON(payload)
	if err != nil {
		t.Fatal(err)
	}

	sig := signature.Sign(body, "whsec_canonical")
	if !signature.Verify(body, "whsec_canonical", sig) {
		t.Error("round trip verification failed")
	}
}
