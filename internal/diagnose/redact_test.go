package diagnose_test

import (
	"testing"

	"github.com/sitemend/sitemend/internal/diagnose"
)

func TestRedact_NestedSecrets(t *testing.T) {
	input := map[string]interface{}{
		"apiKey": "secret123",
		"nested": map[string]interface{}{
			"authToken": "xyz",
			"safe":      "value",
		},
	}

	got := diagnose.Redact(input)

	if got["apiKey"] != diagnose.RedactionMarker {
		t.Errorf("apiKey = %v, want marker", got["apiKey"])
	}
	nested, ok := got["nested"].(map[string]interface{})
	if !ok {
		t.Fatal("expected nested map to be preserved")
	}
	if nested["authToken"] != diagnose.RedactionMarker {
		t.Errorf("nested.authToken = %v, want marker", nested["authToken"])
	}
	if nested["safe"] != "value" {
		t.Errorf("nested.safe = %v, want unchanged", nested["safe"])
	}

	// Input must not be mutated.
	if input["apiKey"] != "secret123" {
		t.Error("Redact mutated its input")
	}
}

func TestRedact_KeyPatterns(t *testing.T) {
	input := map[string]interface{}{
		"access_token":  "a",
		"SECRET_VALUE":  "b",
		"userPassword":  "c",
		"credentialSet": "d",
		"license_key":   "e",
		"authorization": "f",
		"endpoint":      "https://example.com",
		"count":         3,
	}

	got := diagnose.Redact(input)

	for _, k := range []string{"access_token", "SECRET_VALUE", "userPassword", "credentialSet", "license_key", "authorization"} {
		if got[k] != diagnose.RedactionMarker {
			t.Errorf("%s = %v, want marker", k, got[k])
		}
	}
	if got["endpoint"] != "https://example.com" {
		t.Errorf("endpoint = %v, want unchanged", got["endpoint"])
	}
	if got["count"] != 3 {
		t.Errorf("count = %v, want unchanged", got["count"])
	}
}

func TestRedact_SlicesAndNil(t *testing.T) {
	if diagnose.Redact(nil) != nil {
		t.Error("Redact(nil) should be nil")
	}

	input := map[string]interface{}{
		"items": []interface{}{
			map[string]interface{}{"token": "t", "name": "n"},
			"plain",
		},
	}
	got := diagnose.Redact(input)

	items, ok := got["items"].([]interface{})
	if !ok || len(items) != 2 {
		t.Fatal("expected items slice to be preserved")
	}
	first, ok := items[0].(map[string]interface{})
	if !ok {
		t.Fatal("expected map inside slice")
	}
	if first["token"] != diagnose.RedactionMarker {
		t.Errorf("items[0].token = %v, want marker", first["token"])
	}
	if first["name"] != "n" {
		t.Errorf("items[0].name = %v, want unchanged", first["name"])
	}
	if items[1] != "plain" {
		t.Errorf("items[1] = %v, want unchanged", items[1])
	}
}
