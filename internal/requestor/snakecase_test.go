package requestor

import "testing"

func TestToSnakeCase(t *testing.T) {
	cases := map[string]string{
		"callSid":       "call_sid",
		"accountSid":    "account_sid",
		"alreadyFlat":   "already_flat",
		"env_vars":      "env_vars",
		"numDigits":     "num_digits",
	}
	for in, want := range cases {
		if got := toSnakeCase(in); got != want {
			t.Errorf("toSnakeCase(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSnakeCaseBodyPreservesExceptionKeys(t *testing.T) {
	input := map[string]any{
		"callSid": "abc",
		"customerData": map[string]any{
			"someCamelKey": "value",
		},
		"sip": map[string]any{
			"headerName": "value",
		},
		"nested": map[string]any{
			"innerCamel": "value",
		},
	}

	out := snakeCaseBody(input).(map[string]any)

	if _, ok := out["call_sid"]; !ok {
		t.Error("expected top-level key to be snake_cased")
	}

	customerData := out["customerData"].(map[string]any)
	if _, ok := customerData["someCamelKey"]; !ok {
		t.Error("expected customerData subtree to be preserved verbatim")
	}

	sip := out["sip"].(map[string]any)
	if _, ok := sip["headerName"]; !ok {
		t.Error("expected sip subtree to be preserved verbatim")
	}

	nested := out["nested"].(map[string]any)
	if _, ok := nested["inner_camel"]; !ok {
		t.Error("expected non-exception nested keys to be recursively snake_cased")
	}
}

func TestWantsAck(t *testing.T) {
	if WantsAck("call:status") {
		t.Error("call:status must not expect an ack")
	}
	if !WantsAck("verb:hook") {
		t.Error("verb:hook should expect an ack")
	}
}

func TestHasHookField(t *testing.T) {
	if !HasHookField("session:new") {
		t.Error("session:new should carry a hook field")
	}
	if HasHookField("llm:event") {
		t.Error("llm:event should not carry a hook field")
	}
}
