package governance

import (
	"context"
	"testing"
)

func TestDefaultPolicyEngine_Evaluate(t *testing.T) {
	engine := NewDefaultPolicyEngine()
	ctx := context.Background()

	// Allow by default
	res1, err := engine.Evaluate(ctx, Request{Capability: "search"})
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if res1.Effect != EffectAllow {
		t.Errorf("Expected EffectAllow, got %s", res1.Effect)
	}

	// Deny by name
	engine.DenyCapability("shell")
	res2, err := engine.Evaluate(ctx, Request{Capability: "shell"})
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if res2.Effect != EffectDeny {
		t.Errorf("Expected EffectDeny, got %s", res2.Effect)
	}
}

func TestDefaultPolicyEngine_DenyArguments(t *testing.T) {
	engine := NewDefaultPolicyEngine()
	if err := engine.DenyArguments(`rm\s+-rf`); err != nil {
		t.Fatalf("DenyArguments failed: %v", err)
	}

	res, err := engine.Evaluate(context.Background(), Request{
		Capability: "terminal",
		Params:     map[string]any{"command": "rm -rf /"},
	})
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if res.Allowed() {
		t.Errorf("Expected deny for destructive command, got %s", res.Reason)
	}

	if err := engine.DenyArguments("("); err == nil {
		t.Errorf("Expected error for invalid pattern")
	}
}

func TestDefaultPolicyEngine_DenyWhen(t *testing.T) {
	engine := NewDefaultPolicyEngine()
	if err := engine.DenyWhen(`capability == "filesystem" && params.command == "delete"`); err != nil {
		t.Fatalf("DenyWhen failed: %v", err)
	}
	if err := engine.DenyWhen(`origin == "discord" && capability == "terminal"`); err != nil {
		t.Fatalf("DenyWhen failed: %v", err)
	}
	ctx := context.Background()

	cases := []struct {
		req   Request
		allow bool
	}{
		{Request{Capability: "filesystem", Params: map[string]any{"command": "delete", "path": "x"}}, false},
		{Request{Capability: "filesystem", Params: map[string]any{"command": "read", "path": "x"}}, true},
		// Missing key errors at runtime and therefore does not match.
		{Request{Capability: "filesystem"}, true},
		{Request{Capability: "terminal", Origin: "discord"}, false},
		{Request{Capability: "terminal", Origin: "engine"}, true},
	}
	for i, c := range cases {
		res, err := engine.Evaluate(ctx, c.req)
		if err != nil {
			t.Fatalf("case %d: Evaluate failed: %v", i, err)
		}
		if res.Allowed() != c.allow {
			t.Errorf("case %d: expected allow=%v, got %s (%s)", i, c.allow, res.Effect, res.Reason)
		}
	}
}

func TestRuleSet_RejectsNonBool(t *testing.T) {
	rs, err := NewRuleSet()
	if err != nil {
		t.Fatalf("NewRuleSet failed: %v", err)
	}
	if err := rs.Add(`capability + "x"`); err == nil {
		t.Errorf("Expected error for non-bool rule")
	}
	if err := rs.Add(`capability ==`); err == nil {
		t.Errorf("Expected compile error")
	}
	if rs.Len() != 0 {
		t.Errorf("Expected no rules, got %d", rs.Len())
	}
}

func TestRequest_ArgumentsStable(t *testing.T) {
	req := Request{Params: map[string]any{"b": 2, "a": "x"}}
	if got := req.Arguments(); got != "a=x b=2" {
		t.Errorf("unexpected arguments rendering: %q", got)
	}
}
