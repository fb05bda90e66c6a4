package tool

import (
	"context"
	"strings"
	"testing"

	"go.uber.org/zap"

	domaintool "github.com/nexchat/gateway/internal/domain/tool"
	domainErrors "github.com/nexchat/gateway/pkg/errors"
)

func TestRegistry_RegisterAndValidate(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	plugin := okPlugin("greet")
	plugin.schema = map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"name": map[string]interface{}{"type": "string"},
			"age":  map[string]interface{}{"type": "integer", "minimum": 0},
		},
		"required": []interface{}{"name"},
	}
	if err := r.Register(plugin, domaintool.DefaultSettings()); err != nil {
		t.Fatalf("register: %v", err)
	}

	if err := r.Validate("greet", map[string]interface{}{"name": "wang", "age": 3}); err != nil {
		t.Fatalf("valid params rejected: %v", err)
	}
	if err := r.Validate("greet", map[string]interface{}{"age": 3}); err == nil {
		t.Fatal("missing required field should fail validation")
	}
	if err := r.Validate("greet", map[string]interface{}{"name": "wang", "age": -1}); err == nil {
		t.Fatal("minimum violation should fail validation")
	}
}

func TestRegistry_RejectsDuplicate(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	if err := r.Register(okPlugin("dup"), domaintool.DefaultSettings()); err != nil {
		t.Fatalf("first register: %v", err)
	}
	err := r.Register(okPlugin("dup"), domaintool.DefaultSettings())
	if err == nil {
		t.Fatal("duplicate registration must fail")
	}
	if !domainErrors.IsInvalidInput(err) && !strings.Contains(err.Error(), "dup") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRegistry_RejectsBadSchema(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	plugin := okPlugin("broken")
	plugin.schema = map[string]interface{}{
		"type": 42, // type 必须是字符串或数组
	}
	if err := r.Register(plugin, domaintool.DefaultSettings()); err == nil {
		t.Fatal("invalid schema must be rejected at registration")
	}
}

func TestRegistry_DefinitionsOnlyEnabled(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	if err := r.Register(okPlugin("b_tool"), domaintool.DefaultSettings()); err != nil {
		t.Fatalf("register: %v", err)
	}
	disabled := domaintool.DefaultSettings()
	disabled.Enabled = false
	if err := r.Register(okPlugin("a_tool"), disabled); err != nil {
		t.Fatalf("register: %v", err)
	}

	defs := r.Definitions()
	if len(defs) != 1 || defs[0].Name != "b_tool" {
		t.Fatalf("unexpected definitions: %+v", defs)
	}
}

func TestRegistry_ApplySettings(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	if err := r.Register(okPlugin("tunable"), domaintool.DefaultSettings()); err != nil {
		t.Fatalf("register: %v", err)
	}

	updated := domaintool.DefaultSettings()
	updated.RateLimit = &domaintool.RateLimitSettings{MaxConcurrent: 7}
	if err := r.ApplySettings("tunable", updated); err != nil {
		t.Fatalf("apply settings: %v", err)
	}

	got, ok := r.SettingsFor("tunable")
	if !ok || got.RateLimit == nil || got.RateLimit.MaxConcurrent != 7 {
		t.Fatalf("settings not applied: %+v", got)
	}

	if err := r.ApplySettings("missing", updated); err == nil {
		t.Fatal("applying settings to unknown plugin must fail")
	}
}

func TestRegistry_Unregister(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	if err := r.Register(okPlugin("gone"), domaintool.DefaultSettings()); err != nil {
		t.Fatalf("register: %v", err)
	}
	r.Unregister("gone")
	if _, ok := r.Get("gone"); ok {
		t.Fatal("unregistered plugin should not resolve")
	}
}

func TestCurrentTimePlugin(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	plugin := NewCurrentTimePlugin()
	if err := r.Register(plugin, domaintool.DefaultSettings()); err != nil {
		t.Fatalf("register: %v", err)
	}

	result, err := plugin.Execute(context.Background(), map[string]interface{}{"timezone": "UTC"}, domaintool.ExecContext{})
	if err != nil || !result.Success {
		t.Fatalf("execute: %v %+v", err, result)
	}
	data := result.Data.(map[string]interface{})
	if data["timezone"] != "UTC" {
		t.Fatalf("unexpected timezone: %v", data["timezone"])
	}

	bad, err := plugin.Execute(context.Background(), map[string]interface{}{"timezone": "Mars/Olympus"}, domaintool.ExecContext{})
	if err != nil || bad.Success {
		t.Fatal("unknown timezone should produce a failed result")
	}
}

func TestDateDiffPlugin(t *testing.T) {
	plugin := NewDateDiffPlugin()
	result, err := plugin.Execute(context.Background(), map[string]interface{}{
		"from": "2024-01-01",
		"to":   "2024-01-11",
	}, domaintool.ExecContext{})
	if err != nil || !result.Success {
		t.Fatalf("execute: %v %+v", err, result)
	}
	data := result.Data.(map[string]interface{})
	if data["days"] != 10 {
		t.Fatalf("days = %v, want 10", data["days"])
	}
}
