package service

import "testing"

func TestToolFlowIterationLimit(t *testing.T) {
	f := NewToolFlow(ToolFlowConfig{MaxIterations: 3, MaxConsecutiveErrors: 2})

	for i := 0; i < 3; i++ {
		if err := f.Begin(); err != nil {
			t.Fatalf("iteration %d unexpectedly blocked: %v", i+1, err)
		}
		f.RecordSuccess("web_search")
	}
	if err := f.Begin(); err == nil {
		t.Error("fourth iteration should exceed the limit")
	}
	if f.Iterations() != 3 {
		t.Errorf("iterations = %d, want 3", f.Iterations())
	}
}

func TestToolFlowConsecutiveErrors(t *testing.T) {
	f := NewToolFlow(DefaultToolFlowConfig())

	_ = f.Begin()
	f.RecordError("web_search")
	if f.ShouldAbort() {
		t.Error("single error should not abort")
	}

	_ = f.Begin()
	f.RecordError("web_search")
	if !f.ShouldAbort() {
		t.Error("two consecutive errors should abort")
	}
}

func TestToolFlowSuccessResetsErrors(t *testing.T) {
	f := NewToolFlow(DefaultToolFlowConfig())

	_ = f.Begin()
	f.RecordError("a")
	_ = f.Begin()
	f.RecordSuccess("b")
	_ = f.Begin()
	f.RecordError("c")

	if f.ShouldAbort() {
		t.Error("success in between should reset the consecutive counter")
	}
	if got := len(f.Executed()); got != 3 {
		t.Errorf("executed = %d tools, want 3", got)
	}
}
