package tooling

import (
	"context"
	"testing"
	"time"

	"github.com/user/hatsuka/pkg/llm"
)

type slowTool struct {
	delay time.Duration
}

func (s *slowTool) Name() string               { return "slow" }
func (s *slowTool) Description() string        { return "sleeps" }
func (s *slowTool) Parameters() map[string]any { return map[string]any{"type": "object"} }
func (s *slowTool) Execute(ctx context.Context, _ map[string]any) Result {
	select {
	case <-time.After(s.delay):
		return Result{Success: true, Content: "done"}
	case <-ctx.Done():
		return Result{Success: false, Content: "interrupted", ErrorKind: ErrKindCancelled}
	}
}

type panicTool struct{}

func (p *panicTool) Name() string               { return "boom" }
func (p *panicTool) Description() string        { return "panics" }
func (p *panicTool) Parameters() map[string]any { return map[string]any{"type": "object"} }
func (p *panicTool) Execute(_ context.Context, _ map[string]any) Result {
	panic("kaboom")
}

func TestDispatchUnknownTool(t *testing.T) {
	r := NewRegistry()
	res := r.Dispatch(context.Background(), llm.ToolCall{Name: "ghost", TaskID: "t1"}, time.Second)
	if res.Success {
		t.Fatal("expected failure for unknown tool")
	}
	if res.ErrorKind != ErrKindUnknownTool {
		t.Errorf("expected unknown_tool kind, got %s", res.ErrorKind)
	}
	if res.TaskID != "t1" {
		t.Errorf("task id not propagated: %q", res.TaskID)
	}
}

func TestDispatchDisabledTool(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubTool{name: "off", result: Result{Success: true}}, false, 1)
	res := r.Dispatch(context.Background(), llm.ToolCall{Name: "off"}, time.Second)
	if res.Success || res.ErrorKind != ErrKindUnknownTool {
		t.Fatalf("expected disabled tool rejected, got %+v", res)
	}
}

func TestDispatchSuccess(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubTool{name: "ok", result: Result{Success: true, Content: "hi"}}, true, 1)
	res := r.Dispatch(context.Background(), llm.ToolCall{Name: "ok", TaskID: "t2"}, time.Second)
	if !res.Success || res.Content != "hi" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.ToolName != "ok" || res.TaskID != "t2" {
		t.Errorf("envelope fields not set: %+v", res)
	}
}

func TestDispatchTimeout(t *testing.T) {
	r := NewRegistry()
	r.Register(&slowTool{delay: 10 * time.Second}, true, 1)
	start := time.Now()
	res := r.Dispatch(context.Background(), llm.ToolCall{Name: "slow"}, time.Second)
	if res.Success {
		t.Fatal("expected timeout failure")
	}
	// minCallTimeout floors the budget at 2s.
	if elapsed := time.Since(start); elapsed > 4*time.Second {
		t.Errorf("dispatch took too long: %v", elapsed)
	}
}

func TestDispatchPanicAbsorbed(t *testing.T) {
	r := NewRegistry()
	r.Register(&panicTool{}, true, 1)
	res := r.Dispatch(context.Background(), llm.ToolCall{Name: "boom"}, time.Second)
	if res.Success || res.ErrorKind != ErrKindInternal {
		t.Fatalf("expected internal failure from panic, got %+v", res)
	}
}

func TestPerCallTimeout(t *testing.T) {
	if got := PerCallTimeout(30*time.Second, 3); got != 10*time.Second {
		t.Errorf("expected 10s, got %v", got)
	}
	if got := PerCallTimeout(3*time.Second, 10); got != minCallTimeout {
		t.Errorf("expected floor %v, got %v", minCallTimeout, got)
	}
	if got := PerCallTimeout(10*time.Second, 0); got != 10*time.Second {
		t.Errorf("expected full budget for zero calls, got %v", got)
	}
}
