package tooling

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/user/hatsuka/pkg/llm"
)

// minCallTimeout floors the per-call budget derived from the round budget.
const minCallTimeout = 2 * time.Second

// Dispatch executes one tool call with the given per-call timeout. Any
// failure, including a panic inside Execute, becomes a Result with
// Success=false and a categorized error kind.
func (r *Registry) Dispatch(ctx context.Context, call llm.ToolCall, timeout time.Duration) Result {
	decl, ok := r.Get(call.Name)
	if !ok || !decl.Enabled {
		return Result{
			TaskID:    call.TaskID,
			ToolName:  call.Name,
			Success:   false,
			Content:   fmt.Sprintf("unknown or disabled tool %q", call.Name),
			ErrorKind: ErrKindUnknownTool,
		}
	}

	if timeout < minCallTimeout {
		timeout = minCallTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan Result, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				slog.Warn("tool panicked", "tool", call.Name, "panic", rec)
				done <- Result{
					TaskID:    call.TaskID,
					ToolName:  call.Name,
					Success:   false,
					Content:   fmt.Sprintf("tool %s panicked: %v", call.Name, rec),
					ErrorKind: ErrKindInternal,
				}
			}
		}()
		res := decl.Tool.Execute(callCtx, call.Arguments)
		res.TaskID = call.TaskID
		res.ToolName = call.Name
		done <- res
	}()

	select {
	case res := <-done:
		return res
	case <-callCtx.Done():
		kind := ErrKindTimeout
		if ctx.Err() != nil {
			kind = ErrKindCancelled
		}
		return Result{
			TaskID:    call.TaskID,
			ToolName:  call.Name,
			Success:   false,
			Content:   fmt.Sprintf("tool %s did not finish: %v", call.Name, callCtx.Err()),
			ErrorKind: kind,
		}
	}
}

// PerCallTimeout divides the remaining round budget across calls, floored
// at minCallTimeout.
func PerCallTimeout(roundBudget time.Duration, calls int) time.Duration {
	if calls <= 0 {
		calls = 1
	}
	d := roundBudget / time.Duration(calls)
	if d < minCallTimeout {
		return minCallTimeout
	}
	return d
}
