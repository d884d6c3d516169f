// Package tooling declares the tool interface, the registry, and the
// parallel dispatch discipline used by the orchestrator's Execute node.
package tooling

import (
	"context"
	"time"

	"github.com/user/hatsuka/pkg/llm"
)

// ErrorKind categorizes tool failures inside a result envelope.
type ErrorKind string

const (
	ErrKindTimeout     ErrorKind = "timeout"
	ErrKindBadArgs     ErrorKind = "bad_arguments"
	ErrKindNetwork     ErrorKind = "network"
	ErrKindInternal    ErrorKind = "internal"
	ErrKindCancelled   ErrorKind = "cancelled"
	ErrKindUnknownTool ErrorKind = "unknown_tool"
)

// ExecContext carries per-invocation references a tool may need.
type ExecContext struct {
	ChannelRef string
	UserRef    string
	GuildRef   string
}

type execContextKey struct{}

// WithExecContext attaches an ExecContext to ctx.
func WithExecContext(ctx context.Context, ec ExecContext) context.Context {
	return context.WithValue(ctx, execContextKey{}, ec)
}

// ExecContextFrom extracts the ExecContext from ctx, zero when absent.
func ExecContextFrom(ctx context.Context) ExecContext {
	if ec, ok := ctx.Value(execContextKey{}).(ExecContext); ok {
		return ec
	}
	return ExecContext{}
}

// ReminderDetails is the side effect emitted by the reminder tool. The tool
// never schedules; the orchestrator hands this to the event scheduler.
type ReminderDetails struct {
	Content    string    `json:"content"`
	FireAt     time.Time `json:"fire_at"`
	ChannelRef string    `json:"channel_ref"`
	UserRef    string    `json:"user_ref"`
	CreatedAt  time.Time `json:"created_at"`
}

// Result is the envelope every tool execution produces. Tool-level failure
// is Success=false with an ErrorKind, never a Go error from Dispatch.
type Result struct {
	TaskID     string
	ToolName   string
	Success    bool
	Content    string
	ErrorKind  ErrorKind
	Sources    []llm.Source
	SideEffect *ReminderDetails
}

// Tool is an executable capability advertised to the planner model.
type Tool interface {
	Name() string
	Description() string
	// Parameters returns a JSON-schema-shaped argument description.
	Parameters() map[string]any
	// Execute runs the tool. Failures are reported inside the Result.
	Execute(ctx context.Context, args map[string]any) Result
}
