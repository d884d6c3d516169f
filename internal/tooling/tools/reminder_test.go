package tools

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/user/hatsuka/internal/tooling"
)

func fixedReminderTool(t *testing.T) (*ReminderTool, time.Time) {
	t.Helper()
	loc, err := time.LoadLocation("Asia/Taipei")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, loc)
	tool := NewReminderTool(loc)
	tool.now = func() time.Time { return now }
	return tool, now
}

func TestReminderRelativeTime(t *testing.T) {
	tool, now := fixedReminderTool(t)
	res := tool.Execute(context.Background(), map[string]any{
		"message":     "stretch",
		"target_time": "in 5 minutes",
	})
	if !res.Success {
		t.Fatalf("expected success, got %+v", res)
	}
	if res.SideEffect == nil {
		t.Fatal("expected reminder side effect")
	}
	want := now.Add(5 * time.Minute).UTC()
	if !res.SideEffect.FireAt.Equal(want) {
		t.Errorf("fire_at = %v, want %v", res.SideEffect.FireAt, want)
	}
	if res.SideEffect.Content != "stretch" {
		t.Errorf("content = %q", res.SideEffect.Content)
	}
}

func TestReminderISOTimeUsesConfiguredZone(t *testing.T) {
	tool, _ := fixedReminderTool(t)
	res := tool.Execute(context.Background(), map[string]any{
		"message":     "meeting",
		"target_time": "2025-06-01T15:30:00",
	})
	if !res.Success {
		t.Fatalf("expected success, got %+v", res)
	}
	// 15:30 Taipei is 07:30 UTC.
	want := time.Date(2025, 6, 1, 7, 30, 0, 0, time.UTC)
	if !res.SideEffect.FireAt.Equal(want) {
		t.Errorf("fire_at = %v, want %v", res.SideEffect.FireAt, want)
	}
}

func TestReminderRejectsPast(t *testing.T) {
	tool, _ := fixedReminderTool(t)
	res := tool.Execute(context.Background(), map[string]any{
		"message":     "too late",
		"target_time": "2025-06-01T11:00:00",
	})
	if res.Success {
		t.Fatal("expected past time rejected")
	}
	if res.SideEffect != nil {
		t.Error("no side effect expected on failure")
	}
	if !strings.Contains(res.Content, "未來") {
		t.Errorf("unexpected message: %q", res.Content)
	}
}

func TestReminderRejectsGarbage(t *testing.T) {
	tool, _ := fixedReminderTool(t)
	res := tool.Execute(context.Background(), map[string]any{
		"message":     "x",
		"target_time": "whenever you feel like it",
	})
	if res.Success || res.ErrorKind != tooling.ErrKindBadArgs {
		t.Fatalf("expected bad args, got %+v", res)
	}
}

func TestReminderMissingFields(t *testing.T) {
	tool, _ := fixedReminderTool(t)
	res := tool.Execute(context.Background(), map[string]any{"message": "x"})
	if res.Success || res.ErrorKind != tooling.ErrKindBadArgs {
		t.Fatalf("expected bad args, got %+v", res)
	}
}

func TestReminderCarriesExecContext(t *testing.T) {
	tool, _ := fixedReminderTool(t)
	ctx := tooling.WithExecContext(context.Background(), tooling.ExecContext{
		ChannelRef: "chan-9", UserRef: "user-7",
	})
	res := tool.Execute(ctx, map[string]any{
		"message":     "hi",
		"target_time": "in 1 hour",
	})
	if !res.Success {
		t.Fatalf("expected success, got %+v", res)
	}
	if res.SideEffect.ChannelRef != "chan-9" || res.SideEffect.UserRef != "user-7" {
		t.Errorf("exec context not carried: %+v", res.SideEffect)
	}
}
