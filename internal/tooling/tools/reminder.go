package tools

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/user/hatsuka/internal/tooling"
)

// ReminderTool parses a time phrase and emits a ReminderDetails side
// effect. It never schedules anything itself.
type ReminderTool struct {
	location *time.Location
	now      func() time.Time
}

// NewReminderTool creates the reminder tool bound to the configured
// timezone.
func NewReminderTool(location *time.Location) *ReminderTool {
	return &ReminderTool{location: location, now: time.Now}
}

func (t *ReminderTool) Name() string { return "set_reminder" }

func (t *ReminderTool) Description() string {
	return "根據使用者提供的訊息和時間設定提醒。時間可為 ISO 8601 格式 (2024-07-26T10:00:00) 或相對時間 (in 5 minutes)。"
}

func (t *ReminderTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"message": map[string]any{
				"type":        "string",
				"description": "The reminder message content",
			},
			"target_time": map[string]any{
				"type":        "string",
				"description": "Target time: ISO 8601 (YYYY-MM-DDTHH:MM:SS) or relative like 'in 5 minutes'",
			},
		},
		"required": []any{"message", "target_time"},
	}
}

// Execute validates the request and returns the reminder side effect.
// Channel and user references come from the execution context.
func (t *ReminderTool) Execute(ctx context.Context, args map[string]any) tooling.Result {
	message, _ := args["message"].(string)
	when, _ := args["target_time"].(string)
	if message == "" || when == "" {
		return tooling.Result{Success: false, Content: "message 和 target_time 為必填", ErrorKind: tooling.ErrKindBadArgs}
	}

	now := t.now().In(t.location)
	fireAt, err := t.parseWhen(when, now)
	if err != nil {
		return tooling.Result{
			Success:   false,
			Content:   fmt.Sprintf("無效的時間格式: %v。請使用 ISO 8601 (YYYY-MM-DDTHH:MM:SS) 或相對時間。", err),
			ErrorKind: tooling.ErrKindBadArgs,
		}
	}
	if !fireAt.After(now) {
		return tooling.Result{
			Success:   false,
			Content:   "提醒時間必須為未來時間。請提供一個晚於現在的時間。",
			ErrorKind: tooling.ErrKindBadArgs,
		}
	}

	ec := tooling.ExecContextFrom(ctx)
	return tooling.Result{
		Success: true,
		Content: fmt.Sprintf("提醒已成功設定：%s，時間：%s，跟使用者講你設定好了!", message, fireAt.Format("2006年01月02日 15:04:05")),
		SideEffect: &tooling.ReminderDetails{
			Content:    message,
			FireAt:     fireAt.UTC(),
			ChannelRef: ec.ChannelRef,
			UserRef:    ec.UserRef,
			CreatedAt:  now.UTC(),
		},
	}
}

var relativePattern = regexp.MustCompile(`(?i)^in\s+(\d+)\s+(second|minute|hour|day)s?$`)

// parseWhen accepts ISO 8601 timestamps (interpreted in the configured
// timezone when no offset is present) and simple relative phrases.
func (t *ReminderTool) parseWhen(when string, now time.Time) (time.Time, error) {
	when = strings.TrimSpace(when)

	if m := relativePattern.FindStringSubmatch(when); m != nil {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			return time.Time{}, fmt.Errorf("parse amount: %w", err)
		}
		var unit time.Duration
		switch strings.ToLower(m[2]) {
		case "second":
			unit = time.Second
		case "minute":
			unit = time.Minute
		case "hour":
			unit = time.Hour
		case "day":
			unit = 24 * time.Hour
		}
		return now.Add(time.Duration(n) * unit), nil
	}

	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05", "2006-01-02T15:04"} {
		if ts, err := time.ParseInLocation(layout, when, t.location); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q", when)
}
