package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/bowerhall/mira/internal/llm"
)

func RegisterTimeTools(registry *Registry, timezone *time.Location) {
	registerTimeTools(registry, timezone, time.Now)
}

func registerTimeTools(registry *Registry, timezone *time.Location, now func() time.Time) {
	if timezone == nil {
		timezone = time.UTC
	}

	timeTool := llm.Tool{
		Name:        "current_time",
		Description: "Get the current date and time. Use this when the user refers to relative dates or asks how long ago something in the conversation happened.",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
	}

	registry.Register(timeTool, func(ctx context.Context, args string) (string, error) {
		t := now().In(timezone)
		_, week := t.ISOWeek()

		return fmt.Sprintf(`Current time: %s
Date: %s
Day: %s
Week: %d
Timezone: %s`,
			t.Format("15:04:05"),
			t.Format("2006-01-02"),
			t.Format("Monday"),
			week,
			timezone.String(),
		), nil
	})
}
