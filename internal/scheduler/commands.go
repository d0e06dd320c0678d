package scheduler

import (
	"context"
	"strings"

	"TickerVault/internal/notifier"
)

// HandleCommand answers an operator chat command.
func (s *Scheduler) HandleCommand(ctx context.Context, command string) string {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return ""
	}
	switch fields[0] {
	case "/status":
		return notifier.FormatJobStatus(s.Status())
	case "/run":
		if len(fields) < 2 {
			return notifier.HelpText(s.order)
		}
		st, err := s.RunJobNow(ctx, fields[1])
		if err != nil {
			return "❌ " + err.Error()
		}
		return notifier.FormatJobResult(st, nil)
	default:
		return notifier.HelpText(s.order)
	}
}
