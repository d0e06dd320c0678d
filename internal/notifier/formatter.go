package notifier

import (
	"fmt"
	"strings"
	"time"

	"TickerVault/internal/model"
)

// FormatJobResult formats a finished job run, listing failed symbols.
func FormatJobResult(st model.JobStatus, failed []model.SymbolResult) string {
	var b strings.Builder

	icon := "✅"
	switch {
	case st.LastStatus == string(model.StatusError):
		icon = "❌"
	case len(failed) > 0:
		icon = "⚠️"
	}
	b.WriteString(fmt.Sprintf("%s <b>%s</b> | %s\n\n", icon, escape(st.Name), st.LastStatus))
	if st.LastMessage != "" {
		b.WriteString(escape(st.LastMessage) + "\n")
	}
	if st.LastDuration > 0 {
		b.WriteString(fmt.Sprintf("Duration: %s\n", st.LastDuration.Round(time.Second)))
	}

	if len(failed) > 0 {
		b.WriteString(fmt.Sprintf("\n<b>Failed symbols (%d):</b>\n", len(failed)))
		for i, r := range failed {
			if i == 10 {
				b.WriteString(fmt.Sprintf("  … and %d more\n", len(failed)-i))
				break
			}
			b.WriteString(fmt.Sprintf("  %s/%s: %s\n", r.Region, r.Symbol, escape(clip(r.Error, 120))))
		}
	}
	return b.String()
}

// FormatJobStatus formats the job list for the /status command.
func FormatJobStatus(jobs []model.JobStatus) string {
	var b strings.Builder
	b.WriteString("🗓 <b>Jobs</b>\n\n")
	for _, j := range jobs {
		state := "idle"
		switch {
		case j.Running:
			state = "running"
		case !j.Enabled:
			state = "disabled"
		}
		b.WriteString(fmt.Sprintf("<b>%s</b> (%s) %s\n", j.ID, j.Schedule, state))
		if j.LastRun != nil {
			b.WriteString(fmt.Sprintf("  last: %s %s", j.LastRun.Format("2006-01-02 15:04"), j.LastStatus))
			if j.LastMessage != "" {
				b.WriteString(" · " + escape(j.LastMessage))
			}
			b.WriteString("\n")
		}
		if j.NextRun != nil {
			b.WriteString(fmt.Sprintf("  next: %s\n", j.NextRun.Format("2006-01-02 15:04 MST")))
		}
	}
	return b.String()
}

// HelpText lists the chat commands.
func HelpText(jobIDs []string) string {
	return "Available commands:\n• /status\n• /run &lt;job&gt; (" + strings.Join(jobIDs, ", ") + ")"
}

func escape(s string) string {
	r := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	return r.Replace(s)
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
