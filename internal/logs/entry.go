package logs

import (
	"encoding/json"
	"strings"

	"tractkit/internal/logging"
)

// Entry is one decoded log record.
type Entry struct {
	Time      string `json:"ts"`
	Level     string `json:"level"`
	Message   string `json:"msg"`
	Component string `json:"component"`
	Stage     string `json:"stage"`
	Subject   string `json:"subject"`
	RunID     string `json:"run_id"`
	EventType string `json:"event_type"`
	Error     string `json:"error"`
}

// Parse decodes a JSON log line. Lines that are not JSON objects are rejected.
func Parse(line string) (Entry, bool) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "{") {
		return Entry{}, false
	}
	var entry Entry
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		return Entry{}, false
	}
	return entry, true
}

// Filter selects entries. Empty fields match everything; Level is a minimum.
type Filter struct {
	RunID   string
	Stage   string
	Subject string
	Level   string
}

// Match reports whether entry passes the filter.
func (f Filter) Match(entry Entry) bool {
	if f.RunID != "" && entry.RunID != f.RunID {
		return false
	}
	if f.Stage != "" && entry.Stage != f.Stage {
		return false
	}
	if f.Subject != "" && entry.Subject != f.Subject {
		return false
	}
	if f.Level != "" && levelRank(entry.Level) < levelRank(f.Level) {
		return false
	}
	return true
}

func levelRank(level string) int {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return 0
	case "warn", "warning":
		return 2
	case "error":
		return 3
	default:
		return 1
	}
}

// Format renders an entry as a single console line.
func Format(entry Entry) string {
	var b strings.Builder
	b.WriteString(entry.Time)
	b.WriteString(" ")
	b.WriteString(strings.ToUpper(entry.Level))
	for _, field := range []struct{ key, value string }{
		{logging.FieldComponent, entry.Component},
		{logging.FieldStage, entry.Stage},
		{logging.FieldSubject, entry.Subject},
	} {
		if field.value != "" {
			b.WriteString(" [")
			b.WriteString(field.value)
			b.WriteString("]")
		}
	}
	b.WriteString(" ")
	b.WriteString(entry.Message)
	if entry.Error != "" {
		b.WriteString(": ")
		b.WriteString(entry.Error)
	}
	return b.String()
}
