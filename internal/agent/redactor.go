package agent

import "github.com/webwraith/wraith/internal/redact"

// traceRedactor is the Redactor wired into collectors when a run asks for
// secret redaction.
func traceRedactor(v any) any {
	return redact.Value(v)
}
