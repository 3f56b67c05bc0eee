package extract

import "fmt"

// Severity of an analysis message.
type Severity string

const (
	SeverityDebug   Severity = "debug"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
	// SeverityInternal marks a defect of a kernel configuration rather
	// than of the analyzed text.
	SeverityInternal Severity = "internal"
)

// Message is a note collected during extraction and analysis.
// Messages never abort an analysis.
type Message struct {
	Severity Severity `json:"severity"`
	Text     string   `json:"text"`
}

// Messages accumulates messages in the order they were raised.
type Messages []Message

func (m *Messages) Add(sev Severity, format string, args ...any) {
	*m = append(*m, Message{Severity: sev, Text: fmt.Sprintf(format, args...)})
}

// Count returns the number of messages of the given severity.
func (m Messages) Count(sev Severity) int {
	n := 0
	for _, msg := range m {
		if msg.Severity == sev {
			n++
		}
	}
	return n
}
