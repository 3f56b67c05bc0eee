// Package logblock turns raw kernel log text into the canonical line
// sequence of one OOM killer block.
//
// Captures come from dmesg, syslog files, rsyslog (LF escaped as "#012")
// and journalctl (continuation lines indented instead of prefixed). All of
// them are reduced to the bare kernel message lines, starting with the
// "invoked oom-killer:" line.
package logblock

import (
	"regexp"
	"strconv"
	"strings"
)

// State is the result of the first inspection of the text.
type State string

const (
	// StateEmpty is text with nothing but whitespace.
	StateEmpty State = "empty"
	// StateInvalid is text without the "invoked oom-killer:" line.
	StateInvalid State = "invalid"
	// StateStarted is a block whose start was found but not its end.
	StateStarted State = "started"
	// StateComplete is a block containing the "Killed process" line.
	StateComplete State = "complete"
)

const (
	markerBegin      = "invoked oom-killer:"
	markerKilled     = "Killed process"
	markerReaper     = "oom_reaper"
	markerCPU        = "CPU: "
	markerKernel     = "kernel:"
	rsyslogLineBreak = "#012"
)

// journalctl breaks the Mem-Info lines and indents the continuation
// with spaces instead of repeating the date, host and tag columns.
var reJournalctlContinuation = regexp.MustCompile(`^\s+ (active_file|unevictable|slab_reclaimable|mapped|sec_pagetables|kernel_misc_reclaimable|free):.+$`)

// e.g. "[  123.456789]" as printed before the uptime reaches 1000 s
var reKernelTimestamp = regexp.MustCompile(`\[\s+(\d+\.\d+)\]`)

// Block is a normalized OOM block. It is immutable.
type Block struct {
	state       State
	lines       []string
	text        string
	colsToStrip int
}

// Normalize cleans raw log text. It never fails, the outcome is reported
// by State. Empty and invalid text is kept as is, only trimmed.
func Normalize(raw string) *Block {
	text := strings.TrimSpace(strings.ReplaceAll(raw, "\r\n", "\n"))
	b := &Block{
		lines: strings.Split(text, "\n"),
		text:  text,
	}

	switch {
	case text == "":
		b.state = StateEmpty
		b.lines = nil
		return b
	case !strings.Contains(text, markerBegin):
		b.state = StateInvalid
		return b
	}

	lines := keepOOMLines(b.lines)
	lines = removeKernelColon(lines)
	lines = collapseTimestamps(lines)
	b.colsToStrip = columnsToStrip(lines)
	lines = expandJournalctlContinuations(lines, b.colsToStrip)
	lines = stripColumns(lines, b.colsToStrip)
	lines = splitRsyslogLineBreaks(lines)

	b.lines = lines
	b.text = strings.Join(lines, "\n")

	if strings.Contains(text, markerKilled) {
		b.state = StateComplete
	} else {
		b.state = StateStarted
	}
	return b
}

// keepOOMLines drops everything before the first "invoked oom-killer:"
// line and after the first "Killed process" line following it. The line right after it is
// kept only when it is the oom_reaper report.
func keepOOMLines(lines []string) []string {
	var (
		kept   []string
		inOOM  bool
		killed bool
	)
	for _, line := range lines {
		if strings.Contains(line, markerBegin) {
			inOOM = true
		}
		if killed {
			if strings.Contains(line, markerReaper) {
				kept = append(kept, line)
			}
			break
		}
		if inOOM {
			kept = append(kept, line)
		}
		if inOOM && strings.Contains(line, markerKilled) {
			killed = true
		}
	}
	return kept
}

// Some syslog daemons write "kernel:" without a trailing space, which
// would glue it to the first message column.
func removeKernelColon(lines []string) []string {
	out := make([]string, len(lines))
	for i, line := range lines {
		out[i] = strings.ReplaceAll(line, markerKernel, "")
	}
	return out
}

// collapseTimestamps removes the padding of the first kernel timestamp of
// every line. The padding shrinks as the uptime grows, a block written
// around 1000 s or 10000 s would otherwise have a varying column count.
func collapseTimestamps(lines []string) []string {
	out := make([]string, len(lines))
	for i, line := range lines {
		loc := reKernelTimestamp.FindStringSubmatchIndex(line)
		if loc == nil {
			out[i] = line
			continue
		}
		out[i] = line[:loc[0]] + "[" + line[loc[2]:loc[3]] + "]" + line[loc[1]:]
	}
	return out
}

// columnsToStrip counts the space separated columns left of "CPU:" in
// the first line reporting the CPU, e.g. 5 for
//
//	Apr 01 14:13:32 mysrv [11686.888109] CPU: 4 PID: 29481 Comm: sed Not tainted 3.10.0-514.6.1.el7.x86_64 #1
func columnsToStrip(lines []string) int {
	if len(lines) == 0 {
		return 0
	}
	line := lines[0]
	for _, l := range lines {
		if strings.Contains(l, markerCPU) {
			line = l
			break
		}
	}
	for i, col := range strings.Split(line, " ") {
		if col == "CPU:" {
			return i
		}
	}
	return 0
}

// expandJournalctlContinuations puts placeholder columns in front of the
// indented continuation lines so that stripColumns treats them like every
// other line. The leading space of the message is preserved.
func expandJournalctlContinuations(lines []string, cols int) []string {
	var prefix strings.Builder
	for i := 0; i < cols; i++ {
		prefix.WriteString("Col")
		prefix.WriteString(strconv.Itoa(i))
		prefix.WriteString(" ")
	}

	out := make([]string, len(lines))
	for i, line := range lines {
		if reJournalctlContinuation.MatchString(line) {
			line = prefix.String() + " " + strings.TrimSpace(line)
		}
		out[i] = line
	}
	return out
}

// stripColumns removes cols leading single space separated columns from
// every line and drops the empty lines.
func stripColumns(lines []string, cols int) []string {
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		if cols > 0 {
			parts := strings.SplitN(line, " ", cols+1)
			line = parts[len(parts)-1]
		}
		out = append(out, line)
	}
	return out
}

// rsyslog escapes the LF inside a kernel message as "#012".
func splitRsyslogLineBreaks(lines []string) []string {
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		if strings.Contains(line, rsyslogLineBreak) {
			out = append(out, strings.Split(line, rsyslogLineBreak)...)
			continue
		}
		out = append(out, line)
	}
	return out
}

// State returns the state of the block.
func (b *Block) State() State { return b.state }

// Text returns the normalized lines joined by LF.
func (b *Block) Text() string { return b.text }

// Len returns the number of lines.
func (b *Block) Len() int { return len(b.lines) }

// Line returns the line at index i.
func (b *Block) Line(i int) string { return b.lines[i] }

// Lines returns a copy of the lines.
func (b *Block) Lines() []string {
	return append([]string(nil), b.lines...)
}

// ColumnsStripped returns the number of leading columns removed from
// every line.
func (b *Block) ColumnsStripped() int { return b.colsToStrip }

// Index returns the index of the first line at or after from that
// contains substr, or -1.
func (b *Block) Index(substr string, from int) int {
	if from < 0 {
		from = 0
	}
	for i := from; i < len(b.lines); i++ {
		if strings.Contains(b.lines[i], substr) {
			return i
		}
	}
	return -1
}
