package extract

import (
	"sort"
	"strconv"
	"strings"

	"github.com/leptonai/oomanalyzer/pkg/kernelconfig"
	"github.com/leptonai/oomanalyzer/pkg/oom/logblock"
)

const (
	columnPID   = "pid"
	columnName  = "name"
	columnNotes = "notes"
	columnRSS   = "rss_pages"
)

// Process is one row of the process table. Values holds the numeric
// columns of the release layout, e.g. "rss_pages" or "pgtables_bytes".
type Process struct {
	PID    int              `json:"pid"`
	Name   string           `json:"name"`
	Notes  string           `json:"notes"`
	Values map[string]int64 `json:"values"`
}

// RSSPages returns the resident set size in pages.
func (p Process) RSSPages() int64 { return p.Values[columnRSS] }

// ProcessTable is the "[ pid ]" table of the OOM block in ascending PID
// order. A PID listed twice keeps its last row.
type ProcessTable struct {
	Columns   []string  `json:"columns"`
	Headers   []string  `json:"headers"`
	Processes []Process `json:"processes"`
}

// Len returns the number of processes.
func (t *ProcessTable) Len() int { return len(t.Processes) }

// PIDs returns the PIDs in ascending order.
func (t *ProcessTable) PIDs() []int {
	pids := make([]int, len(t.Processes))
	for i, p := range t.Processes {
		pids[i] = p.PID
	}
	return pids
}

// Get returns the process with the given PID.
func (t *ProcessTable) Get(pid int) (*Process, bool) {
	i := sort.Search(len(t.Processes), func(i int) bool { return t.Processes[i].PID >= pid })
	if i < len(t.Processes) && t.Processes[i].PID == pid {
		return &t.Processes[i], true
	}
	return nil, false
}

// SetNotes sets the notes of a process, it is a no-op for unknown PIDs.
func (t *ProcessTable) SetNotes(pid int, notes string) bool {
	p, ok := t.Get(pid)
	if !ok {
		return false
	}
	p.Notes = notes
	return true
}

// TotalRSSPages sums the RSS of all rows. Threads of one process are
// listed with their own PID, so this overestimates the memory in use.
func (t *ProcessTable) TotalRSSPages() int64 {
	var total int64
	for _, p := range t.Processes {
		total += p.RSSPages()
	}
	return total
}

// extractProcessTable parses the rows following the table header until
// the first line not starting with "[".
func extractProcessTable(cfg *kernelconfig.Config, b *logblock.Block, msgs *Messages) *ProcessTable {
	layout := cfg.ProcessTable()
	t := &ProcessTable{
		Columns: layout.Columns,
		Headers: layout.Headers,
	}

	start := cfg.Markers().ProcessTableStart
	idx := b.Index(start, 0)
	if idx < 0 {
		msgs.Add(SeverityDebug, "Process table header %q not found", start)
		return t
	}

	re := cfg.ProcessLine()
	rows := make(map[int]Process)
	for i := idx + 1; i < b.Len(); i++ {
		line := b.Line(i)
		if !strings.HasPrefix(line, "[") {
			break
		}
		if strings.HasPrefix(line, start) {
			continue
		}
		m := re.FindStringSubmatchIndex(line)
		if m == nil {
			continue
		}
		group := func(name string) (string, bool) {
			j := re.SubexpIndex(name)
			if j < 0 || m[2*j] < 0 {
				return "", false
			}
			return line[m[2*j]:m[2*j+1]], true
		}

		rawPID, _ := group(columnPID)
		pid, err := strconv.Atoi(strings.TrimSpace(rawPID))
		if err != nil {
			msgs.Add(SeverityError, `Converting process parameter "%s=%s" to integer failed`, columnPID, rawPID)
			continue
		}

		p := Process{PID: pid, Values: make(map[string]int64)}
		name, _ := group(columnName)
		p.Name = strings.TrimSpace(name)
		for _, col := range layout.Columns {
			if !layout.IsNumeric(col) {
				continue
			}
			raw, ok := group(col)
			if !ok {
				msgs.Add(SeverityError, `Converting process parameter "%s=%s" to integer failed`, col, "<not in process table>")
				continue
			}
			v, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
			if err != nil {
				msgs.Add(SeverityError, `Converting process parameter "%s=%s" to integer failed`, col, raw)
				continue
			}
			p.Values[col] = v
		}
		rows[pid] = p
	}

	t.Processes = make([]Process, 0, len(rows))
	for _, p := range rows {
		t.Processes = append(t.Processes, p)
	}
	sort.Slice(t.Processes, func(i, j int) bool { return t.Processes[i].PID < t.Processes[j].PID })
	return t
}
