// Package report renders an analysis result as plain text tables.
package report

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"

	"github.com/leptonai/oomanalyzer/pkg/oom/analyzer"
	"github.com/leptonai/oomanalyzer/pkg/oom/extract"
)

// DefaultTopProcesses is the number of process table rows shown.
const DefaultTopProcesses = 10

var explanations = map[analyzer.Classification]string{
	analyzer.NotStarted:              "The allocation failure was not analyzed.",
	analyzer.MissingData:             "The allocation failure could not be analyzed, the OOM text lacks free area or watermark data.",
	analyzer.FailedBelowLowWatermark: "The free memory of the zone was at or below the low watermark plus the lowmem reserve.",
	analyzer.FailedNoFreeChunks:      "No free chunk of the requested order or higher was left in the zone.",
	analyzer.FailedUnknownReason:     "The watermarks were met and free chunks were left, the reason is unknown.",
	analyzer.SkippedHighOrder:        "The request is above PAGE_ALLOC_COSTLY_ORDER, such requests do not trigger the OOM killer.",
}

// Explain returns one sentence describing a classification.
func Explain(c analyzer.Classification) string {
	return explanations[c]
}

type Op struct {
	topProcesses int
	messages     bool
}

type OpOption func(*Op)

func (op *Op) applyOpts(opts []OpOption) {
	op.topProcesses = DefaultTopProcesses
	op.messages = true
	for _, opt := range opts {
		opt(op)
	}
}

// WithTopProcesses limits the process table to the n largest processes
// by RSS, 0 shows all of them.
func WithTopProcesses(n int) OpOption {
	return func(op *Op) {
		op.topProcesses = n
	}
}

// WithoutMessages hides the analysis messages.
func WithoutMessages() OpOption {
	return func(op *Op) {
		op.messages = false
	}
}

type section struct {
	title  string
	render func(io.Writer, *analyzer.Result)
}

// Write renders the result to wr.
func Write(wr io.Writer, res *analyzer.Result, opts ...OpOption) error {
	op := &Op{}
	op.applyOpts(opts)

	sections := []section{
		{"Summary", renderSummary},
		{"Trigger process", renderTrigger},
		{"Killed process", renderKilled},
		{"Memory", renderMemory},
		{"Swap", renderSwap},
		{"Watermarks", renderWatermarks},
		{"Processes", func(w io.Writer, r *analyzer.Result) { renderProcesses(w, r, op.topProcesses) }},
	}
	if op.messages && len(res.Messages) > 0 {
		sections = append(sections, section{"Messages", renderMessages})
	}

	for i, s := range sections {
		if i > 0 {
			if _, err := fmt.Fprintln(wr); err != nil {
				return err
			}
		}
		if _, err := fmt.Fprintf(wr, "### %s\n\n", s.title); err != nil {
			return err
		}
		s.render(wr, res)
	}
	return nil
}

// String is Write into a string with the default options.
func String(res *analyzer.Result) string {
	var sb strings.Builder
	_ = Write(&sb, res)
	return sb.String()
}

func kb(v int64) string {
	if v < 0 {
		return "-" + humanize.IBytes(uint64(-v)*1024)
	}
	return humanize.IBytes(uint64(v) * 1024)
}

func pages(v, pageSizeKB int64) string {
	return fmt.Sprintf("%s pages (%s)", humanize.Comma(v), kb(v*pageSizeKB))
}

func keyValueTable(wr io.Writer, rows [][]string) {
	table := tablewriter.NewWriter(wr)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetAutoWrapText(false)
	table.AppendBulk(rows)
	table.Render()
}

func renderSummary(wr io.Writer, res *analyzer.Result) {
	fragmented := "unknown"
	if res.Fragmented != nil {
		fragmented = strconv.FormatBool(*res.Fragmented)
	}
	config := "<none>"
	if res.Config != nil {
		config = fmt.Sprintf("%s (%s)", res.Config.Name, res.Config.ID)
	}
	pageSize := kb(res.System.PageSizeKB)
	if res.System.PageSizeGuessed {
		pageSize += " (guessed)"
	}

	keyValueTable(wr, [][]string{
		{"Kernel version", res.System.KernelVersion},
		{"Kernel configuration", config},
		{"Platform", res.System.Platform},
		{"Distribution", res.System.Dist},
		{"Page size", pageSize},
		{"OOM type", string(res.Type)},
		{"Allocation failure", res.Classification.String()},
		{"Explanation", Explain(res.Classification)},
		{"Memory fragmented", fragmented},
		{"Total RAM", kb(res.System.TotalRAMKB)},
		{"Total RAM and swap", kb(res.System.TotalRAMSwapKB)},
		{"RAM used by processes", fmt.Sprintf("%s (%d%%)", kb(res.System.TotalRAMUsedKB), res.System.UsedPercent)},
	})
}

func renderTrigger(wr io.Writer, res *analyzer.Result) {
	t := res.Trigger
	node := extract.NotFound
	if t.NUMANode != nil {
		node = strconv.Itoa(*t.NUMANode)
	}
	keyValueTable(wr, [][]string{
		{"Name", t.Name},
		{"PID", strconv.FormatInt(t.PID, 10)},
		{"GFP mask", t.GFPMask},
		{"Order", strconv.FormatInt(t.Order, 10)},
		{"Requested", pages(t.RequestedPages, res.System.PageSizeKB)},
		{"Zone", t.Zone},
		{"NUMA node with shortage", node},
		{"Nodemask", t.Nodemask},
		{"OOM score adj", strconv.FormatInt(t.OOMScore, 10)},
	})
}

func optional(v *int64) string {
	if v == nil {
		return extract.NotFound
	}
	return strconv.FormatInt(*v, 10)
}

func renderKilled(wr io.Writer, res *analyzer.Result) {
	k := res.Killed
	pgtables := extract.NotFound
	if k.PgtablesKB != nil {
		pgtables = kb(*k.PgtablesKB)
	}
	keyValueTable(wr, [][]string{
		{"Name", k.Name},
		{"PID", strconv.FormatInt(k.PID, 10)},
		{"Score", optional(k.Score)},
		{"OOM score adj", optional(k.OOMScoreAdj)},
		{"Total VM", kb(k.TotalVMKB)},
		{"RSS", fmt.Sprintf("%s (%d%% of RAM)", kb(k.TotalRSSKB), k.RSSPercent)},
		{"Anon RSS", kb(k.AnonRSSKB)},
		{"File RSS", kb(k.FileRSSKB)},
		{"Shmem RSS", kb(k.ShmemRSSKB)},
		{"Page tables", pgtables},
	})
}

func renderMemory(wr io.Writer, res *analyzer.Result) {
	m := res.Memory
	ps := res.System.PageSizeKB
	keyValueTable(wr, [][]string{
		{"RAM", pages(m.RAMPages, ps)},
		{"Reserved", pages(m.ReservedPages, ps)},
		{"Free", pages(m.FreePages, ps)},
		{"Active anon", pages(m.ActiveAnonPages, ps)},
		{"Inactive anon", pages(m.InactiveAnonPages, ps)},
		{"Active file", pages(m.ActiveFilePages, ps)},
		{"Inactive file", pages(m.InactiveFilePages, ps)},
		{"Unevictable", pages(m.UnevictablePages, ps)},
		{"Dirty", pages(m.DirtyPages, ps)},
		{"Writeback", pages(m.WritebackPages, ps)},
		{"Slab reclaimable", pages(m.SlabReclaimablePages, ps)},
		{"Slab unreclaimable", pages(m.SlabUnreclaimablePages, ps)},
		{"Mapped", pages(m.MappedPages, ps)},
		{"Shmem", pages(m.ShmemPages, ps)},
		{"Page tables", pages(m.PagetablesPages, ps)},
		{"Page cache", pages(m.PagecacheTotalPages, ps)},
	})
}

func renderSwap(wr io.Writer, res *analyzer.Result) {
	s := res.Swap
	if !s.Active {
		fmt.Fprintln(wr, "swap space not in use")
		return
	}
	keyValueTable(wr, [][]string{
		{"Total", kb(s.TotalKB)},
		{"Free", kb(s.FreeKB)},
		{"Cache", kb(s.CacheKB)},
		{"Used", fmt.Sprintf("%s (%d%%)", kb(s.UsedKB), s.UsedPercent)},
	})
}

func renderWatermarks(wr io.Writer, res *analyzer.Result) {
	if len(res.Watermarks) == 0 {
		fmt.Fprintln(wr, "no watermarks found")
		return
	}

	zones := make([]string, 0, len(res.Watermarks))
	for z := range res.Watermarks {
		zones = append(zones, z)
	}
	sort.Strings(zones)

	table := tablewriter.NewWriter(wr)
	table.SetAlignment(tablewriter.ALIGN_RIGHT)
	table.SetHeader([]string{"Zone", "Node", "Free", "Min", "Low", "High", "Lowmem reserve (pages)"})
	for _, zone := range zones {
		for _, node := range res.Watermarks.Nodes(zone) {
			wm, _ := res.Watermarks.Get(zone, node)
			reserve := make([]string, len(wm.LowmemReserve))
			for i, v := range wm.LowmemReserve {
				reserve[i] = strconv.FormatInt(v, 10)
			}
			table.Append([]string{
				zone,
				strconv.Itoa(node),
				kb(wm.Free),
				kb(wm.Min),
				kb(wm.Low),
				kb(wm.High),
				strings.Join(reserve, " "),
			})
		}
	}
	table.Render()
}

func renderProcesses(wr io.Writer, res *analyzer.Result, top int) {
	if res.Processes == nil || res.Processes.Len() == 0 {
		fmt.Fprintln(wr, "no process table found")
		return
	}

	procs := append([]extract.Process(nil), res.Processes.Processes...)
	sort.SliceStable(procs, func(i, j int) bool {
		return procs[i].RSSPages() > procs[j].RSSPages()
	})
	if top > 0 && len(procs) > top {
		procs = procs[:top]
	}

	table := tablewriter.NewWriter(wr)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetAutoWrapText(false)
	table.SetHeader([]string{"PID", "Name", "RSS", "Notes"})
	for _, p := range procs {
		table.Append([]string{
			strconv.Itoa(p.PID),
			p.Name,
			kb(p.RSSPages() * res.System.PageSizeKB),
			p.Notes,
		})
	}
	table.Render()
	if res.Processes.Len() > len(procs) {
		fmt.Fprintf(wr, "(%d of %d processes)\n", len(procs), res.Processes.Len())
	}
}

func renderMessages(wr io.Writer, res *analyzer.Result) {
	table := tablewriter.NewWriter(wr)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetAutoWrapText(false)
	table.SetHeader([]string{"Severity", "Message"})
	for _, m := range res.Messages {
		table.Append([]string{string(m.Severity), m.Text})
	}
	table.Render()
}
