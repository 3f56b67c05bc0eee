package extract

import (
	"sort"
	"strconv"
	"strings"

	"github.com/leptonai/oomanalyzer/pkg/kernelconfig"
	"github.com/leptonai/oomanalyzer/pkg/oom/logblock"
)

const lowmemReservePrefix = "lowmem_reserve[]:"

// Watermark is the state of one zone on one node, in kB.
type Watermark struct {
	Free  int64 `json:"free"`
	Min   int64 `json:"min"`
	Low   int64 `json:"low"`
	High  int64 `json:"high"`
	Boost int64 `json:"boost,omitempty"`
	// LowmemReserve is indexed by zone index, in pages.
	LowmemReserve []int64 `json:"lowmem_reserve,omitempty"`
}

// Watermarks maps zone and node to the watermark state.
type Watermarks map[string]map[int]*Watermark

// Get returns the watermark of a zone on a node.
func (w Watermarks) Get(zone string, node int) (*Watermark, bool) {
	nodes, ok := w[zone]
	if !ok {
		return nil, false
	}
	wm, ok := nodes[node]
	return wm, ok
}

// Nodes returns the nodes of a zone in ascending order.
func (w Watermarks) Nodes(zone string) []int {
	nodes := make([]int, 0, len(w[zone]))
	for n := range w[zone] {
		nodes = append(nodes, n)
	}
	sort.Ints(nodes)
	return nodes
}

// extractWatermarks reads the per zone lines starting at the watermark
// marker. A "lowmem_reserve[]:" line belongs to the zone line before it.
func extractWatermarks(cfg *kernelconfig.Config, b *logblock.Block, msgs *Messages) Watermarks {
	w := make(Watermarks)

	start := b.Index(cfg.Markers().WatermarkStart, 0)
	if start < 0 {
		msgs.Add(SeverityDebug, "Watermark marker %q not found, scanning the whole block", cfg.Markers().WatermarkStart)
		start = 0
	}

	re := cfg.Watermark()
	iBoost := re.SubexpIndex("boost")

	var current *Watermark
	for i := start; i < b.Len(); i++ {
		line := b.Line(i)
		m := re.FindStringSubmatch(line)
		if m == nil {
			if strings.HasPrefix(line, lowmemReservePrefix) {
				if current == nil {
					msgs.Add(SeverityError, "Found %q without a preceding zone", lowmemReservePrefix)
					continue
				}
				current.LowmemReserve = parseInts(strings.Fields(line)[1:], msgs)
			}
			continue
		}

		node, err := strconv.Atoi(m[re.SubexpIndex("node")])
		if err != nil {
			continue
		}
		zone := m[re.SubexpIndex("zone")]

		if _, ok := w[zone]; !ok {
			w[zone] = make(map[int]*Watermark)
		}
		wm := &Watermark{
			Free: atoi64(m[re.SubexpIndex("free")]),
			Min:  atoi64(m[re.SubexpIndex("min")]),
			Low:  atoi64(m[re.SubexpIndex("low")]),
			High: atoi64(m[re.SubexpIndex("high")]),
		}
		if iBoost >= 0 {
			wm.Boost = atoi64(m[iBoost])
		}
		w[zone][node] = wm
		current = wm
	}
	return w
}

func parseInts(fields []string, msgs *Messages) []int64 {
	out := make([]int64, 0, len(fields))
	for _, f := range fields {
		v, err := strconv.ParseInt(f, 10, 64)
		if err != nil {
			msgs.Add(SeverityError, "Failed to read lowmem reserve %q", f)
			continue
		}
		out = append(out, v)
	}
	return out
}

// atoi64 parses digits matched by \d+.
func atoi64(s string) int64 {
	v, _ := strconv.ParseInt(s, 10, 64)
	return v
}
