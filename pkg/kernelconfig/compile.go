package kernelconfig

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/leptonai/oomanalyzer/pkg/gfp"
)

// Flags the analyzer cannot work without: they decide the memory zone of
// the allocation request.
var mandatoryFlags = []string{"__GFP_DMA", "__GFP_DMA32"}

var (
	freeChunksGroups = []string{"node", "zone", "zone_usage", "total_free_kb_per_node"}
	watermarkGroups  = []string{"node", "zone", "free", "min", "low", "high"}
	pageSizeGroups   = []string{"page_size"}
)

func compile(m *merged) (*Config, error) {
	if m.Name == "" {
		return nil, errors.New("missing name")
	}
	if m.Release.Major <= 0 || m.Release.Minor < 0 {
		return nil, fmt.Errorf("invalid release %s", m.Release)
	}

	c := &Config{
		id:           m.ID,
		name:         m.Name,
		parent:       m.Parent,
		fallback:     m.Fallback,
		release:      m.Release,
		markers:      m.Markers,
		regexes:      m.Regexes,
		processTable: m.processTable,
		zoneTypes:    append([]string(nil), m.ZoneTypes...),
		gfpDefs:      m.GFPFlags,
	}

	if len(m.ExtractPatterns) == 0 {
		return nil, errors.New("no extract patterns")
	}
	for _, r := range m.ExtractPatterns {
		if r.Name == "" {
			return nil, errors.New("extract pattern without a name")
		}
		if r.Requirement != Required && r.Requirement != Optional {
			return nil, fmt.Errorf("extract pattern %q: invalid requirement %q", r.Name, r.Requirement)
		}
		re, err := regexp.Compile("(?m)" + r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("extract pattern %q: %w", r.Name, err)
		}
		c.rules = append(c.rules, CompiledRule{Rule: r, Regexp: re})
	}

	if m.Markers.ProcessTableStart == "" || m.Markers.WatermarkStart == "" || m.Markers.ZoneinfoStart == "" {
		return nil, errors.New("incomplete markers")
	}

	var err error
	if c.oomBegin, err = compileSearch("oom_begin", m.Markers.OOMBegin, nil); err != nil {
		return nil, err
	}
	if c.oomEnd, err = compileSearch("oom_end", m.Markers.OOMEnd, nil); err != nil {
		return nil, err
	}
	if c.pageSize, err = compileSearch("page_size", m.Regexes.PageSize, pageSizeGroups); err != nil {
		return nil, err
	}
	if c.freeChunks, err = compileLine("free_memory_chunks", m.Regexes.FreeMemoryChunks, freeChunksGroups); err != nil {
		return nil, err
	}
	if c.watermark, err = compileLine("watermark", m.Regexes.Watermark, watermarkGroups); err != nil {
		return nil, err
	}

	pt := m.processTable
	if len(pt.Columns) == 0 || len(pt.Columns) != len(pt.Headers) {
		return nil, fmt.Errorf("process table: %d columns but %d headers", len(pt.Columns), len(pt.Headers))
	}
	var groups []string
	for _, col := range pt.Columns {
		if col != "notes" {
			groups = append(groups, col)
		}
	}
	for _, required := range []string{"pid", "rss_pages", "name"} {
		if !contains(pt.Columns, required) {
			return nil, fmt.Errorf("process table: missing column %q", required)
		}
	}
	if c.processLine, err = compileLine("process_line", m.Regexes.ProcessLine, groups); err != nil {
		return nil, err
	}

	if m.costlyOrder == nil || *m.costlyOrder < 0 {
		return nil, errors.New("missing or negative page_alloc_costly_order")
	}
	c.costlyOrder = *m.costlyOrder

	if len(c.zoneTypes) == 0 {
		return nil, errors.New("no zone types")
	}

	if c.gfp, err = gfp.NewTable(m.GFPFlags); err != nil {
		return nil, err
	}
	for _, name := range mandatoryFlags {
		if _, ok := c.gfp.Value(name); !ok {
			return nil, fmt.Errorf("missing definition of GFP flag %s", name)
		}
	}

	return c, nil
}

// compileSearch compiles an expression searched in the whole text.
func compileSearch(name, pattern string, groups []string) (*regexp.Regexp, error) {
	if pattern == "" {
		return nil, fmt.Errorf("%s: empty pattern", name)
	}
	re, err := regexp.Compile("(?m)" + pattern)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return re, checkGroups(name, re, groups)
}

// compileLine compiles an expression matched at the start of a single line.
func compileLine(name, pattern string, groups []string) (*regexp.Regexp, error) {
	if pattern == "" {
		return nil, fmt.Errorf("%s: empty pattern", name)
	}
	re, err := regexp.Compile("^(?:" + pattern + ")")
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return re, checkGroups(name, re, groups)
}

func checkGroups(name string, re *regexp.Regexp, groups []string) error {
	for _, g := range groups {
		if re.SubexpIndex(g) < 0 {
			return fmt.Errorf("%s: missing capture group %q", name, g)
		}
	}
	return nil
}

func contains(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}
