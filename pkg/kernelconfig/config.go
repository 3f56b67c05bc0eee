// Package kernelconfig holds the per kernel release dialects of the OOM
// killer output: extraction patterns, GFP flag tables and the structural
// markers the extractor relies on.
//
// Every release is one YAML file under releases/. A file names its parent
// and only carries what changed in that release; the parent chain is
// resolved once when the registry is built.
package kernelconfig

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/leptonai/oomanalyzer/pkg/gfp"
)

// Requirement tells the extractor how to treat a rule that does not match.
type Requirement string

const (
	// Required rules that do not match are reported as extraction errors.
	Required Requirement = "required"
	// Optional rules that do not match leave their fields unset.
	Optional Requirement = "optional"
)

// Release identifies the first kernel a configuration applies to.
// A non-empty suffix (e.g. ".el7.") must appear literally in the kernel
// version string.
type Release struct {
	Major  int    `json:"major"`
	Minor  int    `json:"minor"`
	Suffix string `json:"suffix,omitempty"`
}

func (r Release) String() string {
	return fmt.Sprintf("%d.%d%s", r.Major, r.Minor, r.Suffix)
}

// Rule is a named extraction pattern. Its named capture groups become
// fields of the analysis.
type Rule struct {
	Name        string      `json:"name"`
	Requirement Requirement `json:"requirement"`
	Pattern     string      `json:"pattern"`
}

// Markers locate the OOM block and its sub sections.
// OOMBegin and OOMEnd are regular expressions, the rest are literal
// substrings of a line.
type Markers struct {
	OOMBegin          string `json:"oom_begin,omitempty"`
	OOMEnd            string `json:"oom_end,omitempty"`
	ProcessTableStart string `json:"process_table_start,omitempty"`
	WatermarkStart    string `json:"watermark_start,omitempty"`
	ZoneinfoStart     string `json:"zoneinfo_start,omitempty"`
}

// Regexes are applied to single lines (FreeMemoryChunks, ProcessLine,
// Watermark, anchored at the line start) or searched in the whole text
// (PageSize).
type Regexes struct {
	FreeMemoryChunks string `json:"free_memory_chunks,omitempty"`
	PageSize         string `json:"page_size,omitempty"`
	ProcessLine      string `json:"process_line,omitempty"`
	Watermark        string `json:"watermark,omitempty"`
}

// ProcessTableLayout describes the columns of the "[ pid ]" table.
type ProcessTableLayout struct {
	Columns    []string `json:"columns,omitempty"`
	Headers    []string `json:"headers,omitempty"`
	NonNumeric []string `json:"non_numeric,omitempty"`
}

// IsNumeric reports whether a process table column is converted to an integer.
func (l ProcessTableLayout) IsNumeric(column string) bool {
	for _, c := range l.NonNumeric {
		if c == column {
			return false
		}
	}
	return true
}

// File is the on-disk form of one release. Every field except the
// identity is an overlay on the parent: unset fields are inherited, rules
// replace the parent rule of the same name, and gfp_flags replaces the
// parent table as a whole.
type File struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Parent   string  `json:"parent,omitempty"`
	Fallback bool    `json:"fallback,omitempty"`
	Release  Release `json:"release"`

	ExtractPatterns      []Rule              `json:"extract_patterns,omitempty"`
	Markers              Markers             `json:"markers,omitempty"`
	Regexes              Regexes             `json:"regexes,omitempty"`
	ProcessTable         *ProcessTableLayout `json:"process_table,omitempty"`
	PageAllocCostlyOrder *int                `json:"page_alloc_costly_order,omitempty"`
	ZoneTypes            []string            `json:"zone_types,omitempty"`
	GFPFlags             []gfp.Definition    `json:"gfp_flags,omitempty"`
}

// Config is a fully resolved and compiled release configuration.
// It is immutable and safe for concurrent use.
type Config struct {
	id       string
	name     string
	parent   string
	fallback bool
	release  Release

	rules        []CompiledRule
	markers      Markers
	regexes      Regexes
	processTable ProcessTableLayout
	costlyOrder  int
	zoneTypes    []string

	gfpDefs []gfp.Definition
	gfp     *gfp.Table

	oomBegin    *regexp.Regexp
	oomEnd      *regexp.Regexp
	freeChunks  *regexp.Regexp
	pageSize    *regexp.Regexp
	processLine *regexp.Regexp
	watermark   *regexp.Regexp
}

// CompiledRule is a rule with its compiled expression.
type CompiledRule struct {
	Rule
	Regexp *regexp.Regexp
}

func (c *Config) ID() string                  { return c.id }
func (c *Config) Name() string                { return c.name }
func (c *Config) Parent() string              { return c.parent }
func (c *Config) Fallback() bool              { return c.fallback }
func (c *Config) Release() Release            { return c.release }
func (c *Config) Markers() Markers            { return c.markers }
func (c *Config) GFP() *gfp.Table             { return c.gfp }
func (c *Config) CostlyOrder() int            { return c.costlyOrder }
func (c *Config) OOMBegin() *regexp.Regexp    { return c.oomBegin }
func (c *Config) OOMEnd() *regexp.Regexp      { return c.oomEnd }
func (c *Config) FreeChunks() *regexp.Regexp  { return c.freeChunks }
func (c *Config) PageSize() *regexp.Regexp    { return c.pageSize }
func (c *Config) ProcessLine() *regexp.Regexp { return c.processLine }
func (c *Config) Watermark() *regexp.Regexp   { return c.watermark }

// Rules returns the extraction rules in declaration order.
func (c *Config) Rules() []CompiledRule {
	return append([]CompiledRule(nil), c.rules...)
}

// ProcessTable returns a copy of the process table layout.
func (c *Config) ProcessTable() ProcessTableLayout {
	return ProcessTableLayout{
		Columns:    append([]string(nil), c.processTable.Columns...),
		Headers:    append([]string(nil), c.processTable.Headers...),
		NonNumeric: append([]string(nil), c.processTable.NonNumeric...),
	}
}

// ZoneTypes returns the memory zones in kernel order (zone index order).
func (c *Config) ZoneTypes() []string {
	return append([]string(nil), c.zoneTypes...)
}

// ZoneIndex returns the kernel zone index of a zone name, -1 if unknown.
func (c *Config) ZoneIndex(zone string) int {
	for i, z := range c.zoneTypes {
		if z == zone {
			return i
		}
	}
	return -1
}

// Covers reports whether a kernel version belongs to this configuration:
// the configuration release must not be newer than the kernel and a
// configured suffix must appear in the version string.
func (c *Config) Covers(v Version, raw string) bool {
	r := c.release
	if r.Major > v.Major || (r.Major == v.Major && r.Minor > v.Minor) {
		return false
	}
	if r.Suffix != "" && !strings.Contains(raw, r.Suffix) {
		return false
	}
	return true
}

// Info is the display metadata of a configuration.
type Info struct {
	ID                   string   `json:"id"`
	Name                 string   `json:"name"`
	Release              string   `json:"release"`
	Parent               string   `json:"parent,omitempty"`
	Fallback             bool     `json:"fallback,omitempty"`
	ProcessTableColumns  []string `json:"process_table_columns"`
	ProcessTableHeaders  []string `json:"process_table_headers"`
	PageAllocCostlyOrder int      `json:"page_alloc_costly_order"`
	GFPFlags             int      `json:"gfp_flags"`
}

func (c *Config) Info() Info {
	pt := c.ProcessTable()
	return Info{
		ID:                   c.id,
		Name:                 c.name,
		Release:              c.release.String(),
		Parent:               c.parent,
		Fallback:             c.fallback,
		ProcessTableColumns:  pt.Columns,
		ProcessTableHeaders:  pt.Headers,
		PageAllocCostlyOrder: c.costlyOrder,
		GFPFlags:             len(c.gfpDefs),
	}
}
