// Package extract pulls the named fields and the structured sections
// (process table, free areas, watermarks) out of a normalized OOM block,
// using the patterns of one kernel release.
package extract

import (
	"strconv"
	"strings"

	"github.com/leptonai/oomanalyzer/pkg/kernelconfig"
	"github.com/leptonai/oomanalyzer/pkg/oom/logblock"
)

const (
	markerHardware  = "Hardware name:"
	markerCallTrace = "Call Trace:"

	// used when the free area lines do not reveal the page size
	defaultPageSizeKB = 4
)

// Output is everything read from the text, before any derived value is
// computed.
type Output struct {
	Fields Fields `json:"fields"`
	// Ints holds the numeric fields that converted cleanly.
	Ints map[string]int64 `json:"ints"`

	HardwareInfo string `json:"hardware_info"`
	CallTrace    string `json:"call_trace"`

	PageSizeKB      int64 `json:"page_size_kb"`
	PageSizeGuessed bool  `json:"page_size_guessed"`

	Processes  *ProcessTable `json:"processes"`
	BuddyInfo  *BuddyInfo    `json:"buddy_info"`
	Watermarks Watermarks    `json:"watermarks"`

	Messages Messages `json:"messages,omitempty"`
}

// Int returns a numeric field.
func (o *Output) Int(name string) (int64, bool) {
	v, ok := o.Ints[name]
	return v, ok
}

// Run applies cfg to a complete block. Missing data is reported in
// Messages, Run itself does not fail.
func Run(cfg *kernelconfig.Config, b *logblock.Block) *Output {
	o := &Output{Fields: make(Fields)}

	applyRules(cfg, b.Text(), o.Fields, &o.Messages)
	o.Ints = convertNumeric(o.Fields, &o.Messages)

	o.HardwareInfo = strings.Join(blockFrom(b, markerHardware), "\n")

	var trace []string
	for _, line := range blockFrom(b, markerCallTrace) {
		if strings.HasPrefix(line, "Call Trace") {
			continue
		}
		trace = append(trace, strings.TrimSpace(line))
	}
	o.CallTrace = strings.Join(trace, "\n")

	o.PageSizeKB, o.PageSizeGuessed = pageSize(cfg, b.Text())
	if o.PageSizeGuessed {
		o.Messages.Add(SeverityWarning, "Page size not found, assuming %d kB", defaultPageSizeKB)
	}

	o.Processes = extractProcessTable(cfg, b, &o.Messages)
	o.BuddyInfo = extractBuddyInfo(cfg, b, &o.Messages)
	o.Watermarks = extractWatermarks(cfg, b, &o.Messages)
	return o
}

// applyRules searches every rule in the whole text and merges the named
// groups, a later rule overwrites the groups of an earlier one.
func applyRules(cfg *kernelconfig.Config, text string, fields Fields, msgs *Messages) {
	for _, rule := range cfg.Rules() {
		m := rule.Regexp.FindStringSubmatchIndex(text)
		if m == nil {
			if rule.Requirement == kernelconfig.Required {
				msgs.Add(SeverityError,
					`Failed to extract information from OOM text. The regular expression "%s" (pattern "%s") does not find anything. This can lead to errors later on.`,
					rule.Name, rule.Pattern)
			}
			continue
		}
		for i, name := range rule.Regexp.SubexpNames() {
			if name == "" {
				continue
			}
			if m[2*i] < 0 {
				fields[name] = nil
				continue
			}
			v := text[m[2*i]:m[2*i+1]]
			fields[name] = &v
		}
	}
}

// blockFrom returns the first line containing marker and the lines
// following it up to, not including, the next line containing ":".
func blockFrom(b *logblock.Block, marker string) []string {
	idx := b.Index(marker, 0)
	if idx < 0 {
		return nil
	}
	lines := []string{b.Line(idx)}
	for i := idx + 1; i < b.Len(); i++ {
		if strings.Contains(b.Line(i), ":") {
			break
		}
		lines = append(lines, b.Line(i))
	}
	return lines
}

func pageSize(cfg *kernelconfig.Config, text string) (int64, bool) {
	re := cfg.PageSize()
	m := re.FindStringSubmatch(text)
	if m == nil {
		return defaultPageSizeKB, true
	}
	v, err := strconv.ParseInt(m[re.SubexpIndex("page_size")], 10, 64)
	if err != nil || v <= 0 {
		return defaultPageSizeKB, true
	}
	return v, false
}
