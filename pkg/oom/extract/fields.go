package extract

import (
	"sort"
	"strconv"
	"strings"
)

// NotFound is displayed for a field whose capture group did not match.
const NotFound = "<not found>"

// Fields is the flat map of named captures. A nil value is a group that
// exists in a matching pattern but did not participate in the match.
type Fields map[string]*string

// Get returns the captured value. ok is false for missing and nil fields.
func (f Fields) Get(name string) (string, bool) {
	v, ok := f[name]
	if !ok || v == nil {
		return "", false
	}
	return *v, true
}

// Display returns the captured value or NotFound.
func (f Fields) Display(name string) string {
	if v, ok := f.Get(name); ok {
		return v
	}
	return NotFound
}

// Names returns the field names in lexical order.
func (f Fields) Names() []string {
	names := make([]string, 0, len(f))
	for k := range f {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

var numericSuffixes = []string{"_bytes", "_kb", "_pages", "_pid"}

var numericNames = map[string]struct{}{
	"killed_proc_score":         {},
	"trigger_proc_order":        {},
	"trigger_proc_oomscore":     {},
	"killed_proc_oom_score_adj": {},
	"killed_proc_pgtables":      {},
	"sec_pagetables":            {},
	"kernel_misc_reclaimable":   {},
}

// IsNumericField reports whether a field is converted to an integer.
func IsNumericField(name string) bool {
	if _, ok := numericNames[name]; ok {
		return true
	}
	for _, s := range numericSuffixes {
		if strings.HasSuffix(name, s) {
			return true
		}
	}
	return false
}

// convertNumeric converts every numeric field that has a value. Failures
// are reported and the field keeps its raw value.
func convertNumeric(f Fields, msgs *Messages) map[string]int64 {
	out := make(map[string]int64)
	for _, name := range f.Names() {
		if !IsNumericField(name) {
			continue
		}
		v, ok := f.Get(name)
		if !ok {
			continue
		}
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			msgs.Add(SeverityError, `Converting item "%s=%s" to integer failed`, name, v)
			continue
		}
		out[name] = n
	}
	return out
}
