// Package gfp evaluates and decodes GFP (get free pages) allocation flags
// as printed by the kernel OOM killer ("gfp_mask=0x140dca").
//
// A flag table maps flag names to definitions. A definition is either a
// literal ("0x01", "32") or an expression over other flags combined with
// "|" and "&", each operand optionally negated with a leading "~".
// Expressions are evaluated strictly left to right, there is no operator
// precedence and no parentheses:
//
//	GFP_TRANSHUGE_LIGHT = GFP_HIGHUSER_MOVABLE | __GFP_COMP | __GFP_NOWARN & ~__GFP_RECLAIM
//
// evaluates as ((GFP_HIGHUSER_MOVABLE | __GFP_COMP) | __GFP_NOWARN) & ~__GFP_RECLAIM.
package gfp

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

const (
	// PrefixCombination marks the "useful" flag combinations, e.g. GFP_KERNEL.
	PrefixCombination = "GFP_"
	// PrefixModifier marks modifier, mobility and placement hints, e.g. __GFP_DMA.
	PrefixModifier = "__GFP_"
	// PrefixBit marks the plain bitmask constants, e.g. ___GFP_DMA.
	// They are only referenced by other definitions and never displayed.
	PrefixBit = "___GFP_"
)

var (
	ErrUndefinedFlag = errors.New("undefined GFP flag")
	ErrCycle         = errors.New("cyclic GFP flag definition")
	ErrEmptyOperand  = errors.New("empty operand in GFP flag expression")
)

// Definition is one entry of a flag table, in the order it is declared.
type Definition struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Table is a resolved flag table. It is immutable and safe for concurrent use.
type Table struct {
	defs   []Definition
	values map[string]uint64

	// reverse is the fixed order used by Decode: GFP_* by descending value,
	// then __GFP_* by descending value, zero-valued flags left out.
	reverse []string
}

// NewTable resolves every definition and builds the reverse lookup order.
// A reference to an undefined flag or a cycle is a defect of the table
// and returned as an error.
func NewTable(defs []Definition) (*Table, error) {
	t := &Table{
		defs:   make([]Definition, 0, len(defs)),
		values: make(map[string]uint64, len(defs)),
	}

	byName := make(map[string]string, len(defs))
	for _, d := range defs {
		name := strings.TrimSpace(d.Name)
		if name == "" {
			return nil, errors.New("GFP flag without a name")
		}
		if _, dup := byName[name]; dup {
			return nil, fmt.Errorf("duplicate GFP flag %q", name)
		}
		byName[name] = d.Value
		t.defs = append(t.defs, Definition{Name: name, Value: d.Value})
	}

	r := &resolver{defs: byName, values: t.values, visiting: make(map[string]bool)}
	for _, d := range t.defs {
		if _, err := r.resolve(d.Name); err != nil {
			return nil, err
		}
	}

	t.reverse = buildReverseLookup(t.defs, t.values)
	return t, nil
}

// MustNewTable is like NewTable but panics on error.
func MustNewTable(defs []Definition) *Table {
	t, err := NewTable(defs)
	if err != nil {
		panic(err)
	}
	return t
}

func buildReverseLookup(defs []Definition, values map[string]uint64) []string {
	var combinations, modifiers []string
	for _, d := range defs {
		if values[d.Name] == 0 {
			continue
		}
		switch {
		case strings.HasPrefix(d.Name, PrefixBit):
		case strings.HasPrefix(d.Name, PrefixModifier):
			modifiers = append(modifiers, d.Name)
		case strings.HasPrefix(d.Name, PrefixCombination):
			combinations = append(combinations, d.Name)
		}
	}

	byValueDesc := func(names []string) {
		sort.SliceStable(names, func(i, j int) bool {
			return values[names[i]] > values[names[j]]
		})
	}
	byValueDesc(combinations)
	byValueDesc(modifiers)

	return append(combinations, modifiers...)
}

type resolver struct {
	defs     map[string]string
	values   map[string]uint64
	visiting map[string]bool
}

func (r *resolver) resolve(name string) (uint64, error) {
	if v, ok := r.values[name]; ok {
		return v, nil
	}
	expr, ok := r.defs[name]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUndefinedFlag, name)
	}
	if r.visiting[name] {
		return 0, fmt.Errorf("%w: %q", ErrCycle, name)
	}
	r.visiting[name] = true
	defer delete(r.visiting, name)

	v, err := evaluate(expr, r.resolve)
	if err != nil {
		return 0, fmt.Errorf("flag %q: %w", name, err)
	}
	r.values[name] = v
	return v, nil
}

// evaluate computes an expression left to right. Operands that are not
// numeric literals are looked up through lookup.
func evaluate(expr string, lookup func(string) (uint64, error)) (uint64, error) {
	var (
		acc      uint64
		operator byte = '|'
		start         = 0
	)

	apply := func(token string) error {
		token = strings.TrimSpace(token)
		negate := false
		if strings.HasPrefix(token, "~") {
			negate = true
			token = strings.TrimSpace(token[1:])
		}
		if token == "" {
			return ErrEmptyOperand
		}

		v, err := parseLiteral(token)
		if err != nil {
			v, err = lookup(token)
			if err != nil {
				return err
			}
		}
		if negate {
			v = ^v
		}

		switch operator {
		case '|':
			acc |= v
		case '&':
			acc &= v
		}
		return nil
	}

	for i := 0; i < len(expr); i++ {
		c := expr[i]
		if c != '|' && c != '&' {
			continue
		}
		if err := apply(expr[start:i]); err != nil {
			return 0, err
		}
		operator = c
		start = i + 1
	}
	if err := apply(expr[start:]); err != nil {
		return 0, err
	}
	return acc, nil
}

func parseLiteral(token string) (uint64, error) {
	if token == "" || token[0] < '0' || token[0] > '9' {
		return 0, strconv.ErrSyntax
	}
	return strconv.ParseUint(token, 0, 64)
}

// ParseMask parses a mask as printed by the kernel ("0x140dca").
// The "0x" prefix is optional, the value is always hexadecimal.
func ParseMask(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if s == "" {
		return 0, fmt.Errorf("empty GFP mask")
	}
	v, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid GFP mask %q: %w", s, err)
	}
	return v, nil
}

// Value returns the resolved value of a flag.
func (t *Table) Value(name string) (uint64, bool) {
	if t == nil {
		return 0, false
	}
	v, ok := t.values[name]
	return v, ok
}

// Has reports whether all bits of the named flag are set in mask.
// It returns false for an unknown flag or a zero-valued flag.
func (t *Table) Has(mask uint64, name string) bool {
	v, ok := t.Value(name)
	if !ok || v == 0 {
		return false
	}
	return mask&v == v
}

// Definitions returns the table in declaration order.
func (t *Table) Definitions() []Definition {
	out := make([]Definition, len(t.defs))
	copy(out, t.defs)
	return out
}

// ReverseLookup returns the order in which Decode tries the flags.
func (t *Table) ReverseLookup() []string {
	out := make([]string, len(t.reverse))
	copy(out, t.reverse)
	return out
}

// Decode greedily removes every flag of the reverse lookup order whose bits
// are all contained in the remaining value. It returns the matched flags
// sorted by name and the bits no flag accounted for.
func (t *Table) Decode(mask uint64) ([]string, uint64) {
	remaining := mask
	flags := make([]string, 0)
	for _, name := range t.reverse {
		v := t.values[name]
		if remaining&v == v {
			remaining &^= v
			flags = append(flags, name)
		}
	}
	sort.Strings(flags)
	return flags, remaining
}

// DecodeNames is Decode with the unaccounted bits appended as a hex literal,
// e.g. ["GFP_KERNEL", "0x8000000"].
func (t *Table) DecodeNames(mask uint64) []string {
	flags, remaining := t.Decode(mask)
	if remaining != 0 {
		flags = append(flags, fmt.Sprintf("0x%x", remaining))
	}
	return flags
}

// Encode ORs the named flags. Hex literals as returned by DecodeNames are
// accepted so that Encode(DecodeNames(m)...) == m.
func (t *Table) Encode(names ...string) (uint64, error) {
	var v uint64
	for _, name := range names {
		name = strings.TrimSpace(name)
		if lit, err := parseLiteral(name); err == nil {
			v |= lit
			continue
		}
		fv, ok := t.values[name]
		if !ok {
			return 0, fmt.Errorf("%w: %q", ErrUndefinedFlag, name)
		}
		v |= fv
	}
	return v, nil
}

// Format joins flags the way the analyzer displays them.
func Format(flags []string) string {
	return strings.Join(flags, " | ")
}

// SplitPrinted splits the flag list the kernel prints after the mask,
// "GFP_HIGHUSER_MOVABLE|__GFP_COMP|__GFP_ZERO".
func SplitPrinted(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, "|")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
