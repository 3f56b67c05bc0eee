package kernelconfig

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leptonai/oomanalyzer/pkg/errdefs"
	"github.com/leptonai/oomanalyzer/pkg/gfp"
)

func mustDefault(t *testing.T) *Registry {
	t.Helper()
	r, err := Default()
	require.NoError(t, err)
	require.NotNil(t, r)
	return r
}

func TestRegistryOrder(t *testing.T) {
	r := mustDefault(t)

	var ids []string
	for _, c := range r.Configs() {
		ids = append(ids, c.ID())
	}
	assert.Equal(t, []string{
		"6.1", "6.0",
		"5.18", "5.16", "5.14", "5.8", "5.1", "5.0",
		"4.19", "4.18", "4.15", "4.14", "4.13", "4.12", "4.10", "4.9", "4.8", "4.6", "4.5", "4.4", "4.1",
		"3.19", "3.16", "3.10-el7", "3.10",
		"base",
	}, ids)

	assert.True(t, r.Fallback().Fallback())
	assert.Equal(t, "base", r.Fallback().ID())
}

func TestSelect(t *testing.T) {
	r := mustDefault(t)

	tests := []struct {
		version string
		wantID  string
		wantErr error
	}{
		{version: "3.10.0-514.6.1.el7.x86_64", wantID: "3.10-el7"},
		{version: "3.10.0-1160.el7.x86_64", wantID: "3.10-el7"},
		{version: "3.10.0-1062", wantID: "3.10"},
		{version: "3.13.0-24-generic", wantID: "3.10"},
		{version: "4.4.0-21-generic", wantID: "4.4"},
		{version: "4.15.0-20-generic", wantID: "4.15"},
		{version: "4.16.1", wantID: "4.15"},
		{version: "5.19-rc6", wantID: "5.18"},
		{version: "5.18.6-arch1-1", wantID: "5.18"},
		{version: "6.0.3-1-default", wantID: "6.0"},
		{version: "6.5.0-generic", wantID: "6.1"},
		{version: "10.0.1", wantID: "6.1"},
		{version: "2.6.32-754.el6.x86_64", wantID: "base", wantErr: ErrNoMatchingConfig},
		{version: "not-a-version", wantID: "base", wantErr: ErrUnparseableVersion},
		{version: "", wantID: "base", wantErr: ErrUnparseableVersion},
	}
	for _, tt := range tests {
		t.Run(tt.version, func(t *testing.T) {
			c, err := r.Select(tt.version)
			require.NotNil(t, c)
			assert.Equal(t, tt.wantID, c.ID())
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestGet(t *testing.T) {
	r := mustDefault(t)

	c, err := r.Get("4.15")
	require.NoError(t, err)
	assert.Equal(t, "4.14", c.Parent())
	assert.Equal(t, Release{Major: 4, Minor: 15}, c.Release())

	_, err = r.Get("9.9")
	require.Error(t, err)
	assert.True(t, errdefs.IsNotFound(err))
}

func TestInheritedFields(t *testing.T) {
	r := mustDefault(t)

	base, err := r.Get("base")
	require.NoError(t, err)
	el7, err := r.Get("3.10-el7")
	require.NoError(t, err)
	v415, err := r.Get("4.15")
	require.NoError(t, err)
	v60, err := r.Get("6.0")
	require.NoError(t, err)

	assert.Equal(t, "[ pid ]", base.Markers().ProcessTableStart)
	assert.Equal(t, "[  pid  ]", v60.Markers().ProcessTableStart)
	assert.Equal(t, ".el7.", el7.Release().Suffix)

	assert.Equal(t, 3, v60.CostlyOrder())
	assert.Equal(t, []string{"DMA", "DMA32", "Normal", "HighMem", "Movable"}, base.ZoneTypes())
	assert.Equal(t, 2, v60.ZoneIndex("Normal"))
	assert.Equal(t, -1, v60.ZoneIndex("Device"))

	pt := v415.ProcessTable()
	assert.Contains(t, pt.Columns, "pgtables_bytes")
	assert.NotContains(t, pt.Columns, "nr_ptes_pages")
	assert.Len(t, pt.Headers, len(pt.Columns))
	assert.False(t, pt.IsNumeric("name"))
	assert.True(t, pt.IsNumeric("rss_pages"))

	assert.Contains(t, base.ProcessTable().Columns, "nr_ptes_pages")

	// overriding releases replace rules in place
	var names []string
	for _, rule := range v60.Rules() {
		names = append(names, rule.Name)
		assert.NotNil(t, rule.Regexp)
	}
	var baseNames []string
	for _, rule := range base.Rules() {
		baseNames = append(baseNames, rule.Name)
	}
	assert.Equal(t, baseNames, names)

	assert.GreaterOrEqual(t, v60.Watermark().SubexpIndex("boost"), 0)
	assert.Equal(t, -1, base.Watermark().SubexpIndex("boost"))

	info := v415.Info()
	assert.Equal(t, "4.15", info.ID)
	assert.Equal(t, "4.15", info.Release)
	assert.Equal(t, 3, info.PageAllocCostlyOrder)
	assert.Greater(t, info.GFPFlags, 0)
}

func TestGFPValues(t *testing.T) {
	b, err := os.ReadFile(filepath.Join("testdata", "gfp_values.json"))
	require.NoError(t, err)

	var want map[string]map[string]uint64
	require.NoError(t, json.Unmarshal(b, &want))

	r := mustDefault(t)
	require.Len(t, want, len(r.Configs()))

	for id, flags := range want {
		t.Run(id, func(t *testing.T) {
			c, err := r.Get(id)
			require.NoError(t, err)
			assert.Len(t, c.GFP().Definitions(), len(flags))
			for name, v := range flags {
				got, ok := c.GFP().Value(name)
				require.True(t, ok, name)
				assert.Equal(t, v, got, name)
			}
		})
	}
}

func TestDecodeGolden(t *testing.T) {
	r := mustDefault(t)

	tests := []struct {
		id        string
		mask      string
		flags     []string
		remaining uint64
	}{
		{id: "6.0", mask: "0x140dca", flags: []string{"GFP_HIGHUSER", "__GFP_COMP", "__GFP_MOVABLE", "__GFP_ZERO"}},
		{id: "6.0", mask: "0xcc0", flags: []string{"GFP_KERNEL"}},
		{id: "6.0", mask: "0x8000cc0", flags: []string{"GFP_KERNEL", "__GFP_NOLOCKDEP"}},
		{id: "6.0", mask: "0x10000cc0", flags: []string{"GFP_KERNEL"}, remaining: 0x10000000},
		{id: "3.10", mask: "0x201da", flags: []string{"GFP_HIGHUSER_MOVABLE", "__GFP_COLD"}},
		{id: "3.10-el7", mask: "0x201da", flags: []string{"GFP_HIGHUSER_MOVABLE", "__GFP_COLD"}},
		{id: "4.15", mask: "0x14200ca", flags: []string{"GFP_HIGHUSER_MOVABLE"}},
		{id: "5.8", mask: "0x100cca", flags: []string{"GFP_HIGHUSER_MOVABLE"}},
		{id: "6.1", mask: "0xcc0", flags: []string{"GFP_KERNEL"}},
		{id: "6.1", mask: "0x0", flags: []string{}},
		{id: "4.4", mask: "0x24201ca", flags: []string{"GFP_HIGHUSER_MOVABLE", "__GFP_COLD"}},
		{id: "4.4", mask: "0x2400840", flags: []string{"GFP_NOFS", "__GFP_NOFAIL"}},
	}
	for _, tt := range tests {
		t.Run(tt.id+"/"+tt.mask, func(t *testing.T) {
			c, err := r.Get(tt.id)
			require.NoError(t, err)

			mask, err := gfp.ParseMask(tt.mask)
			require.NoError(t, err)

			flags, remaining := c.GFP().Decode(mask)
			assert.Equal(t, tt.flags, flags)
			assert.Equal(t, tt.remaining, remaining)

			encoded, err := c.GFP().Encode(c.GFP().DecodeNames(mask)...)
			require.NoError(t, err)
			assert.Equal(t, mask, encoded)
		})
	}
}

func TestReverseLookup60(t *testing.T) {
	r := mustDefault(t)
	c, err := r.Get("6.0")
	require.NoError(t, err)

	order := c.GFP().ReverseLookup()
	require.Len(t, order, 39)
	assert.Equal(t, []string{
		"GFP_TRANSHUGE", "GFP_TRANSHUGE_LIGHT", "GFP_HIGHUSER_MOVABLE", "GFP_KERNEL_ACCOUNT",
		"GFP_HIGHUSER", "GFP_USER", "GFP_KERNEL", "GFP_NOFS", "GFP_NOIO", "GFP_ATOMIC", "GFP_NOWAIT",
		"__GFP_NOLOCKDEP",
	}, order[:12])
}

func embeddedBase(t *testing.T) File {
	t.Helper()
	files, err := LoadEmbedded()
	require.NoError(t, err)
	for _, f := range files {
		if f.ID == "base" {
			return f
		}
	}
	t.Fatal("no base release")
	return File{}
}

func TestOverlay(t *testing.T) {
	base := embeddedBase(t)
	child := File{
		ID:      "child",
		Name:    "child",
		Parent:  "base",
		Release: Release{Major: 9, Minor: 0},
		ExtractPatterns: []Rule{
			{Name: "Page cache", Requirement: Optional, Pattern: `^(?P<pagecache_total_pages>\d+) pages in page cache`},
			{Name: "Extra", Requirement: Optional, Pattern: `^extra:(?P<extra_kb>\d+)`},
		},
		Markers: Markers{ZoneinfoStart: "Node 1 DMA: "},
	}

	r, err := New(base, child)
	require.NoError(t, err)

	b, err := r.Get("base")
	require.NoError(t, err)
	c, err := r.Get("child")
	require.NoError(t, err)

	baseRules, childRules := b.Rules(), c.Rules()
	require.Len(t, childRules, len(baseRules)+1)
	for i := range baseRules {
		assert.Equal(t, baseRules[i].Name, childRules[i].Name)
		if baseRules[i].Name == "Page cache" {
			assert.Equal(t, Optional, childRules[i].Requirement)
			assert.NotEqual(t, baseRules[i].Pattern, childRules[i].Pattern)
		}
	}
	assert.Equal(t, "Extra", childRules[len(childRules)-1].Name)

	assert.Equal(t, "Node 1 DMA: ", c.Markers().ZoneinfoStart)
	assert.Equal(t, b.Markers().WatermarkStart, c.Markers().WatermarkStart)
	assert.Equal(t, b.GFP().Definitions(), c.GFP().Definitions())

	// the parent is not modified by its child
	assert.Equal(t, "Node 0 DMA: ", b.Markers().ZoneinfoStart)

	got, err := r.Select("9.1.0")
	require.NoError(t, err)
	assert.Equal(t, "child", got.ID())
}

func TestNewErrors(t *testing.T) {
	base := embeddedBase(t)

	child := func(mod func(f *File)) File {
		f := File{ID: "child", Name: "child", Parent: "base", Release: Release{Major: 9}}
		mod(&f)
		return f
	}

	tests := []struct {
		name    string
		files   []File
		wantErr error
	}{
		{
			name:  "no fallback",
			files: []File{child(func(f *File) { f.Parent = "" })},
		},
		{
			name: "two fallbacks",
			files: []File{base, child(func(f *File) {
				f.Fallback = true
			})},
		},
		{
			name:  "unknown parent",
			files: []File{base, child(func(f *File) { f.Parent = "nope" })},
		},
		{
			name: "cyclic parents",
			files: []File{
				base,
				child(func(f *File) { f.Parent = "other" }),
				{ID: "other", Name: "other", Parent: "child", Release: Release{Major: 8}},
			},
		},
		{
			name: "undefined flag",
			files: []File{base, child(func(f *File) {
				f.GFPFlags = []gfp.Definition{
					{Name: "__GFP_DMA", Value: "0x01"},
					{Name: "__GFP_DMA32", Value: "__GFP_NOPE"},
				}
			})},
			wantErr: gfp.ErrUndefinedFlag,
		},
		{
			name: "missing zone flag",
			files: []File{base, child(func(f *File) {
				f.GFPFlags = []gfp.Definition{{Name: "__GFP_DMA", Value: "0x01"}}
			})},
		},
		{
			name: "watermark without groups",
			files: []File{base, child(func(f *File) {
				f.Regexes.Watermark = `Node (?P<node>\d+) (?P<zone>\w+) free:(?P<free>\d+)kB`
			})},
		},
		{
			name: "broken rule",
			files: []File{base, child(func(f *File) {
				f.ExtractPatterns = []Rule{{Name: "broken", Requirement: Required, Pattern: `(?P<x>`}}
			})},
		},
		{
			name: "bad requirement",
			files: []File{base, child(func(f *File) {
				f.ExtractPatterns = []Rule{{Name: "Page cache", Requirement: "sometimes", Pattern: `x`}}
			})},
		},
		{
			name: "process line without column",
			files: []File{base, child(func(f *File) {
				f.ProcessTable = &ProcessTableLayout{
					Columns: []string{"pid", "rss_pages", "name", "cgroup", "notes"},
					Headers: []string{"PID", "RSS", "Name", "Cgroup", "Notes"},
				}
			})},
		},
		{
			name: "headers mismatch",
			files: []File{base, child(func(f *File) {
				f.ProcessTable = &ProcessTableLayout{
					Columns: []string{"pid", "rss_pages", "name"},
					Headers: []string{"PID"},
				}
			})},
		},
		{
			name: "negative costly order",
			files: []File{base, child(func(f *File) {
				v := -1
				f.PageAllocCostlyOrder = &v
			})},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := New(tt.files...)
			require.Error(t, err)
			assert.Nil(t, r)
			if tt.wantErr != nil {
				assert.True(t, errors.Is(err, tt.wantErr), err.Error())
			}
		})
	}
}

func TestParseFile(t *testing.T) {
	f, err := ParseFile([]byte(`
id: '7.0'
name: 'Configuration for Linux kernel 7.0 or later'
parent: '6.1'
release:
  major: 7
  minor: 0
page_alloc_costly_order: 4
`))
	require.NoError(t, err)
	assert.Equal(t, "7.0", f.ID)
	assert.Equal(t, "6.1", f.Parent)
	require.NotNil(t, f.PageAllocCostlyOrder)
	assert.Equal(t, 4, *f.PageAllocCostlyOrder)
	assert.Nil(t, f.ProcessTable)

	_, err = ParseFile([]byte("name: 'x'\n"))
	assert.Error(t, err)

	_, err = ParseFile([]byte("id: 'x'\nmarkers:\n  oom_start: 'x'\n"))
	assert.Error(t, err, "unknown keys are rejected")
}

func TestNewWithDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "7.0.yaml"), []byte(`
id: '7.0'
name: 'Configuration for Linux kernel 7.0 or later'
parent: '6.1'
release:
  major: 7
  minor: 0
page_alloc_costly_order: 4
`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "6.1.yaml"), []byte(`
id: '6.1'
name: 'Patched 6.1'
parent: '6.0'
release:
  major: 6
  minor: 1
`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("ignored"), 0o644))

	r, err := NewWithDir(dir)
	require.NoError(t, err)

	c, err := r.Select("7.2.0-1-default")
	require.NoError(t, err)
	assert.Equal(t, "7.0", c.ID())
	assert.Equal(t, 4, c.CostlyOrder())

	v61, err := r.Get("6.1")
	require.NoError(t, err)
	assert.Equal(t, "Patched 6.1", v61.Name())

	// the default registry is untouched
	d := mustDefault(t)
	_, err = d.Get("7.0")
	assert.True(t, errdefs.IsNotFound(err))

	_, err = NewWithDir(filepath.Join(dir, "missing"))
	assert.Error(t, err)

	empty, err := NewWithDir("")
	require.NoError(t, err)
	assert.Same(t, d, empty)
}

func TestParseVersion(t *testing.T) {
	tests := []struct {
		in      string
		want    Version
		wantErr bool
	}{
		{in: "5.19-rc6", want: Version{Major: 5, Minor: 19}},
		{in: "4.14.288", want: Version{Major: 4, Minor: 14}},
		{in: "5.13.0-19-generic", want: Version{Major: 5, Minor: 13}},
		{in: "3.10.0-514.6.1.el7.x86_64", want: Version{Major: 3, Minor: 10}},
		{in: "6", wantErr: true},
		{in: "v6.1", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			v, err := ParseVersion(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnparseableVersion)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, v)
		})
	}
}
