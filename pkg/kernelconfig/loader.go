package kernelconfig

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"sigs.k8s.io/yaml"
)

//go:embed releases/*.yaml
var releasesFS embed.FS

// ParseFile decodes one release file. Unknown keys are rejected so that a
// typo in a data file does not silently inherit the parent value.
func ParseFile(b []byte) (File, error) {
	var f File
	if err := yaml.UnmarshalStrict(b, &f); err != nil {
		return File{}, err
	}
	f.ID = strings.TrimSpace(f.ID)
	f.Parent = strings.TrimSpace(f.Parent)
	if f.ID == "" {
		return File{}, fmt.Errorf("release file without id")
	}
	return f, nil
}

// LoadEmbedded returns the release files bundled with the binary.
func LoadEmbedded() ([]File, error) {
	return loadFS(releasesFS, "releases")
}

// LoadDir reads every *.yaml and *.yml file of a directory, in name order.
func LoadDir(dir string) ([]File, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%q is not a directory", dir)
	}
	return loadFS(os.DirFS(dir), ".")
}

func loadFS(fsys fs.FS, dir string) ([]File, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch filepath.Ext(e.Name()) {
		case ".yaml", ".yml":
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	files := make([]File, 0, len(names))
	for _, name := range names {
		b, err := fs.ReadFile(fsys, filepath.ToSlash(filepath.Join(dir, name)))
		if err != nil {
			return nil, err
		}
		f, err := ParseFile(b)
		if err != nil {
			return nil, fmt.Errorf("release file %q: %w", name, err)
		}
		files = append(files, f)
	}
	return files, nil
}

// merged is a release with its parent chain applied, before compilation.
type merged struct {
	File
	processTable ProcessTableLayout
	costlyOrder  *int
}

// resolveAll applies the parent chain of every file.
func resolveAll(files map[string]File) (map[string]*merged, error) {
	done := make(map[string]*merged, len(files))
	visiting := make(map[string]bool)

	var resolve func(id string) (*merged, error)
	resolve = func(id string) (*merged, error) {
		if m, ok := done[id]; ok {
			return m, nil
		}
		f, ok := files[id]
		if !ok {
			return nil, fmt.Errorf("unknown release %q", id)
		}
		if visiting[id] {
			return nil, fmt.Errorf("release %q: cyclic parent chain", id)
		}
		visiting[id] = true
		defer delete(visiting, id)

		m := &merged{}
		if f.Parent != "" {
			parent, err := resolve(f.Parent)
			if err != nil {
				return nil, fmt.Errorf("release %q: %w", id, err)
			}
			m = parent.clone()
		}
		m.overlay(f)
		done[id] = m
		return m, nil
	}

	for id := range files {
		if _, err := resolve(id); err != nil {
			return nil, err
		}
	}
	return done, nil
}

func (m *merged) clone() *merged {
	c := &merged{
		File:        m.File,
		costlyOrder: m.costlyOrder,
		processTable: ProcessTableLayout{
			Columns:    append([]string(nil), m.processTable.Columns...),
			Headers:    append([]string(nil), m.processTable.Headers...),
			NonNumeric: append([]string(nil), m.processTable.NonNumeric...),
		},
	}
	c.ExtractPatterns = append([]Rule(nil), m.ExtractPatterns...)
	c.ZoneTypes = append([]string(nil), m.ZoneTypes...)
	c.GFPFlags = m.GFPFlags
	return c
}

// overlay applies f on top of the inherited values.
func (m *merged) overlay(f File) {
	m.ID = f.ID
	m.Name = f.Name
	m.Parent = f.Parent
	m.Fallback = f.Fallback
	m.Release = f.Release

	for _, r := range f.ExtractPatterns {
		replaced := false
		for i := range m.ExtractPatterns {
			if m.ExtractPatterns[i].Name == r.Name {
				m.ExtractPatterns[i] = r
				replaced = true
				break
			}
		}
		if !replaced {
			m.ExtractPatterns = append(m.ExtractPatterns, r)
		}
	}

	overlayString(&m.Markers.OOMBegin, f.Markers.OOMBegin)
	overlayString(&m.Markers.OOMEnd, f.Markers.OOMEnd)
	overlayString(&m.Markers.ProcessTableStart, f.Markers.ProcessTableStart)
	overlayString(&m.Markers.WatermarkStart, f.Markers.WatermarkStart)
	overlayString(&m.Markers.ZoneinfoStart, f.Markers.ZoneinfoStart)

	overlayString(&m.Regexes.FreeMemoryChunks, f.Regexes.FreeMemoryChunks)
	overlayString(&m.Regexes.PageSize, f.Regexes.PageSize)
	overlayString(&m.Regexes.ProcessLine, f.Regexes.ProcessLine)
	overlayString(&m.Regexes.Watermark, f.Regexes.Watermark)

	if f.ProcessTable != nil {
		m.processTable = *f.ProcessTable
	}
	if f.PageAllocCostlyOrder != nil {
		v := *f.PageAllocCostlyOrder
		m.costlyOrder = &v
	}
	if len(f.ZoneTypes) > 0 {
		m.ZoneTypes = f.ZoneTypes
	}
	if len(f.GFPFlags) > 0 {
		m.GFPFlags = f.GFPFlags
	}
}

func overlayString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
