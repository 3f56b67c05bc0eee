package report

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/PaesslerAG/jsonpath"

	"github.com/leptonai/oomanalyzer/pkg/oom/analyzer"
)

// Query evaluates a JSONPath expression against the JSON form of res,
// e.g. "$.killed.pid" or "$.processes.processes[?(@.values.rss_pages > 1000)].name".
// A key that does not exist returns nil and no error.
//
// ref. https://pkg.go.dev/github.com/PaesslerAG/jsonpath#section-readme
func Query(res *analyzer.Result, path string) (any, error) {
	b, err := json.Marshal(res)
	if err != nil {
		return nil, err
	}
	var doc map[string]any
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, err
	}

	v, err := jsonpath.Get(path, doc)
	if err != nil {
		if strings.Contains(err.Error(), "unknown key") {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to evaluate %q: %w", path, err)
	}
	return v, nil
}
