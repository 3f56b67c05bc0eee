// Package common holds what the oomanalyzer commands share: output
// formats and exit statuses.
package common

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"sigs.k8s.io/yaml"
)

const (
	OutputFormatPlain = "plain"
	OutputFormatJSON  = "json"
	OutputFormatYAML  = "yaml"

	CheckMark   = "\033[32m✔\033[0m"
	WarningSign = "\033[31m✘\033[0m"
)

// ParseOutputFormat validates and normalizes output format values.
// Empty values default to plain output.
func ParseOutputFormat(raw string) (string, error) {
	normalized := strings.TrimSpace(strings.ToLower(raw))
	if normalized == "" {
		return OutputFormatPlain, nil
	}

	switch normalized {
	case OutputFormatPlain, OutputFormatJSON, OutputFormatYAML:
		return normalized, nil
	default:
		return "", fmt.Errorf("invalid output format %q (supported: %q, %q, %q)", raw, OutputFormatPlain, OutputFormatJSON, OutputFormatYAML)
	}
}

// CommandError is a command failure with its own exit status.
type CommandError struct {
	message  string
	exitCode int
}

func NewCommandError(message string, exitCode int) *CommandError {
	if exitCode == 0 {
		exitCode = 1
	}
	return &CommandError{message: message, exitCode: exitCode}
}

func (e *CommandError) Error() string {
	return e.message
}

func (e *CommandError) ExitStatus() int {
	return e.exitCode
}

// ExitStatus returns 0 for nil, the status of a *CommandError, else 1.
func ExitStatus(err error) int {
	if err == nil {
		return 0
	}
	var cerr *CommandError
	if errors.As(err, &cerr) {
		return cerr.ExitStatus()
	}
	return 1
}

// Write encodes v as JSON or YAML, or calls plain for the plain format.
func Write(w io.Writer, format string, v any, plain func(io.Writer) error) error {
	switch format {
	case OutputFormatJSON:
		enc := json.NewEncoder(w)
		enc.SetEscapeHTML(false)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case OutputFormatYAML:
		b, err := yaml.Marshal(v)
		if err != nil {
			return err
		}
		_, err = w.Write(b)
		return err
	default:
		return plain(w)
	}
}
