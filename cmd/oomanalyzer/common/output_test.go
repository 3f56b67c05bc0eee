package common

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseOutputFormat(t *testing.T) {
	tests := []struct {
		raw     string
		want    string
		wantErr bool
	}{
		{raw: "", want: OutputFormatPlain},
		{raw: "  JSON ", want: OutputFormatJSON},
		{raw: "yaml", want: OutputFormatYAML},
		{raw: "plain", want: OutputFormatPlain},
		{raw: "xml", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := ParseOutputFormat(tt.raw)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExitStatus(t *testing.T) {
	assert.Equal(t, 0, ExitStatus(nil))
	assert.Equal(t, 1, ExitStatus(errors.New("x")))
	assert.Equal(t, 2, ExitStatus(NewCommandError("rejected", 2)))
	assert.Equal(t, 2, ExitStatus(fmt.Errorf("wrapped: %w", NewCommandError("rejected", 2))))
	assert.Equal(t, 1, ExitStatus(NewCommandError("zero", 0)))
}

func TestWrite(t *testing.T) {
	v := map[string]any{"pid": 3271, "name": "<app>"}
	plain := func(w io.Writer) error {
		_, err := io.WriteString(w, "plain output\n")
		return err
	}

	tests := []struct {
		format string
		want   string
	}{
		{format: OutputFormatPlain, want: "plain output\n"},
		{format: OutputFormatJSON, want: "{\n  \"name\": \"<app>\",\n  \"pid\": 3271\n}\n"},
		{format: OutputFormatYAML, want: "name: <app>\npid: 3271\n"},
	}
	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, Write(&buf, tt.format, v, plain))
			assert.Equal(t, tt.want, buf.String())
		})
	}
}
