// Package analyze implements the "analyze" command.
package analyze

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/urfave/cli"

	clientv1 "github.com/leptonai/oomanalyzer/client/v1"
	"github.com/leptonai/oomanalyzer/cmd/oomanalyzer/common"
	"github.com/leptonai/oomanalyzer/pkg/kernelconfig"
	"github.com/leptonai/oomanalyzer/pkg/log"
	"github.com/leptonai/oomanalyzer/pkg/oom/analyzer"
	"github.com/leptonai/oomanalyzer/pkg/oom/report"
)

// ExitRejected is the exit status for a text the analyzer rejects.
const ExitRejected = 2

var stdin io.Reader = os.Stdin

func Command(cliContext *cli.Context) error {
	zapLvl, err := log.ParseLogLevel(cliContext.String("log-level"))
	if err != nil {
		return err
	}
	log.SetLogger(log.CreateLogger(zapLvl, ""))

	format, err := common.ParseOutputFormat(cliContext.String("output"))
	if err != nil {
		return err
	}
	if cliContext.NArg() > 1 {
		return fmt.Errorf("expected at most one file, got %d arguments", cliContext.NArg())
	}

	text, err := readInput(cliContext.Args().First())
	if err != nil {
		return err
	}

	res, err := run(cliContext, text)
	if err != nil {
		if !isRejected(err) {
			return err
		}
		return common.NewCommandError(err.Error(), ExitRejected)
	}

	w := cliContext.App.Writer
	if query := cliContext.String("query"); query != "" {
		v, err := report.Query(res, query)
		if err != nil {
			return err
		}
		return writeQueryResult(w, format, v)
	}

	return common.Write(w, format, res, func(w io.Writer) error {
		return report.Write(w, res, report.WithTopProcesses(cliContext.Int("top")))
	})
}

func readInput(file string) (string, error) {
	if file == "" || file == "-" {
		b, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("failed to read stdin: %w", err)
		}
		return string(b), nil
	}

	b, err := os.ReadFile(file)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// isRejected reports whether the analyzer rejected the text, locally or
// on the server.
func isRejected(err error) bool {
	if analyzer.IsRejection(err) {
		return true
	}
	var apiErr *clientv1.APIError
	return errors.As(err, &apiErr) && apiErr.Result != nil
}

// run analyzes locally, or on the server given with --server.
func run(cliContext *cli.Context, text string) (*analyzer.Result, error) {
	if addr := cliContext.String("server"); addr != "" {
		var opts []clientv1.OpOption
		if id := cliContext.String("config"); id != "" {
			opts = append(opts, clientv1.WithConfigID(id))
		}
		resp, err := clientv1.Analyze(context.Background(), addr, strings.NewReader(text), opts...)
		if err != nil {
			return nil, err
		}
		return resp.Result, nil
	}

	registry, err := kernelconfig.NewWithDir(cliContext.String("kernel-config-dir"))
	if err != nil {
		return nil, err
	}
	opts := []analyzer.OpOption{analyzer.WithRegistry(registry)}
	if id := cliContext.String("config"); id != "" {
		opts = append(opts, analyzer.WithConfigID(id))
	}
	return analyzer.Analyze(text, opts...)
}

// writeQueryResult prints strings as is in the plain format, everything
// else encoded.
func writeQueryResult(w io.Writer, format string, v any) error {
	if s, ok := v.(string); ok && format == common.OutputFormatPlain {
		_, err := fmt.Fprintln(w, s)
		return err
	}
	if format == common.OutputFormatPlain {
		format = common.OutputFormatJSON
	}
	return common.Write(w, format, v, nil)
}
