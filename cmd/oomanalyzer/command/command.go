// Package command defines the oomanalyzer command line.
package command

import (
	"fmt"

	"github.com/urfave/cli"

	cmdanalyze "github.com/leptonai/oomanalyzer/cmd/oomanalyzer/analyze"
	cmddecodegfp "github.com/leptonai/oomanalyzer/cmd/oomanalyzer/decode-gfp"
	cmdlistkernels "github.com/leptonai/oomanalyzer/cmd/oomanalyzer/list-kernels"
	cmdserve "github.com/leptonai/oomanalyzer/cmd/oomanalyzer/serve"
	"github.com/leptonai/oomanalyzer/pkg/config"
	"github.com/leptonai/oomanalyzer/pkg/oom/report"
	"github.com/leptonai/oomanalyzer/version"
)

const usage = `
# to analyze an OOM block saved from dmesg or journalctl
oomanalyzer analyze oom.log

# to read from stdin and only print the killed process
journalctl -k | oomanalyzer analyze --query '$.killed.name' -

# to decode a GFP mask
oomanalyzer decode-gfp --kernel 6.0.3-1-default 0x140dca

# to serve the HTTP API
oomanalyzer serve
`

var (
	outputFlag = cli.StringFlag{
		Name:  "output,o",
		Usage: "set the output format [plain, json, yaml]",
		Value: "plain",
	}
	kernelConfigDirFlag = cli.StringFlag{
		Name:  "kernel-config-dir",
		Usage: "(optional) directory of extra kernel release files, loaded over the embedded ones",
	}
	serverFlag = cli.StringFlag{
		Name:  "server",
		Usage: "(optional) address of a running oomanalyzer server to ask instead of working locally",
	}
)

func App() *cli.App {
	app := cli.NewApp()

	app.Name = "oomanalyzer"
	app.Version = version.String()
	app.Usage = usage
	app.Description = "Linux OOM killer log analyzer"

	app.Commands = []cli.Command{
		{
			Name:      "analyze",
			Usage:     "analyze an OOM killer block",
			ArgsUsage: "[FILE|-]",
			UsageText: `# to analyze a file
oomanalyzer analyze oom.log

# to print JSON
oomanalyzer analyze -o json oom.log

# to query a single field (JSONPath)
oomanalyzer analyze -q '$.trigger.gfp_flags' oom.log
`,
			Action: cmdanalyze.Command,
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:  "log-level,l",
					Usage: "set the logging level [debug, info, warn, error, fatal, panic, dpanic]",
					Value: "error",
				},
				outputFlag,
				&cli.StringFlag{
					Name:  "query,q",
					Usage: "(optional) JSONPath expression evaluated on the result, e.g. '$.killed.pid'",
				},
				&cli.StringFlag{
					Name:  "config",
					Usage: "(optional) force a kernel configuration id instead of selecting it by kernel version",
				},
				&cli.IntFlag{
					Name:  "top",
					Usage: "number of processes by RSS shown in the plain report, 0 for all",
					Value: report.DefaultTopProcesses,
				},
				kernelConfigDirFlag,
				serverFlag,
			},
		},
		{
			Name:      "decode-gfp",
			Usage:     "decode a GFP mask into its flags",
			ArgsUsage: "MASK",
			Action:    cmddecodegfp.Command,
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:  "kernel",
					Usage: "(optional) kernel version selecting the flag table, e.g. 4.15.0-20-generic",
				},
				&cli.StringFlag{
					Name:  "config",
					Usage: "(optional) kernel configuration id, see list-kernels (default: newest)",
				},
				outputFlag,
				kernelConfigDirFlag,
				serverFlag,
			},
		},
		{
			Name:   "list-kernels",
			Usage:  "list the kernel configurations in selection order",
			Action: cmdlistkernels.Command,
			Flags: []cli.Flag{
				outputFlag,
				kernelConfigDirFlag,
				serverFlag,
			},
		},
		{
			Name:   "serve",
			Usage:  "serve the HTTP API",
			Action: cmdserve.Command,
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:  "config-file",
					Usage: "YAML configuration file, flags override it",
					Value: config.DefaultConfigFile,
				},
				&cli.StringFlag{
					Name:  "listen-address",
					Usage: fmt.Sprintf("set the listen address (default: 0.0.0.0:%d)", config.DefaultPort),
				},
				&cli.StringFlag{
					Name:  "log-level,l",
					Usage: "set the logging level [debug, info, warn, error, fatal, panic, dpanic]",
				},
				&cli.StringFlag{
					Name:  "log-file",
					Usage: "set the log file path (audit records go next to it)",
				},
				kernelConfigDirFlag,
				&cli.DurationFlag{
					Name:  "cache-ttl",
					Usage: "how long analysis results are cached, 0 disables the cache",
					Value: config.DefaultCacheTTL.Duration,
				},
				&cli.IntFlag{
					Name:  "cache-size",
					Usage: "maximum number of cached analysis results, 0 for no limit",
					Value: config.DefaultCacheSize,
				},
				&cli.Int64Flag{
					Name:  "max-body-bytes",
					Usage: "reject larger analysis requests with 413",
					Value: config.DefaultMaxBodyBytes,
				},
				&cli.BoolFlag{
					Name:  "pprof",
					Usage: "enable pprof under /admin/pprof",
				},
			},
		},
	}

	return app
}
