// Package analyzer diagnoses a Linux OOM killer block: it selects the
// kernel configuration, extracts the fields and re-does the page
// allocator watermark check to explain why the allocation failed.
package analyzer

import (
	"errors"
	"regexp"

	"github.com/leptonai/oomanalyzer/pkg/kernelconfig"
	"github.com/leptonai/oomanalyzer/pkg/log"
	"github.com/leptonai/oomanalyzer/pkg/oom/extract"
	"github.com/leptonai/oomanalyzer/pkg/oom/logblock"
)

// e.g.
//
//	CPU: 4 PID: 29481 Comm: sed Not tainted 3.10.0-514.6.1.el7.x86_64 #1
//	CPU: 2 PID: 3271 Comm: MonsterApp Not tainted 6.0.3-1-default #1 openSUSE Tumbleweed
var reKernelVersion = regexp.MustCompile(`CPU: \d+ PID: \d+ Comm: .* (Not tainted|Tainted: [A-Z ]+) (?P<kernel_version>\d[\w.-]+) #.+`)

// Analyze diagnoses one OOM block.
//
// A text that cannot be analyzed returns one of ErrEmpty,
// ErrNoKernelVersion, ErrInvalid or ErrIncomplete, together with a
// partial result holding the block state and the messages. Any other
// returned error is a setup failure and comes with a nil result.
func Analyze(text string, opts ...OpOption) (*Result, error) {
	op := &Op{}
	if err := op.applyOpts(opts); err != nil {
		return nil, err
	}

	a := &analysis{op: op, res: &Result{Type: TypeUnknown}}
	err := a.run(text)
	if !op.noLog {
		logMessages(a.res)
	}
	if err != nil && !IsRejection(err) {
		return nil, err
	}
	return a.res, err
}

type analysis struct {
	op  *Op
	res *Result
	cfg *kernelconfig.Config
	out *extract.Output
}

func (a *analysis) run(text string) error {
	block := logblock.Normalize(text)
	a.res.State = block.State()

	switch block.State() {
	case logblock.StateEmpty:
		return a.reject(ErrEmpty)
	case logblock.StateInvalid:
		return a.reject(ErrInvalid)
	}

	m := reKernelVersion.FindStringSubmatch(block.Text())
	if m == nil {
		return a.reject(ErrNoKernelVersion)
	}
	kernelVersion := m[reKernelVersion.SubexpIndex("kernel_version")]
	a.res.System.KernelVersion = kernelVersion

	cfg, err := a.chooseConfig(kernelVersion)
	if err != nil {
		return err
	}
	a.cfg = cfg
	info := cfg.Info()
	a.res.Config = &info

	if !cfg.OOMBegin().MatchString(block.Text()) {
		a.res.State = logblock.StateInvalid
		return a.reject(ErrInvalid)
	}
	if !cfg.OOMEnd().MatchString(block.Text()) {
		a.res.State = logblock.StateStarted
		return a.reject(ErrIncomplete)
	}
	a.res.State = logblock.StateComplete

	a.out = extract.Run(cfg, block)
	a.res.Messages = append(a.res.Messages, a.out.Messages...)
	a.res.Text = block.Text()

	a.derive()
	return nil
}

func (a *analysis) reject(err *rejection) error {
	a.res.Messages.Add(extract.SeverityError, "%s", err.msg)
	return err
}

func (a *analysis) chooseConfig(kernelVersion string) (*kernelconfig.Config, error) {
	if a.op.configID != "" {
		return a.op.registry.Get(a.op.configID)
	}

	cfg, err := a.op.registry.Select(kernelVersion)
	switch {
	case err == nil:
	case errors.Is(err, kernelconfig.ErrUnparseableVersion):
		a.res.Messages.Add(extract.SeverityWarning, `Failed to extract version details from version string "%s"`, kernelVersion)
		a.res.Messages.Add(extract.SeverityWarning, `Failed to find a proper configuration for kernel "%s"`, kernelVersion)
	default:
		a.res.Messages.Add(extract.SeverityWarning, `Failed to find a proper configuration for kernel "%s"`, kernelVersion)
	}
	return cfg, nil
}

func logMessages(res *Result) {
	for _, m := range res.Messages {
		switch m.Severity {
		case extract.SeverityDebug:
			log.Logger.Debugw(m.Text, "state", res.State)
		case extract.SeverityWarning:
			log.Logger.Warnw(m.Text, "state", res.State)
		default:
			log.Logger.Errorw(m.Text, "state", res.State, "severity", m.Severity)
		}
	}
}
