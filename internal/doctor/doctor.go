// Package doctor runs environment diagnostics for the samizdat node:
// config validity, identity keys, the control socket, and the local
// network runtime dependencies.
package doctor

import (
	"context"
	"encoding/json"
	"io"
	"os"

	"github.com/samizdat-net/samizdat/internal/config"
)

// Doctor orchestrates the health checks.
type Doctor struct {
	checkers []Checker
	output   *Output
	options  Options
}

// New creates a Doctor with the default checkers for the given
// configuration.
func New(opts Options, cfg *config.Config, configPath string) *Doctor {
	d := &Doctor{options: opts}
	d.output = NewOutput(os.Stdout, !opts.JSON && isTerminal(os.Stdout))
	d.registerDefaultCheckers(cfg, configPath)
	return d
}

// NewWithWriter creates a Doctor with a custom writer (useful for testing).
func NewWithWriter(opts Options, cfg *config.Config, configPath string, w io.Writer, useColors bool) *Doctor {
	d := &Doctor{options: opts}
	d.output = NewOutput(w, useColors)
	d.registerDefaultCheckers(cfg, configPath)
	return d
}

func (d *Doctor) registerDefaultCheckers(cfg *config.Config, configPath string) {
	d.checkers = []Checker{
		// Config checks
		NewConfigFileChecker(configPath),
		NewNodeKeysChecker(cfg),

		// Services checks
		NewTorBinaryChecker(cfg),
		NewKuboAPIChecker(cfg),

		// System checks
		NewDataDirChecker(cfg),
		NewDiskSpaceChecker(cfg),

		// Permission checks
		NewDaemonSocketChecker(cfg),
	}
}

// AddChecker adds a custom checker.
func (d *Doctor) AddChecker(c Checker) {
	d.checkers = append(d.checkers, c)
}

// Run executes all checks and returns a report.
func (d *Doctor) Run(ctx context.Context) (*Report, error) {
	report := &Report{
		Checks: make([]CheckResult, 0, len(d.checkers)),
	}

	checkers := d.filterCheckers()

	if d.options.JSON {
		for _, checker := range checkers {
			result := checker.Check(ctx)
			report.Checks = append(report.Checks, result)
			updateSummary(&report.Summary, result)
		}
		return report, d.outputJSON(report)
	}

	d.output.Header()

	for i, checker := range checkers {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if d.options.Verbose {
			d.output.CheckStart(i+1, len(checkers), checker.Name())
		}
		result := checker.Check(ctx)
		report.Checks = append(report.Checks, result)
		updateSummary(&report.Summary, result)
		d.output.CheckResult(result)
	}

	d.output.Summary(report.Summary)
	return report, nil
}

func (d *Doctor) filterCheckers() []Checker {
	if d.options.Category == "" {
		return d.checkers
	}
	var filtered []Checker
	for _, c := range d.checkers {
		if c.Category() == d.options.Category {
			filtered = append(filtered, c)
		}
	}
	return filtered
}

func (d *Doctor) outputJSON(report *Report) error {
	enc := json.NewEncoder(d.output.writer)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

func updateSummary(s *Summary, r CheckResult) {
	s.Total++
	switch r.Status {
	case StatusOK:
		s.Passed++
	case StatusWarning:
		s.Warned++
	case StatusError:
		s.Failed++
	case StatusSkipped:
		s.Skipped++
	}
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
