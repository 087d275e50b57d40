package main

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"github.com/netunna/splitter/cmd/flags"
	"github.com/netunna/splitter/config"
	"github.com/netunna/splitter/splitter/engine"
	"github.com/netunna/splitter/splitter/layout"
	"github.com/netunna/splitter/splitter/opslog"
	"github.com/netunna/splitter/splitter/record"
)

// Exit codes of the process command. A divergent verdict is not an error:
// children are produced and the back office reconciles by hand.
const (
	exitDivergence = 2
	exitFatalIO    = 3
	exitMalformed  = 4
)

var processCommand = &cli.Command{
	Name:      "process",
	Usage:     "split one or more mother files into per-PV children and reconcile the totals",
	ArgsUsage: "<mother file> [<mother file>...]",
	Flags: []cli.Flag{
		flags.OutputRootFlag,
		flags.ErrorDirFlag,
		flags.OpsLogFlag,
		flags.ToleranceFlag,
		flags.EmitEmptyBucketsFlag,
	},
	Action: processFiles,
}

func processFiles(cliCtx *cli.Context) error {
	if cliCtx.NArg() == 0 {
		return cli.Exit("at least one mother file is required", exitMalformed)
	}
	cfg := &config.Engine{
		OutputRoot:       cliCtx.String(flags.OutputRootFlag.Name),
		ErrorDir:         cliCtx.String(flags.ErrorDirFlag.Name),
		OpsLogPath:       cliCtx.String(flags.OpsLogFlag.Name),
		ToleranceCents:   cliCtx.Int64(flags.ToleranceFlag.Name),
		EmitEmptyBuckets: cliCtx.Bool(flags.EmitEmptyBucketsFlag.Name),
	}
	eng := engine.New(cfg)
	ops, err := opslog.New(cfg.OpsLogPath)
	if err != nil {
		return cli.Exit(err.Error(), exitFatalIO)
	}

	divergent := false
	for _, path := range cliCtx.Args().Slice() {
		res, err := eng.Process(cliCtx.Context, path)
		if err != nil {
			appendOps(ops, opslog.Entry{
				File:   filepath.Base(path),
				Status: opslog.StatusError,
				Detail: err.Error(),
			})
			moveToErrorDir(path, cfg.ErrorDir)
			return cli.Exit(err.Error(), exitCodeFor(err))
		}

		status := opslog.StatusOK
		if !res.Verdict.OK() {
			status = opslog.StatusDivergence
			divergent = true
		}
		appendOps(ops, opslog.Entry{
			File:           filepath.Base(path),
			Kind:           res.Kind.String(),
			TotalTrailer:   res.Verdict.TotalExpected(),
			TotalProcessed: res.Verdict.TotalComputed(),
			Status:         status,
			Detail:         res.Verdict.Detail(),
		})
	}
	if divergent {
		return cli.Exit("one or more files reconciled with divergences", exitDivergence)
	}
	return nil
}

// exitCodeFor separates bad input from infrastructure failures.
func exitCodeFor(err error) int {
	switch {
	case errors.Is(err, layout.ErrUnknownKind),
		errors.Is(err, record.ErrMalformedHeader),
		errors.Is(err, record.ErrTruncatedLine),
		errors.Is(err, record.ErrMissingMotherTrailer):
		return exitMalformed
	default:
		return exitFatalIO
	}
}

func appendOps(ops *opslog.Logger, e opslog.Entry) {
	if err := ops.Append(e); err != nil {
		log.WithError(err).Error("Could not append to the operation log")
	}
}

// moveToErrorDir quarantines a mother file that failed processing so the
// input sweep does not pick it up again.
func moveToErrorDir(path, errorDir string) {
	if errorDir == "" {
		errorDir = config.DefaultErrorDir
	}
	if err := os.MkdirAll(errorDir, 0700); err != nil {
		log.WithError(err).Error("Could not create the error directory")
		return
	}
	dest := filepath.Join(errorDir, filepath.Base(path))
	if err := os.Rename(path, dest); err != nil {
		log.WithError(err).WithField("file", path).Error("Could not quarantine mother file")
		return
	}
	log.WithField("file", dest).Warn("Mother file quarantined")
}
