// Package flags defines the command line flags shared by the splitter
// binaries.
package flags

import (
	"github.com/urfave/cli/v2"

	"github.com/netunna/splitter/config"
)

var (
	// VerbosityFlag defines the logrus configuration.
	VerbosityFlag = &cli.StringFlag{
		Name:  "verbosity",
		Usage: "Logging verbosity (trace, debug, info=default, warn, error, fatal, panic)",
		Value: "info",
	}
	// LogFormat specifies the log output format.
	LogFormat = &cli.StringFlag{
		Name:  "log-format",
		Usage: "Specify log formatting. Supports: text, json, fluentd.",
		Value: "text",
	}
	// LogFileName specifies the log output file name.
	LogFileName = &cli.StringFlag{
		Name:  "log-file",
		Usage: "Specify log file name, relative or absolute",
	}
	// OutputRootFlag is the directory the per-PV children are written to and
	// served from.
	OutputRootFlag = &cli.StringFlag{
		Name:  "output",
		Usage: "Directory holding the NSA_<nsa> child directories",
		Value: config.DefaultOutputRoot,
	}
	// ErrorDirFlag is where mother files that fail processing are moved.
	ErrorDirFlag = &cli.StringFlag{
		Name:  "error-dir",
		Usage: "Directory mother files are moved to when processing fails",
		Value: config.DefaultErrorDir,
	}
	// OpsLogFlag is the path of the semicolon-separated operation log.
	OpsLogFlag = &cli.StringFlag{
		Name:  "ops-log",
		Usage: "Path of the CSV operation log appended per processed file",
		Value: config.DefaultOpsLogPath,
	}
	// ToleranceFlag is the reconciliation tolerance in integer cents.
	ToleranceFlag = &cli.Int64Flag{
		Name:  "tolerance",
		Usage: "Reconciliation tolerance in cents; divergences within it count as OK",
	}
	// EmitEmptyBucketsFlag turns on SEM_MOV children for no-movement mothers.
	EmitEmptyBucketsFlag = &cli.BoolFlag{
		Name:  "emit-empty",
		Usage: "Write a SEM_MOV child with a zeroed trailer for no-movement EEVD mothers",
	}
)
