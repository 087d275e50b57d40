package main

import (
	"os"

	"github.com/urfave/cli/v2"

	"github.com/netunna/splitter/splitter/integrity"
)

var (
	childrenDirFlag = &cli.StringFlag{
		Name:     "children",
		Usage:    "Directory holding the children of the given mother files, usually output/NSA_<nsa>",
		Required: true,
	}
	reportFlag = &cli.StringFlag{
		Name:  "report",
		Usage: "Write the CSV report to this path instead of stdout",
	}
)

var integrityCommand = &cli.Command{
	Name:      "integrity",
	Usage:     "audit a split by counting records per PV and type on both sides",
	ArgsUsage: "<mother file> [<mother file>...]",
	Flags: []cli.Flag{
		childrenDirFlag,
		reportFlag,
	},
	Action: checkIntegrity,
}

func checkIntegrity(cliCtx *cli.Context) error {
	if cliCtx.NArg() == 0 {
		return cli.Exit("at least one mother file is required", exitMalformed)
	}
	out := os.Stdout
	if path := cliCtx.String(reportFlag.Name); path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600)
		if err != nil {
			return cli.Exit(err.Error(), exitFatalIO)
		}
		defer func() {
			if err := f.Close(); err != nil {
				log.WithError(err).Error("Could not close the report file")
			}
		}()
		out = f
	}

	dir := cliCtx.String(childrenDirFlag.Name)
	divergent := false
	for _, mother := range cliCtx.Args().Slice() {
		report, err := integrity.CheckDir(mother, dir)
		if err != nil {
			return cli.Exit(err.Error(), exitCodeFor(err))
		}
		if err := report.WriteCSV(out); err != nil {
			return cli.Exit(err.Error(), exitFatalIO)
		}
		if !report.OK() {
			divergent = true
		}
	}
	if divergent {
		return cli.Exit("record counts diverge between mother and children", exitDivergence)
	}
	return nil
}
