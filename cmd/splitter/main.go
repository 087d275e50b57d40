// Package main defines the splitter CLI: it splits REDE settlement mother
// files into per-PV children, audits the result record by record, and serves
// the children to pull agents.
package main

import (
	"fmt"
	"os"

	joonix "github.com/joonix/log"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"

	"github.com/netunna/splitter/cmd/flags"
	"github.com/netunna/splitter/io/logs"
	"github.com/netunna/splitter/runtime/version"
)

var log = logrus.WithField("prefix", "main")

var appFlags = []cli.Flag{
	flags.VerbosityFlag,
	flags.LogFormat,
	flags.LogFileName,
}

func main() {
	app := cli.App{
		Name:    "splitter",
		Usage:   "splits REDE settlement files per point of sale and serves the children to pull agents",
		Version: version.Version(),
		Flags:   appFlags,
		Commands: []*cli.Command{
			processCommand,
			integrityCommand,
			serveCommand,
		},
	}
	app.Before = func(ctx *cli.Context) error {
		verbosity := ctx.String(flags.VerbosityFlag.Name)
		level, err := logrus.ParseLevel(verbosity)
		if err != nil {
			return err
		}
		logrus.SetLevel(level)

		format := ctx.String(flags.LogFormat.Name)
		switch format {
		case "text":
			formatter := new(prefixed.TextFormatter)
			formatter.TimestampFormat = "2006-01-02 15:04:05"
			formatter.FullTimestamp = true
			// ANSI color codes read as gibberish in persisted log files.
			formatter.DisableColors = ctx.String(flags.LogFileName.Name) != ""
			logrus.SetFormatter(formatter)
		case "fluentd":
			logrus.SetFormatter(joonix.NewFormatter())
		case "json":
			logrus.SetFormatter(&logrus.JSONFormatter{})
		default:
			return fmt.Errorf("unknown log format %s", format)
		}

		logFileName := ctx.String(flags.LogFileName.Name)
		if logFileName != "" {
			if err := logs.ConfigurePersistentLogging(logFileName, format); err != nil {
				log.WithError(err).Error("Failed to configure logging to disk")
			}
		}
		return nil
	}
	if err := app.Run(os.Args); err != nil {
		log.Error(err.Error())
		os.Exit(1)
	}
}
