// Package main defines the pull agent CLI. Configuration follows the
// documented environment options (SPLITTER_BASE_URL, DOWNLOAD_MODE, ...) with
// command line flags taking precedence.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	joonix "github.com/joonix/log"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"

	"github.com/netunna/splitter/cmd/flags"
	"github.com/netunna/splitter/config"
	"github.com/netunna/splitter/io/logs"
	"github.com/netunna/splitter/pull/agent"
	"github.com/netunna/splitter/runtime"
	"github.com/netunna/splitter/runtime/version"
)

var log = logrus.WithField("prefix", "main")

var (
	baseURLFlag = &cli.StringFlag{
		Name:  "base-url",
		Usage: "Base URL of the pull service",
	}
	downloadMode string
	modeFlag     = (&flags.EnumValue{
		Name:        "mode",
		Usage:       "Download mode",
		Destination: &downloadMode,
		Enum:        []string{config.ModeLease, config.ModeDirect, config.ModeZip},
	}).GenericFlag()
	limitFlag = &cli.IntFlag{
		Name:  "limit",
		Usage: "Maximum number of files per pull cycle",
	}
	lotesFlag = &cli.StringSliceFlag{
		Name:  "lote",
		Usage: "Restrict the pull to this lote prefix. May be used multiple times.",
	}
	agentPortFlag = &cli.IntFlag{
		Name:  "port",
		Usage: "Port of the agent control endpoint",
	}
)

func main() {
	app := cli.App{
		Name:    "splitter-agent",
		Usage:   "pulls per-PV children from the splitter service into recebidos/",
		Version: version.Version(),
		Flags: []cli.Flag{
			flags.VerbosityFlag,
			flags.LogFormat,
			flags.LogFileName,
			baseURLFlag,
			modeFlag,
			agentPortFlag,
		},
		Commands: []*cli.Command{
			{
				Name:   "pull",
				Usage:  "run one pull cycle and exit",
				Flags:  []cli.Flag{limitFlag, lotesFlag},
				Action: pullOnce,
			},
		},
		// Without a subcommand the agent runs as a daemon.
		Action: runDaemon,
	}
	app.Before = configureLogging
	if err := app.Run(os.Args); err != nil {
		log.Error(err.Error())
		os.Exit(1)
	}
}

func configureLogging(ctx *cli.Context) error {
	level, err := logrus.ParseLevel(ctx.String(flags.VerbosityFlag.Name))
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
		formatter.DisableColors = ctx.String(flags.LogFileName.Name) != ""
		logrus.SetFormatter(formatter)
	case "fluentd":
		logrus.SetFormatter(joonix.NewFormatter())
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{})
	default:
		return fmt.Errorf("unknown log format %s", format)
	}

	if name := ctx.String(flags.LogFileName.Name); name != "" {
		if err := logs.ConfigurePersistentLogging(name, format); err != nil {
			log.WithError(err).Error("Failed to configure logging to disk")
		}
	}
	return nil
}

// agentConfig merges the environment options with the command line flags.
func agentConfig(cliCtx *cli.Context) *config.Agent {
	cfg := config.AgentFromEnv()
	if v := cliCtx.String(baseURLFlag.Name); v != "" {
		cfg.BaseURL = v
	}
	if downloadMode != "" {
		cfg.DownloadMode = downloadMode
	}
	if cliCtx.IsSet(agentPortFlag.Name) {
		cfg.Port = cliCtx.Int(agentPortFlag.Name)
	}
	return cfg
}

func runDaemon(cliCtx *cli.Context) error {
	ctx, cancel := context.WithCancel(cliCtx.Context)
	defer cancel()
	svc, err := agent.NewService(ctx, agentConfig(cliCtx))
	if err != nil {
		return err
	}
	registry := runtime.NewServiceRegistry()
	if err := registry.RegisterService(svc); err != nil {
		return err
	}
	registry.StartAll()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	sig := <-stop
	log.WithField("signal", sig.String()).Info("Shutting down")
	registry.StopAll()
	return nil
}

func pullOnce(cliCtx *cli.Context) error {
	cfg := agentConfig(cliCtx)
	svc, err := agent.NewService(cliCtx.Context, cfg)
	if err != nil {
		return err
	}
	res, err := svc.PullOnce(cliCtx.Context, agent.PullOptions{
		Limit: cliCtx.Int(limitFlag.Name),
		Lotes: cliCtx.StringSlice(lotesFlag.Name),
	})
	if err != nil {
		return err
	}
	enc, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(enc))
	if res.Failed > 0 {
		return cli.Exit("one or more downloads failed", 2)
	}
	return nil
}
