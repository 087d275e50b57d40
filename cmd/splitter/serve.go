package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/netunna/splitter/cmd/flags"
	"github.com/netunna/splitter/config"
	"github.com/netunna/splitter/pull/server"
	"github.com/netunna/splitter/runtime"
)

var (
	serverHostFlag = &cli.StringFlag{
		Name:  "host",
		Usage: "Host interface the pull service binds to",
		Value: "0.0.0.0",
	}
	serverPortFlag = &cli.IntFlag{
		Name:  "port",
		Usage: "Port the pull service binds to",
		Value: config.DefaultServerPort,
	}
	databaseFlag = &cli.StringFlag{
		Name:  "db",
		Usage: "Path of the bbolt database tracking file states and leases",
		Value: config.DefaultServerDBFile,
	}
	apiTokenFlag = &cli.StringFlag{
		Name:  "api-token",
		Usage: "Bearer token required on the pull endpoints; empty disables authentication",
	}
	leaseTTLFlag = &cli.DurationFlag{
		Name:  "lease-ttl",
		Usage: "Default lease duration granted to agents",
		Value: config.DefaultLeaseTTL,
	}
	watchOutputFlag = &cli.BoolFlag{
		Name:  "watch",
		Usage: "Watch the output root and register new children as they appear",
	}
	allowedOriginsFlag = &cli.StringSliceFlag{
		Name:  "cors-origins",
		Usage: "Comma separated list of origins allowed by CORS",
	}
)

var serveCommand = &cli.Command{
	Name:  "serve",
	Usage: "run the pull service that leases children to agents",
	Flags: []cli.Flag{
		serverHostFlag,
		serverPortFlag,
		flags.OutputRootFlag,
		databaseFlag,
		apiTokenFlag,
		leaseTTLFlag,
		watchOutputFlag,
		allowedOriginsFlag,
	},
	Action: servePull,
}

func servePull(cliCtx *cli.Context) error {
	cfg := &config.Server{
		Host:           cliCtx.String(serverHostFlag.Name),
		Port:           cliCtx.Int(serverPortFlag.Name),
		OutputRoot:     cliCtx.String(flags.OutputRootFlag.Name),
		DatabasePath:   cliCtx.String(databaseFlag.Name),
		APIToken:       cliCtx.String(apiTokenFlag.Name),
		AllowedOrigins: cliCtx.StringSlice(allowedOriginsFlag.Name),
		DefaultTTL:     cliCtx.Duration(leaseTTLFlag.Name),
		WatchOutput:    cliCtx.Bool(watchOutputFlag.Name),
	}

	ctx, cancel := context.WithCancel(cliCtx.Context)
	defer cancel()
	svc, err := server.NewService(ctx, cfg)
	if err != nil {
		return cli.Exit(err.Error(), exitFatalIO)
	}

	registry := runtime.NewServiceRegistry()
	if err := registry.RegisterService(svc); err != nil {
		return cli.Exit(err.Error(), exitFatalIO)
	}
	registry.StartAll()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	sig := <-stop
	log.WithField("signal", sig.String()).Info("Shutting down")
	registry.StopAll()
	return nil
}
