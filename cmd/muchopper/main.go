package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/sirupsen/logrus"

	"github.com/horazont/muchopper/setup"
	"github.com/horazont/muchopper/setup/config"
	"github.com/horazont/muchopper/setup/process"
	"github.com/horazont/muchopper/xmpp"
)

var (
	configPath  = flag.String("config", "muchopper.yaml", "Path to the configuration file")
	checkConfig = flag.Bool("check-config", false, "Validate the configuration and exit")
)

// connectSession is the hook a deployment overrides when linking a
// concrete chat protocol implementation into this binary, in the same
// way the embedded-server demos inject their transports. The stock
// binary can only run the HTTP surface.
var connectSession func(ctx context.Context, cfg *config.MUCHopper) (xmpp.Client, error)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.WithError(err).Fatal("Invalid configuration")
	}
	if *checkConfig {
		logrus.Info("Configuration OK")
		return
	}

	level, err := logrus.ParseLevel(cfg.Global.LogLevel)
	if err != nil {
		logrus.WithError(err).Fatal("Invalid log level")
	}
	logrus.SetLevel(level)

	if cfg.Global.Sentry.Enabled {
		err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.Global.Sentry.DSN,
			AttachStacktrace: true,
		})
		if err != nil {
			logrus.WithError(err).Fatal("Failed to initialise Sentry")
		}
		defer func() {
			if !sentry.Flush(5 * time.Second) {
				logrus.Warn("Failed to flush all Sentry events")
			}
		}()
	}

	processCtx := process.NewProcessContext()

	var client xmpp.Client
	if len(cfg.Crawler.Components) > 0 {
		if connectSession == nil {
			logrus.Fatal("No chat session transport linked into this binary; " +
				"components require one, see the deployment documentation")
		}
		client, err = connectSession(processCtx.Context(), cfg)
		if err != nil {
			logrus.WithError(err).Fatal("Failed to establish chat session")
		}
	}

	supervisor, err := setup.NewSupervisor(cfg, client, processCtx)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to open the store")
	}
	if err := supervisor.Start(); err != nil {
		logrus.WithError(err).Fatal("Failed to start components")
	}

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-signals:
		logrus.WithField("signal", sig).Info("Shutting down")
	case <-processCtx.WaitForShutdown():
	}

	processCtx.ShutdownGracefully()
	processCtx.WaitForComponentsToFinish()
	if degraded, components := processCtx.IsDegraded(); degraded {
		logrus.WithField("components", components).Warn("Exited degraded")
		os.Exit(1)
	}
	logrus.Info("Shutdown complete")
}
