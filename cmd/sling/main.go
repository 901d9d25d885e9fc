// sling is the rebalancing engine's daemon entrypoint. It loads
// configuration, dials the host lnd node, wires the engine together,
// and runs until interrupted.
//
// Grounded on the teacher's main(): load config, dial lndclient, build
// the lightning/router clients, run until a stop signal, persisting
// state on exit — generalized from a single timed rebalance session
// into a long-running daemon with graceful shutdown.
package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/daywalker90/sling/internal/config"
	"github.com/daywalker90/sling/internal/engine"
	"github.com/daywalker90/sling/internal/host/lnd"
)

// buildVersion is overridden at build time via -ldflags.
var buildVersion = "dev"

func main() {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	entry := logrus.NewEntry(log)

	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		entry.WithError(err).Fatal("failed to load configuration")
	}
	if err := config.Validate(cfg); err != nil {
		entry.Fatal(err)
	}

	client, err := lnd.Dial(cfg.Connect, cfg.TLSCert, cfg.MacaroonDir, cfg.Network, cfg.MacaroonFilename)
	if err != nil {
		entry.WithError(err).Fatal("failed to connect to lnd")
	}

	engine.Version = buildVersion
	eng, err := engine.New(cfg, client.Node(), entry)
	if err != nil {
		entry.WithError(err).Fatal("failed to initialize engine")
	}
	if err := eng.Start(); err != nil {
		entry.WithError(err).Fatal("failed to start engine")
	}

	entry.Info("sling started")

	stopChan := make(chan os.Signal, 1)
	signal.Notify(stopChan, os.Interrupt, syscall.SIGTERM)
	<-stopChan

	entry.Info("shutting down")
	eng.Stop()
}
