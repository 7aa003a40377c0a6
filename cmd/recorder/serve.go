package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	recorder "github.com/warcrec/recorder"
)

func serve(cmd *cobra.Command, args []string) {
	configPath := cmd.Flags().Lookup("config").Value.String()

	settings, err := recorder.LoadSettings(configPath)
	if err != nil {
		logrus.Fatalf("failed to load settings: %s", err.Error())
	}
	if listen := cmd.Flags().Lookup("listen").Value.String(); listen != "" {
		settings.ListenAddr = listen
	}
	if upstream := cmd.Flags().Lookup("upstream").Value.String(); upstream != "" {
		settings.UpstreamURL = upstream
	}
	if settings.UpstreamURL == "" {
		logrus.Fatal("no upstream fetcher configured (upstream_url)")
	}

	svc, cleanup, err := recorder.NewService(settings)
	if err != nil {
		logrus.Fatalf("failed to build recorder: %s", err.Error())
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logrus.WithFields(logrus.Fields{
		"listen":   settings.ListenAddr,
		"upstream": settings.UpstreamURL,
	}).Info("recorder started")

	if err := svc.Run(ctx, settings.ListenAddr); err != nil {
		logrus.Fatalf("recorder stopped: %s", err.Error())
	}
}
