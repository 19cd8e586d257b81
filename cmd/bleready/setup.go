package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/bleready/internal/devicefactory"
	"github.com/srg/bleready/internal/session"
	"github.com/srg/bleready/pkg/config"
)

// loadConfig reads --config and overlays every global flag that was set
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	overlay := func(name string, dst *string) {
		if flags.Changed(name) {
			*dst, _ = flags.GetString(name)
		}
	}
	overlay("backend", &cfg.Backend)
	overlay("address", &cfg.Address)
	overlay("name-prefix", &cfg.NamePrefix)
	overlay("service", &cfg.ServiceUUID)
	overlay("characteristic", &cfg.CharacteristicUUID)
	overlay("command", &cfg.Command)
	overlay("end-marker", &cfg.EndMarker)
	if flags.Changed("timeout") {
		cfg.ConnectTimeout, _ = flags.GetDuration("timeout")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// app is what every session command needs
type app struct {
	cfg      *config.Config
	logger   *logrus.Logger
	platform devicefactory.Platform
}

func setup(cmd *cobra.Command) (*app, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	logger, err := configureLogger(cmd, cfg)
	if err != nil {
		return nil, err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	platform, err := devicefactory.NewPlatform(cfg.Backend, logger)
	if err != nil {
		return nil, err
	}
	logger.WithFields(logrus.Fields{
		"backend": cfg.Backend,
		"filter":  cfg.Filter().String(),
	}).Debug("Platform ready")

	return &app{cfg: cfg, logger: logger, platform: platform}, nil
}

func (a *app) controller(sink session.Sink, onComplete session.CompletionHandler) *session.Controller {
	opts := a.cfg.SessionOptions()
	opts.OnComplete = onComplete
	return session.NewController(a.platform, sink, a.logger, opts)
}

func (a *app) close() {
	if err := a.platform.Close(); err != nil {
		a.logger.WithError(err).Warn("Failed to release BLE platform")
	}
}

// connectContext bounds a connect attempt by the configured timeout
func (a *app) connectContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if a.cfg.ConnectTimeout > 0 {
		return context.WithTimeout(ctx, a.cfg.ConnectTimeout)
	}
	return context.WithCancel(ctx)
}

// signalContext is canceled on Ctrl+C or SIGTERM
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
