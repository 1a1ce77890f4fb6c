package app

import (
	"errors"

	"onlineauth/internal/watch"
)

// WatchConfig configures the terminal presence watcher.
type WatchConfig struct {
	ServerURL   string
	Email       string
	SessionPath string
}

// RunWatch launches the Bubble Tea presence watcher with the provided configuration.
func RunWatch(cfg WatchConfig) error {
	if cfg.ServerURL == "" {
		return errors.New("server URL is required")
	}
	if cfg.SessionPath == "" {
		cfg.SessionPath = watch.DefaultSessionPath()
	}
	return watch.Run(watch.Config{
		ServerURL:   cfg.ServerURL,
		Email:       cfg.Email,
		SessionPath: cfg.SessionPath,
	})
}
