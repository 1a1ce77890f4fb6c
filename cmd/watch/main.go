package main

import (
	"flag"
	"fmt"
	"os"

	"onlineauth/internal/app"
)

func main() {
	defaultServer := envOrDefault("ONLINEAUTH_SERVER", "ws://localhost:3000/ws")
	defaultEmail := envOrDefault("ONLINEAUTH_EMAIL", "")

	serverURL := flag.String("server", defaultServer, "WebSocket URL of the online-count channel (e.g., ws://localhost:3000/ws)")
	email := flag.String("email", defaultEmail, "default email for the login prompt")
	sessionPath := flag.String("session", "", "path of the saved login session (defaults to the user config dir)")
	flag.Parse()

	cfg := app.WatchConfig{
		ServerURL:   *serverURL,
		Email:       *email,
		SessionPath: *sessionPath,
	}

	if err := app.RunWatch(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
