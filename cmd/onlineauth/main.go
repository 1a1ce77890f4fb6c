package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"onlineauth/internal/app"
	"onlineauth/internal/logging"
)

const (
	modeServer = "server"
	modeWatch  = "watch"
	modeLocal  = "local"
)

func main() {
	mode, args := parseMode(os.Args[1:])
	flagSet := flag.NewFlagSet("onlineauth", flag.ExitOnError)
	configPath := flagSet.String("config", envOrDefault("CONFIG_FILE", ""), "optional YAML config file")
	addr := flagSet.String("addr", defaultAddrForMode(mode), "server listen address (overrides PORT)")
	serverURL := flagSet.String("server-url", envOrDefault("ONLINEAUTH_SERVER", "ws://localhost:3000/ws"), "online-count WebSocket URL (watch mode)")
	email := flagSet.String("email", envOrDefault("ONLINEAUTH_EMAIL", ""), "default email for the login prompt")
	quiet := flagSet.Bool("quiet", false, "suppress informational logs")
	flagSet.Parse(args)

	serverCfg, err := app.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "onlineauth: %v\n", err)
		os.Exit(1)
	}
	if *addr != "" {
		serverCfg.Addr = *addr
	}

	watchCfg := app.WatchConfig{
		ServerURL: *serverURL,
		Email:     *email,
	}

	var logger logging.Logger
	if *quiet {
		logger = logging.Discard()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch mode {
	case modeServer:
		err = runServerMode(ctx, serverCfg, logger)
	case modeLocal:
		err = runLocalMode(ctx, serverCfg, watchCfg, logger)
	default:
		err = app.RunWatch(watchCfg)
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "onlineauth: %v\n", err)
		os.Exit(1)
	}
}

func runServerMode(ctx context.Context, cfg app.ServerConfig, logger logging.Logger) error {
	handle, err := app.RunServer(ctx, cfg, logger)
	if err != nil {
		return err
	}
	return handle.Wait()
}

// runLocalMode starts a server on a loopback port and points the watcher at it.
func runLocalMode(ctx context.Context, serverCfg app.ServerConfig, watchCfg app.WatchConfig, logger logging.Logger) error {
	if logger == nil {
		// The watcher owns the terminal; server logs would corrupt its view.
		logger = logging.Discard()
	}
	handle, err := app.RunServer(ctx, serverCfg, logger)
	if err != nil {
		return err
	}
	defer stopServer(handle)

	if err := waitForServer(handle.Addr(), 5*time.Second); err != nil {
		return err
	}

	watchCfg.ServerURL = buildWebsocketURL(handle.Addr())
	if err := app.RunWatch(watchCfg); err != nil {
		return err
	}
	stopServer(handle)
	return handle.Wait()
}

func waitForServer(addr string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		conn, err := net.DialTimeout("tcp", addr, 500*time.Millisecond)
		if err == nil {
			_ = conn.Close()
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("server did not become ready: %w", err)
		}
		time.Sleep(100 * time.Millisecond)
	}
}

func buildWebsocketURL(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Sprintf("ws://%s/ws", addr)
	}
	return fmt.Sprintf("ws://%s/ws", net.JoinHostPort(host, port))
}

func parseMode(args []string) (string, []string) {
	if len(args) == 0 {
		return modeWatch, args
	}
	switch strings.ToLower(args[0]) {
	case modeServer, modeWatch, modeLocal:
		return strings.ToLower(args[0]), args[1:]
	}
	return modeWatch, args
}

func defaultAddrForMode(mode string) string {
	if mode == modeLocal {
		return "127.0.0.1:0"
	}
	return ""
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func stopServer(handle *app.ServerHandle) {
	if handle == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = handle.Stop(shutdownCtx)
}
