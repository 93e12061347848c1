package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/bhandras/chatsync/internal/auth"
	"github.com/bhandras/chatsync/internal/client"
	"github.com/bhandras/chatsync/internal/config"
	"github.com/bhandras/chatsync/internal/media"
	"github.com/bhandras/chatsync/internal/storage"
	"github.com/bhandras/chatsync/internal/websocket"
	"github.com/bhandras/chatsync/pkg/logger"
	"github.com/urfave/cli/v2"
)

type contextKey int

const (
	contextKeyConfig contextKey = iota
	contextKeyClient
)

func getConfig(ctx *cli.Context) *config.Config {
	return ctx.Context.Value(contextKeyConfig).(*config.Config)
}

func getClient(ctx *cli.Context) *client.Client {
	return ctx.Context.Value(contextKeyClient).(*client.Client)
}

// prepareApp loads the configuration, sets up logging and assembles a Client
// over the configured store. The client is closed in cleanupApp.
func prepareApp(ctx *cli.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if ctx.Bool("debug") {
		cfg.LogLevel = "debug"
	}
	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	logger.SetLevel(level)
	logger.SetJSON(cfg.LogJSON)

	if err := cfg.Save(); err != nil {
		return err
	}
	kv, closeKV, err := storage.Open(cfg.StoreBackend, cfg.Home)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}

	var gate media.Gate = media.Disabled{}
	if cfg.UploadsEnabled() {
		gate = media.NewCloudinaryGate(cfg.CloudName, cfg.UploadPreset)
	}

	c := client.New(client.Options{
		KV:             kv,
		Dialer:         websocket.Dialer{ServerURL: cfg.ServerURL, Path: cfg.SocketPath},
		Auth:           auth.NewClient(cfg.APIURL),
		Gate:           gate,
		ConnectTimeout: cfg.ConnectTimeout,
		SendTimeout:    cfg.SendTimeout,
	})
	cleanups = append(cleanups, c.Close, func() {
		if err := closeKV(); err != nil {
			logger.Warnf("close store: %v", err)
		}
	})

	newCtx := context.WithValue(ctx.Context, contextKeyConfig, cfg)
	newCtx = context.WithValue(newCtx, contextKeyClient, c)
	ctx.Context = newCtx
	return nil
}

// requiresSession prepares the app and bootstraps the stored credential.
func requiresSession(ctx *cli.Context) error {
	if err := prepareApp(ctx); err != nil {
		return err
	}
	route, err := getClient(ctx).Bootstrap(ctx.Context)
	if err != nil {
		return err
	}
	if route != client.RouteAuthenticated {
		return fmt.Errorf("you are not logged in, run 'chatsync login' first")
	}
	return nil
}

var cleanups []func()

func cleanupApp(*cli.Context) error {
	for i := len(cleanups) - 1; i >= 0; i-- {
		cleanups[i]()
	}
	cleanups = nil
	return nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := &cli.App{
		Name:    "chatsync",
		Usage:   "Terminal client for the chat server",
		Version: "0.1.0",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "debug",
				Usage:   "Enable debug logging",
				EnvVars: []string{"CHATSYNC_DEBUG"},
			},
		},
		After: cleanupApp,
		Commands: []*cli.Command{
			loginCommand,
			registerCommand,
			logoutCommand,
			whoamiCommand,
			profileCommand,
			contactsCommand,
			conversationsCommand,
			createCommand,
			messagesCommand,
			sendCommand,
			watchCommand,
		},
	}
	if err := app.RunContext(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}
