// Package main runs the rosbridge bridge as a standalone process.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/mbocsi/skybridge/app"
	"github.com/mbocsi/skybridge/config"
)

const (
	flagConfig     = "config"
	flagURL        = "url"
	flagPageURL    = "page-url"
	flagRetryCount = "retry-count"
	flagHTTP       = "http"
	flagMCP        = "mcp"
	flagDiscover   = "discover"
	flagLogLevel   = "log-level"
	flagLogFormat  = "log-format"
)

func main() {
	if err := newCLI(run).Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newCLI(action cli.ActionFunc) *cli.App {
	return &cli.App{
		Name:    "skybridge",
		Usage:   "route rosbridge topics to pose, status and LED adapters",
		Version: app.Version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    flagConfig,
				Aliases: []string{"c"},
				Usage:   "load configuration from `FILE`",
				EnvVars: []string{"SKYBRIDGE_CONFIG"},
			},
			&cli.StringFlag{
				Name:    flagURL,
				Usage:   "rosbridge WebSocket URL",
				EnvVars: []string{"SKYBRIDGE_URL"},
			},
			&cli.StringFlag{
				Name:  flagPageURL,
				Usage: "resolve the endpoint as if embedded in the page at `URL`",
			},
			&cli.IntFlag{
				Name:  flagRetryCount,
				Usage: "connection retries after the first attempt",
				Value: -1,
			},
			&cli.StringFlag{
				Name:  flagHTTP,
				Usage: "HTTP control surface address, empty to disable",
			},
			&cli.BoolFlag{
				Name:  flagMCP,
				Usage: "serve MCP tools over stdio",
			},
			&cli.BoolFlag{
				Name:  flagDiscover,
				Usage: "discover rosbridge over mDNS",
			},
			&cli.StringFlag{
				Name:  flagLogLevel,
				Usage: "debug, info, warn or error",
			},
			&cli.StringFlag{
				Name:  flagLogFormat,
				Usage: "text or json",
			},
		},
		Action: action,
	}
}

func run(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	// stdout carries the MCP protocol when it is enabled.
	var out io.Writer = os.Stdout
	if cfg.MCP.Enabled {
		out = os.Stderr
	}
	app.SetupLogger(cfg.Log.Level, cfg.Log.Format, out)

	bridge, err := app.New(cfg, app.Options{})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Starting bridge", "url", bridge.URL(), "http", cfg.HTTP.Addr, "mcp", cfg.MCP.Enabled)
	return bridge.Run(ctx)
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.String(flagConfig))
	if err != nil {
		return nil, err
	}
	applyFlags(c, cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func applyFlags(c *cli.Context, cfg *config.Config) {
	if c.IsSet(flagURL) {
		cfg.Rosbridge.URL = c.String(flagURL)
	}
	if c.IsSet(flagPageURL) {
		cfg.Rosbridge.PageURL = c.String(flagPageURL)
	}
	if n := c.Int(flagRetryCount); n >= 0 {
		cfg.Rosbridge.RetryCount = n
	}
	if c.IsSet(flagHTTP) {
		cfg.HTTP.Addr = c.String(flagHTTP)
	}
	if c.IsSet(flagMCP) {
		cfg.MCP.Enabled = c.Bool(flagMCP)
	}
	if c.IsSet(flagDiscover) {
		cfg.Discovery.Enabled = c.Bool(flagDiscover)
	}
	if c.IsSet(flagLogLevel) {
		cfg.Log.Level = c.String(flagLogLevel)
	}
	if c.IsSet(flagLogFormat) {
		cfg.Log.Format = c.String(flagLogFormat)
	}
}
