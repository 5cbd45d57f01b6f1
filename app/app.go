package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/mbocsi/skybridge/adapters"
	"github.com/mbocsi/skybridge/client"
	"github.com/mbocsi/skybridge/config"
	"github.com/mbocsi/skybridge/mcp"
	"github.com/mbocsi/skybridge/web"
)

const Version = "0.3.0"

// App wires one rosbridge session to the configured adapters and the control surfaces.
type App struct {
	Config   *config.Config
	Session  *client.Session
	Adapters *AdapterRegistry
	Metrics  *prometheus.Registry

	web       *web.Server
	mcpServer *mcp.MCPServer
}

// Options carries the collaborators New does not build from the configuration.
type Options struct {
	Transport client.Transport // Defaults to a WebSocket transport
	Host      client.Host      // Defaults to the build's host
}

func New(cfg *config.Config, opts Options) (*App, error) {
	if opts.Transport == nil {
		opts.Transport = client.NewWebSocketTransport()
	}
	if opts.Host == nil {
		opts.Host = client.DefaultHost()
		if cfg.Rosbridge.PageURL != "" {
			opts.Host = client.PageHost{Raw: cfg.Rosbridge.PageURL}
		}
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	endpoint := cfg.Endpoint()
	if cfg.Discovery.Enabled {
		if svc, err := client.DiscoverRosbridge(cfg.Discovery.Service, cfg.Discovery.Timeout); err != nil {
			slog.Warn("Rosbridge discovery failed, using configured endpoint", "error", err.Error(), "url", endpoint.URL)
		} else {
			endpoint.URL = svc.URL()
		}
	}

	session := client.NewSession(opts.Transport, client.SessionOptions{
		URL:       client.ResolveEndpoint(opts.Host, endpoint),
		QueueSize: cfg.Rosbridge.QueueSize,
		Metrics:   client.NewMetrics(reg),
	})

	a := &App{
		Config:   cfg,
		Session:  session,
		Adapters: NewAdapterRegistry(),
		Metrics:  reg,
	}
	if err := a.registerAdapters(); err != nil {
		return nil, err
	}

	session.OnConnected(func() { slog.Info("Bridge online", "url", session.URL(), "topics", len(session.Topics())) })
	session.OnError(func(err error) { slog.Debug("Session error", "error", err.Error()) })

	if cfg.HTTP.Addr != "" {
		a.web = web.NewServer(cfg.HTTP.Addr, a, a, reg)
	}
	if cfg.MCP.Enabled {
		a.mcpServer = mcp.NewMCPServer(Version, a, a)
	}
	return a, nil
}

func (a *App) registerAdapters() error {
	for _, o := range a.Config.Odometry {
		a.Adapters.StoreOdometry(adapters.NewOdometry(o.Adapter()))
	}
	for _, s := range a.Config.Status {
		a.Adapters.StoreStatus(adapters.NewLatest(s.Name, s.Topic, s.Type))
	}
	for _, l := range a.Config.LEDs {
		a.Adapters.StoreLED(adapters.NewLED(l.Name, l.Topic, l.Type))
	}

	for _, adapter := range a.Adapters.All() {
		if err := a.Session.Subscribe(adapter); err != nil {
			return fmt.Errorf("subscribe adapter %s: %w", adapter.Name(), err)
		}
	}
	return nil
}

// Run drives the session, the per-frame adapter update and the control surfaces until ctx is
// done.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := a.Session.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		a.frameLoop(ctx)
		return nil
	})
	if a.web != nil {
		g.Go(func() error { return a.web.Start(ctx) })
	}
	if a.Config.Rosbridge.AutoConnect {
		g.Go(func() error {
			if err := a.Connect(ctx); err != nil {
				slog.Warn("Automatic connect failed", "error", err.Error())
			}
			return nil
		})
	}
	if a.mcpServer != nil {
		// ServeStdio handles its own signals and exits on stdin EOF.
		go func() {
			if err := a.mcpServer.Run(); err != nil {
				slog.Error("MCP server stopped", "error", err.Error())
			}
		}()
	}

	err := g.Wait()
	if cerr := a.Session.Close(); cerr != nil {
		slog.Warn("Error closing session", "error", cerr.Error())
	}
	slog.Info("Bridge stopped")
	return err
}

func (a *App) frameLoop(ctx context.Context) {
	rate := a.Config.Rosbridge.FrameRate
	if rate <= 0 {
		rate = 60
	}
	interval := time.Duration(float64(time.Second) / rate)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			a.Tick(now.Sub(last).Seconds())
			last = now
		}
	}
}

// Tick advances every odometry adapter by dt seconds.
func (a *App) Tick(dt float64) {
	for _, o := range a.Adapters.OdometryList() {
		o.Tick(dt)
	}
}

func (a *App) State() client.State        { return a.Session.State() }
func (a *App) URL() string                { return a.Session.URL() }
func (a *App) Topics() []client.TopicInfo { return a.Session.Topics() }

// Connect connects with the configured retry policy. Connecting while connected is a no-op.
func (a *App) Connect(ctx context.Context) error {
	return a.Session.ConnectWithRetry(ctx, a.Config.Rosbridge.RetryCount, a.Config.RetryDelay())
}

func (a *App) Disconnect() error {
	return a.Session.Disconnect()
}

func (a *App) Poses() []adapters.PoseSnapshot {
	list := a.Adapters.OdometryList()
	poses := make([]adapters.PoseSnapshot, 0, len(list))
	for _, o := range list {
		poses = append(poses, o.Snapshot())
	}
	return poses
}

func (a *App) Pose(name string) (adapters.PoseSnapshot, bool) {
	o, ok := a.Adapters.Odometry(name)
	if !ok {
		return adapters.PoseSnapshot{}, false
	}
	return o.Snapshot(), true
}

func (a *App) Telemetry() map[string]any {
	return a.Adapters.Telemetry()
}
