package client

import (
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strconv"
)

const DefaultURL = "ws://localhost:9090"

// Host describes where the bridge is running. Inside a browser (js/wasm) the page URL can
// override the configured endpoint.
type Host interface {
	InBrowser() bool
	PageURL() (*url.URL, error)
}

// EndpointConfig is the configuration consumed by ResolveEndpoint.
type EndpointConfig struct {
	URL         string // Fallback endpoint, e.g. ws://localhost:9090
	QueryParam  string // Page query parameter that overrides the endpoint, e.g. "rosbridge"
	BrowserPort int    // Port combined with the page hostname; 0 disables the hostname default
}

// ResolveEndpoint picks the rosbridge URL. In a browser host the priority is the query
// parameter override, then the page hostname with BrowserPort, then the configured URL. Any
// failure in the first two steps falls through to the next one. Outside a browser the
// configured URL is used directly.
func ResolveEndpoint(host Host, cfg EndpointConfig) string {
	fallback := cfg.URL
	if fallback == "" {
		fallback = DefaultURL
	}
	if host == nil || !host.InBrowser() {
		return fallback
	}

	page, err := host.PageURL()
	if err != nil {
		slog.Warn("Could not read page URL, using configured endpoint", "error", err.Error(), "url", fallback)
		return fallback
	}

	if u, err := fromQuery(page, cfg.QueryParam); err != nil {
		slog.Warn("Ignoring endpoint query parameter", "param", cfg.QueryParam, "error", err.Error())
	} else if u != "" {
		slog.Info("Using endpoint from query parameter", "param", cfg.QueryParam, "url", u)
		return u
	}

	if u, err := fromHostname(page, cfg.BrowserPort); err != nil {
		slog.Warn("Could not derive endpoint from page hostname", "error", err.Error())
	} else if u != "" {
		slog.Info("Using endpoint derived from page hostname", "url", u)
		return u
	}

	return fallback
}

func fromQuery(page *url.URL, param string) (string, error) {
	if param == "" {
		return "", nil
	}
	raw := page.Query().Get(param)
	if raw == "" {
		return "", nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return "", fmt.Errorf("endpoint %q must use ws or wss", raw)
	}
	if u.Host == "" {
		return "", fmt.Errorf("endpoint %q has no host", raw)
	}
	return u.String(), nil
}

func fromHostname(page *url.URL, port int) (string, error) {
	if port <= 0 {
		return "", nil
	}
	if port > 65535 {
		return "", fmt.Errorf("invalid port %d", port)
	}
	hostname := page.Hostname()
	if hostname == "" {
		return "", fmt.Errorf("page URL %q has no hostname", page.String())
	}
	scheme := "ws"
	if page.Scheme == "https" {
		scheme = "wss"
	}
	u := url.URL{Scheme: scheme, Host: net.JoinHostPort(hostname, strconv.Itoa(port))}
	return u.String(), nil
}

// NativeHost is a process that is not embedded in a web page.
type NativeHost struct{}

func (NativeHost) InBrowser() bool { return false }

func (NativeHost) PageURL() (*url.URL, error) {
	return nil, fmt.Errorf("not running in a browser")
}

// PageHost treats the bridge as embedded in the page at Raw. It lets native builds behave like
// the browser build, e.g. when the visualizer page URL is passed on the command line.
type PageHost struct {
	Raw string
}

func (h PageHost) InBrowser() bool { return h.Raw != "" }

func (h PageHost) PageURL() (*url.URL, error) {
	return url.Parse(h.Raw)
}
