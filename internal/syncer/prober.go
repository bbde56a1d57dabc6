package syncer

import (
	"context"
	"net"
	"net/url"
	"time"

	"github.com/dhruvsoni1802/browser-usage-tracker/internal/session"
)

// Prober reports whether the backend network is reachable at all
type Prober interface {
	Online(ctx context.Context, cfg session.Config) bool
}

// ProberFunc adapts a function to Prober
type ProberFunc func(ctx context.Context, cfg session.Config) bool

func (f ProberFunc) Online(ctx context.Context, cfg session.Config) bool {
	return f(ctx, cfg)
}

// DialProber considers the network up when a TCP connection to the endpoint
// host can be opened
type DialProber struct {
	Timeout time.Duration
}

func (p DialProber) Online(ctx context.Context, cfg session.Config) bool {
	u, err := url.Parse(cfg.BaseURL())
	if err != nil || u.Hostname() == "" {
		return false
	}

	port := u.Port()
	if port == "" {
		port = "443"
		if u.Scheme == "http" {
			port = "80"
		}
	}

	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(u.Hostname(), port))
	if err != nil {
		return false
	}
	conn.Close()
	return true
}
