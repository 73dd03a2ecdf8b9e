package sshpoller

import (
	"time"

	"github.com/steelcutops/steelpoll/logger"
	"github.com/steelcutops/steelpoll/steelpoll/sshmanager"
)

type Option func(*SSHPoller)

// WithDialer returns an Option that replaces the SSH transport.
func WithDialer(dialer sshmanager.Dialer) Option {
	return func(p *SSHPoller) {
		p.dialer = dialer
	}
}

// WithLogger returns an Option that sets the logger for a poller.
func WithLogger(l logger.Logger) Option {
	return func(p *SSHPoller) {
		p.log = l.With("component", "ssh_poller")
	}
}

// WithConnectTimeout returns an Option that bounds the TCP connect.
// Non-positive values are ignored.
func WithConnectTimeout(d time.Duration) Option {
	return func(p *SSHPoller) {
		if d > 0 {
			p.connectTimeout = d
		}
	}
}

// WithTimeout returns an Option that bounds a whole Poll call.
// Non-positive values are ignored.
func WithTimeout(d time.Duration) Option {
	return func(p *SSHPoller) {
		if d > 0 {
			p.timeout = d
		}
	}
}
