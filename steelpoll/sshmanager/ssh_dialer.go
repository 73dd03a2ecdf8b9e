package sshmanager

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"

	"github.com/steelcutops/steelpoll/steelpoll/poller"
	"golang.org/x/crypto/ssh"
)

// ContextDialer opens the raw network connection. *net.Dialer satisfies it.
type ContextDialer interface {
	DialContext(ctx context.Context, network, addr string) (net.Conn, error)
}

// SSHDialer implements Dialer on top of golang.org/x/crypto/ssh.
type SSHDialer struct {
	netDialer ContextDialer
}

type DialerOption func(*SSHDialer)

// WithNetDialer returns a DialerOption that replaces the TCP dialer.
func WithNetDialer(nd ContextDialer) DialerOption {
	return func(d *SSHDialer) {
		d.netDialer = nd
	}
}

func New(options ...DialerOption) *SSHDialer {
	d := &SSHDialer{netDialer: &net.Dialer{}}
	for _, option := range options {
		option(d)
	}
	return d
}

// Dial opens the connection within config.Timeout and runs the SSH
// handshake. The context deadline, if any, is applied to the underlying
// connection for its whole lifetime.
func (d *SSHDialer) Dial(ctx context.Context, network, addr string, config *ssh.ClientConfig) (Client, error) {
	dialCtx, cancel := ctx, context.CancelFunc(func() {})
	if config.Timeout > 0 {
		dialCtx, cancel = context.WithTimeout(ctx, config.Timeout)
	}
	conn, err := d.netDialer.DialContext(dialCtx, network, addr)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", poller.ErrConnect, err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(deadline); err != nil {
			conn.Close()
			return nil, fmt.Errorf("%w: %w", poller.ErrConnect, err)
		}
	}

	c, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if err != nil {
		conn.Close()
		return nil, classifyHandshakeError(err)
	}

	return &sshClient{client: ssh.NewClient(c, chans, reqs)}, nil
}

// x/crypto/ssh has no typed error for rejected credentials.
func classifyHandshakeError(err error) error {
	if strings.Contains(err.Error(), "unable to authenticate") {
		return fmt.Errorf("%w: %w", poller.ErrAuth, err)
	}
	return fmt.Errorf("%w: %w", poller.ErrHandshake, err)
}

type sshClient struct {
	client *ssh.Client
}

func (c *sshClient) NewSession() (Session, error) {
	s, err := c.client.NewSession()
	if err != nil {
		return nil, err
	}
	return &sshSession{session: s}, nil
}

func (c *sshClient) Close() error {
	return c.client.Close()
}

type sshSession struct {
	session *ssh.Session
}

func (s *sshSession) Run(cmd string, stdout, stderr io.Writer) error {
	s.session.Stdout = stdout
	s.session.Stderr = stderr
	return s.session.Run(cmd)
}

func (s *sshSession) Close() error {
	err := s.session.Close()
	// Run already closes the channel once the command exits.
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// ExitStatus extracts the remote exit status from an error returned by
// Session.Run. ok is false when err is not an exit report, meaning the
// command channel itself failed. A server that closes the channel
// without reporting a status yields -1.
func ExitStatus(err error) (code int, ok bool) {
	if err == nil {
		return 0, true
	}

	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitStatus(), true
	}

	var missingErr *ssh.ExitMissingError
	if errors.As(err, &missingErr) {
		return -1, true
	}

	return 0, false
}
