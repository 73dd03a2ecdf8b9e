package sshmanager

import (
	"context"
	"io"
	"time"

	"github.com/steelcutops/steelpoll/steelpoll/poller"
	"golang.org/x/crypto/ssh"
)

// Dialer establishes an authenticated SSH connection. The returned error
// wraps one of poller.ErrConnect, poller.ErrAuth or poller.ErrHandshake.
type Dialer interface {
	Dial(ctx context.Context, network, addr string, config *ssh.ClientConfig) (Client, error)
}

// Client is an authenticated connection that can open exec sessions.
type Client interface {
	NewSession() (Session, error)
	Close() error
}

// Session runs exactly one remote command.
type Session interface {
	Run(cmd string, stdout, stderr io.Writer) error
	Close() error
}

// PasswordConfig returns a client config that authenticates with a
// password and accepts whatever host key the server presents.
func PasswordConfig(creds poller.Credentials, connectTimeout time.Duration) *ssh.ClientConfig {
	return &ssh.ClientConfig{
		User:            creds.Username,
		Auth:            []ssh.AuthMethod{ssh.Password(creds.Password)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         connectTimeout,
	}
}
