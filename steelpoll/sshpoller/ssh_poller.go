// Package sshpoller checks that a host accepts SSH password logins and
// optionally runs one command there.
package sshpoller

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"
	"unicode/utf8"

	multierror "github.com/hashicorp/go-multierror"
	"github.com/steelcutops/steelpoll/logger"
	"github.com/steelcutops/steelpoll/steelpoll/poller"
	"github.com/steelcutops/steelpoll/steelpoll/sshmanager"
)

const (
	DefaultConnectTimeout = 5 * time.Second
	DefaultTimeout        = 20 * time.Second
)

// SSHPoller implements poller.Poller over SSH. It holds no per-call
// state, so one value can serve any number of sequential or concurrent
// Poll calls.
type SSHPoller struct {
	dialer         sshmanager.Dialer
	log            logger.Logger
	connectTimeout time.Duration
	timeout        time.Duration
}

var _ poller.Poller = (*SSHPoller)(nil)

func New(options ...Option) *SSHPoller {
	p := &SSHPoller{
		dialer:         sshmanager.New(),
		log:            logger.Discard(),
		connectTimeout: DefaultConnectTimeout,
		timeout:        DefaultTimeout,
	}
	for _, option := range options {
		option(p)
	}
	return p
}

// Poll connects to in.Server:in.Port, authenticates with in.Credentials
// and runs in.Task when it is set. Every failure, including the overall
// timeout and panics in the transport, is returned as a failed Result.
func (p *SSHPoller) Poll(ctx context.Context, in poller.Input) poller.Result {
	log := p.log.With("server", in.Server, "port", in.Port, "user", in.Credentials.Username)
	log.Debug("Starting SSH poller.")

	if err := in.Validate(); err != nil {
		return p.finish(log, poller.Failed(err))
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	conn := &connection{}
	done := make(chan poller.Result, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				conn.close()
				done <- poller.Failed(fmt.Errorf("%w: panic: %v", poller.ErrUnknown, r))
			}
		}()
		done <- p.run(ctx, in, conn, log)
	}()

	select {
	case res := <-done:
		return p.finish(log, p.checkExpired(ctx, res))
	case <-ctx.Done():
		select {
		case res := <-done:
			return p.finish(log, p.checkExpired(ctx, res))
		default:
		}

		var err error = p.timeoutError(ctx.Err())
		if closeErr := conn.close(); closeErr != nil {
			err = multierror.Append(err, fmt.Errorf("failed to close connection: %w", closeErr))
		}
		return p.finish(log, poller.Failed(err))
	}
}

func (p *SSHPoller) run(ctx context.Context, in poller.Input, conn *connection, log logger.Logger) (res poller.Result) {
	addr := net.JoinHostPort(in.Server, strconv.Itoa(in.Port))
	config := sshmanager.PasswordConfig(in.Credentials, p.connectTimeout)

	client, err := p.dialer.Dial(ctx, "tcp", addr, config)
	if err != nil {
		return poller.Failed(err)
	}
	conn.set(client)

	defer func() {
		closeErr := conn.close()
		if closeErr == nil {
			return
		}
		if res.Authenticated {
			log.Warn("Failed to close SSH connection", "error", closeErr)
			return
		}
		res.Err = multierror.Append(res.Err, fmt.Errorf("failed to close connection: %w", closeErr))
	}()

	if !in.HasTask() {
		return poller.Authenticated(nil)
	}

	out, err := execute(client, in.Task)
	if err != nil {
		return poller.Failed(err)
	}
	return poller.Authenticated(out)
}

func execute(client sshmanager.Client, task string) (*poller.Output, error) {
	session, err := client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create session: %w", poller.ErrExec, err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	runErr := session.Run(task, &stdout, &stderr)

	code, ok := sshmanager.ExitStatus(runErr)
	if !ok {
		return nil, fmt.Errorf("%w: %w", poller.ErrExec, runErr)
	}

	if !utf8.Valid(stdout.Bytes()) {
		return nil, fmt.Errorf("%w: stdout is not valid UTF-8", poller.ErrExec)
	}
	if !utf8.Valid(stderr.Bytes()) {
		return nil, fmt.Errorf("%w: stderr is not valid UTF-8", poller.ErrExec)
	}

	return &poller.Output{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: code,
	}, nil
}

func (p *SSHPoller) timeoutError(cause error) error {
	return fmt.Errorf("%w after %s: %w", poller.ErrTimeout, p.timeout, cause)
}

// checkExpired turns any result read after the deadline into a timeout,
// keeping the step error of a failure that raced with it.
func (p *SSHPoller) checkExpired(ctx context.Context, res poller.Result) poller.Result {
	cause := expired(ctx)
	if cause == nil {
		return res
	}
	if res.Err == nil {
		return poller.Failed(p.timeoutError(cause))
	}
	return poller.Failed(fmt.Errorf("%w: %w", p.timeoutError(cause), res.Err))
}

// expired also reports a passed deadline whose timer has not fired yet;
// the transport's I/O deadline is the same instant and may win the race.
func expired(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if deadline, ok := ctx.Deadline(); ok && !time.Now().Before(deadline) {
		return context.DeadlineExceeded
	}
	return nil
}

func (p *SSHPoller) finish(log logger.Logger, res poller.Result) poller.Result {
	if res.Authenticated {
		log.Debug("SSH poller finished.", "task_output", res.Output != nil)
	} else {
		log.Debug("SSH poller ended with error.", "kind", poller.Kind(res.Err), "error", res.Err)
	}
	return res
}

// connection lets the timeout path close a client the worker goroutine
// is still using. The client is closed at most once.
type connection struct {
	mu     sync.Mutex
	client sshmanager.Client
	closed bool
	once   sync.Once
	err    error
}

func (c *connection) set(client sshmanager.Client) {
	c.mu.Lock()
	c.client = client
	closed := c.closed
	c.mu.Unlock()

	if closed {
		c.close()
	}
}

func (c *connection) close() error {
	c.mu.Lock()
	c.closed = true
	client := c.client
	c.mu.Unlock()

	if client == nil {
		return nil
	}
	c.once.Do(func() {
		c.err = client.Close()
	})
	return c.err
}
