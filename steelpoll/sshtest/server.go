// Package sshtest provides an in-process SSH server for tests.
package sshtest

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"net"
	"os/exec"
	"strconv"
	"sync"

	"golang.org/x/crypto/ssh"
)

// ExecHandler answers an exec request. A negative status makes the server
// close the channel without reporting an exit status.
type ExecHandler func(cmd string) (stdout, stderr string, status int)

// Server is an SSH server listening on a random loopback port.
type Server struct {
	listener net.Listener
	config   *ssh.ServerConfig
	handler  ExecHandler

	mu    sync.Mutex
	users map[string]string
	conns map[net.Conn]struct{}
	done  chan struct{}
	wg    sync.WaitGroup
}

type Option func(*Server)

// WithUser adds a user/password pair for authentication.
func WithUser(username, password string) Option {
	return func(s *Server) {
		s.users[username] = password
	}
}

// WithExecHandler replaces the default shell handler.
func WithExecHandler(h ExecHandler) Option {
	return func(s *Server) {
		s.handler = h
	}
}

// New starts a server. The default user is test/test.
func New(opts ...Option) (*Server, error) {
	_, privateKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate host key: %w", err)
	}

	signer, err := ssh.NewSignerFromKey(privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create signer: %w", err)
	}

	s := &Server{
		handler: ShellHandler,
		users:   map[string]string{"test": "test"},
		conns:   make(map[net.Conn]struct{}),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.config = &ssh.ServerConfig{
		PasswordCallback: func(c ssh.ConnMetadata, password []byte) (*ssh.Permissions, error) {
			s.mu.Lock()
			expected, ok := s.users[c.User()]
			s.mu.Unlock()

			if ok && string(password) == expected {
				return nil, nil
			}
			return nil, fmt.Errorf("password rejected for %q", c.User())
		},
	}
	s.config.AddHostKey(signer)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("failed to listen: %w", err)
	}
	s.listener = listener

	s.wg.Add(1)
	go s.acceptLoop()

	return s, nil
}

// Addr returns host:port.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

func (s *Server) Host() string {
	host, _, _ := net.SplitHostPort(s.Addr())
	return host
}

func (s *Server) Port() int {
	_, port, _ := net.SplitHostPort(s.Addr())
	p, _ := strconv.Atoi(port)
	return p
}

// ActiveConnections returns the number of client connections the server
// still considers open.
func (s *Server) ActiveConnections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Close stops accepting, drops every open connection and waits for the
// connection goroutines to exit.
func (s *Server) Close() error {
	close(s.done)
	err := s.listener.Close()

	s.mu.Lock()
	for c := range s.conns {
		c.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
	return err
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
				if errors.Is(err, net.ErrClosed) {
					return
				}
				continue
			}
		}

		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

func (s *Server) handleConnection(netConn net.Conn) {
	defer s.wg.Done()
	defer func() {
		netConn.Close()
		s.mu.Lock()
		delete(s.conns, netConn)
		s.mu.Unlock()
	}()

	sshConn, chans, reqs, err := ssh.NewServerConn(netConn, s.config)
	if err != nil {
		return
	}
	defer sshConn.Close()

	go ssh.DiscardRequests(reqs)

	for newChannel := range chans {
		if newChannel.ChannelType() != "session" {
			newChannel.Reject(ssh.UnknownChannelType, "unknown channel type")
			continue
		}

		channel, requests, err := newChannel.Accept()
		if err != nil {
			continue
		}
		go s.handleChannel(channel, requests)
	}
}

func (s *Server) handleChannel(channel ssh.Channel, requests <-chan *ssh.Request) {
	defer channel.Close()

	for req := range requests {
		if req.Type != "exec" {
			if req.WantReply {
				req.Reply(false, nil)
			}
			continue
		}

		var payload struct{ Command string }
		if err := ssh.Unmarshal(req.Payload, &payload); err != nil {
			req.Reply(false, nil)
			continue
		}
		if req.WantReply {
			req.Reply(true, nil)
		}

		stdout, stderr, status := s.handler(payload.Command)
		channel.Write([]byte(stdout))
		channel.Stderr().Write([]byte(stderr))
		channel.CloseWrite()

		if status >= 0 {
			exit := struct{ Status uint32 }{uint32(status)}
			channel.SendRequest("exit-status", false, ssh.Marshal(&exit))
		}
		return
	}
}

// ShellHandler runs cmd with /bin/sh -c, keeping stdout and stderr apart.
func ShellHandler(cmd string) (string, string, int) {
	c := exec.Command("/bin/sh", "-c", cmd)
	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr

	status := 0
	if err := c.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			status = exitErr.ExitCode()
		} else {
			stderr.WriteString(err.Error())
			status = 127
		}
	}
	return stdout.String(), stderr.String(), status
}
