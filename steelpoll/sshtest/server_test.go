package sshtest

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

func dial(t *testing.T, srv *Server, user, password string) (*ssh.Client, error) {
	t.Helper()
	return ssh.Dial("tcp", srv.Addr(), &ssh.ClientConfig{
		User:            user,
		Auth:            []ssh.AuthMethod{ssh.Password(password)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         time.Second,
	})
}

func TestServerAuth(t *testing.T) {
	srv, err := New(WithUser("scorer", "s3cret"))
	require.NoError(t, err)
	defer srv.Close()

	assert.Equal(t, "127.0.0.1", srv.Host())
	assert.NotZero(t, srv.Port())

	client, err := dial(t, srv, "scorer", "s3cret")
	require.NoError(t, err)
	client.Close()

	client, err = dial(t, srv, "test", "test")
	require.NoError(t, err)
	client.Close()

	_, err = dial(t, srv, "scorer", "wrong")
	assert.Error(t, err)
}

func TestServerExec(t *testing.T) {
	srv, err := New(WithExecHandler(func(cmd string) (string, string, int) {
		return "out:" + cmd, "err:" + cmd, 2
	}))
	require.NoError(t, err)
	defer srv.Close()

	client, err := dial(t, srv, "test", "test")
	require.NoError(t, err)
	defer client.Close()

	session, err := client.NewSession()
	require.NoError(t, err)
	defer session.Close()

	var stdout, stderr strings.Builder
	session.Stdout = &stdout
	session.Stderr = &stderr
	err = session.Run("whoami")

	var exitErr *ssh.ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 2, exitErr.ExitStatus())
	assert.Equal(t, "out:whoami", stdout.String())
	assert.Equal(t, "err:whoami", stderr.String())
}

func TestServerTracksConnections(t *testing.T) {
	srv, err := New()
	require.NoError(t, err)
	defer srv.Close()

	client, err := dial(t, srv, "test", "test")
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return srv.ActiveConnections() == 1 }, time.Second, 10*time.Millisecond)

	client.Close()
	assert.Eventually(t, func() bool { return srv.ActiveConnections() == 0 }, time.Second, 10*time.Millisecond)
}

func TestShellHandler(t *testing.T) {
	stdout, stderr, status := ShellHandler("echo hi; echo bye >&2; exit 4")
	assert.Equal(t, "hi\n", stdout)
	assert.Equal(t, "bye\n", stderr)
	assert.Equal(t, 4, status)
}
