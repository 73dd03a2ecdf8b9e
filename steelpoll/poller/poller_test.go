package poller

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validInput() Input {
	return Input{
		Server:      "10.0.0.5",
		Port:        22,
		Credentials: Credentials{Username: "root", Password: "changeme"},
	}
}

func TestValidate(t *testing.T) {
	t.Run("valid ip", func(t *testing.T) {
		assert.NoError(t, validInput().Validate())
	})

	t.Run("valid hostname", func(t *testing.T) {
		in := validInput()
		in.Server = "web01.team3.local"
		assert.NoError(t, in.Validate())
	})

	t.Run("valid ipv6", func(t *testing.T) {
		in := validInput()
		in.Server = "::1"
		assert.NoError(t, in.Validate())
	})

	for _, server := range []string{"docker_web_1", "host.example.com.", "fe80::1%lo", "localhost"} {
		t.Run("resolvable "+server, func(t *testing.T) {
			in := validInput()
			in.Server = server
			assert.NoError(t, in.Validate())
		})
	}

	tests := map[string]func(*Input){
		"missing server":   func(in *Input) { in.Server = "" },
		"bad server":       func(in *Input) { in.Server = "not a host!" },
		"tab in server":    func(in *Input) { in.Server = "web\t01" },
		"newline server":   func(in *Input) { in.Server = "web01\n" },
		"port zero":        func(in *Input) { in.Port = 0 },
		"port too large":   func(in *Input) { in.Port = 70000 },
		"missing username": func(in *Input) { in.Credentials.Username = "" },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			in := validInput()
			mutate(&in)
			err := in.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidInput)
		})
	}
}

func TestHasTask(t *testing.T) {
	in := validInput()
	assert.False(t, in.HasTask())
	in.Task = "id"
	assert.True(t, in.HasTask())
}

func TestResultConstructors(t *testing.T) {
	ok := Authenticated(nil)
	assert.True(t, ok.Authenticated)
	assert.Nil(t, ok.Output)
	assert.NoError(t, ok.Err)

	out := &Output{Stdout: "hi\n"}
	withOut := Authenticated(out)
	assert.Same(t, out, withOut.Output)

	failed := Failed(ErrAuth)
	assert.False(t, failed.Authenticated)
	assert.Nil(t, failed.Output)
	assert.ErrorIs(t, failed.Err, ErrAuth)

	assert.ErrorIs(t, Failed(nil).Err, ErrUnknown)
}

func TestKind(t *testing.T) {
	assert.Equal(t, "", Kind(nil))
	assert.Equal(t, "connect", Kind(fmt.Errorf("%w: dial tcp: refused", ErrConnect)))
	assert.Equal(t, "auth", Kind(fmt.Errorf("%w: no supported methods remain", ErrAuth)))
	assert.Equal(t, "handshake", Kind(ErrHandshake))
	assert.Equal(t, "exec", Kind(ErrExec))
	assert.Equal(t, "timeout", Kind(ErrTimeout))
	assert.Equal(t, "input", Kind(ErrInvalidInput))
	assert.Equal(t, "unknown", Kind(errors.New("boom")))
}

func TestKindPrefersTimeout(t *testing.T) {
	err := fmt.Errorf("%w: %w", ErrTimeout, fmt.Errorf("%w: i/o timeout", ErrConnect))
	assert.Equal(t, "timeout", Kind(err))
}
