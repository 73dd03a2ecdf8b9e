package sshpoller

import (
	"context"
	"io"

	"github.com/steelcutops/steelpoll/steelpoll/sshmanager"
	"github.com/stretchr/testify/mock"
	"golang.org/x/crypto/ssh"
)

type MockDialer struct {
	mock.Mock
}

func (m *MockDialer) Dial(ctx context.Context, network, addr string, config *ssh.ClientConfig) (sshmanager.Client, error) {
	args := m.Called(ctx, network, addr, config)
	client, _ := args.Get(0).(sshmanager.Client)
	return client, args.Error(1)
}

type MockClient struct {
	mock.Mock
}

func (m *MockClient) NewSession() (sshmanager.Session, error) {
	args := m.Called()
	session, _ := args.Get(0).(sshmanager.Session)
	return session, args.Error(1)
}

func (m *MockClient) Close() error {
	return m.Called().Error(0)
}

type MockSession struct {
	mock.Mock
}

func (m *MockSession) Run(cmd string, stdout, stderr io.Writer) error {
	return m.Called(cmd, stdout, stderr).Error(0)
}

func (m *MockSession) Close() error {
	return m.Called().Error(0)
}

// writeOutput returns a Run hook that writes to the session streams.
func writeOutput(stdout, stderr string) func(mock.Arguments) {
	return func(args mock.Arguments) {
		args.Get(1).(io.Writer).Write([]byte(stdout))
		args.Get(2).(io.Writer).Write([]byte(stderr))
	}
}
