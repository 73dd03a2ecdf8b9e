package poller

import "errors"

var (
	ErrInvalidInput = errors.New("invalid poll input")
	ErrConnect      = errors.New("connection failed")
	ErrHandshake    = errors.New("protocol handshake failed")
	ErrAuth         = errors.New("authentication failed")
	ErrExec         = errors.New("command execution failed")
	ErrTimeout      = errors.New("poll timed out")
	ErrUnknown      = errors.New("poll failed")
)

var kinds = []struct {
	err  error
	name string
}{
	{ErrInvalidInput, "input"},
	{ErrTimeout, "timeout"},
	{ErrConnect, "connect"},
	{ErrAuth, "auth"},
	{ErrHandshake, "handshake"},
	{ErrExec, "exec"},
}

// Kind returns a short label for the failure class of err, "" for nil and
// "unknown" for errors that carry none of the sentinel kinds. A timeout
// wins over the error the interrupted step reported.
func Kind(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.name
		}
	}
	return "unknown"
}
