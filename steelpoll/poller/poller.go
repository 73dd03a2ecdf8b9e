// Package poller defines the contract between the scoring engine and the
// individual service checks it schedules.
package poller

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

// Server names are only checked for whitespace; anything else is left to
// the resolver, so names that do not resolve fail as connect errors.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterValidation("nospace", func(fl validator.FieldLevel) bool {
		return !strings.ContainsFunc(fl.Field().String(), unicode.IsSpace)
	})
	return v
}

// Credentials holds the login used for a single poll.
type Credentials struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"-"`
}

// Input describes one check against one remote service. An empty Task
// means the poller only verifies that authentication succeeds.
type Input struct {
	Server      string      `json:"server" validate:"required,nospace"`
	Port        int         `json:"port" validate:"min=1,max=65535"`
	Credentials Credentials `json:"credentials"`
	Task        string      `json:"task,omitempty"`
}

// HasTask reports whether a remote command should be executed.
func (in Input) HasTask() bool {
	return in.Task != ""
}

// Validate checks the input before any connection is attempted.
func (in Input) Validate() error {
	if err := validate.Struct(in); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return nil
}

// Output encapsulates what a remote task wrote and how it exited.
type Output struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exit_code"`
}

// Result is produced exactly once per Poll call.
type Result struct {
	Authenticated bool
	Output        *Output
	Err           error
}

// Authenticated builds a successful result. out is nil when no task ran.
func Authenticated(out *Output) Result {
	return Result{Authenticated: true, Output: out}
}

// Failed builds a failed result. A nil err is replaced so that a failed
// result always carries a reason.
func Failed(err error) Result {
	if err == nil {
		err = ErrUnknown
	}
	return Result{Err: err}
}

// Poller performs one check and converts every failure into a Result.
type Poller interface {
	Poll(ctx context.Context, in Input) Result
}
