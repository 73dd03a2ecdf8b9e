package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	multierror "github.com/hashicorp/go-multierror"
	"github.com/joho/godotenv"
	"github.com/steelcutops/steelpoll/logger"
	"github.com/steelcutops/steelpoll/steelpoll/config"
	"github.com/steelcutops/steelpoll/steelpoll/poller"
	"github.com/steelcutops/steelpoll/steelpoll/sshpoller"
	"github.com/steelcutops/steelpoll/steelpoll/targetgroup"
	"golang.org/x/term"
)

type flags struct {
	ConfigPath      string
	ConnectTimeout  time.Duration
	Debug           bool
	EnvFile         string
	Hostnames       hostnamesValue
	LogFileName     string
	Monitor         bool
	MonitorInterval time.Duration
	PasswordPrompt  bool
	Port            int
	Task            string
	Timeout         time.Duration
	Username        string
}

type hostnamesValue []string

func (h *hostnamesValue) String() string {
	return strings.Join(*h, ",")
}

func (h *hostnamesValue) Set(value string) error {
	*h = append(*h, value)
	return nil
}

// report is the JSON line written for every polled target.
type report struct {
	RunID         string         `json:"run_id"`
	Target        string         `json:"target"`
	Server        string         `json:"server"`
	Port          int            `json:"port"`
	Authenticated bool           `json:"authenticated"`
	Output        *poller.Output `json:"output,omitempty"`
	Error         string         `json:"error,omitempty"`
	ErrorKind     string         `json:"error_kind,omitempty"`
	Started       time.Time      `json:"started"`
	DurationMS    int64          `json:"duration_ms"`
}

func parseFlags(args []string) (*flags, error) {
	f := &flags{}
	set := flag.NewFlagSet("steelpoll", flag.ContinueOnError)
	set.BoolVar(&f.Debug, "debug", false, "Enable debug log level")
	set.BoolVar(&f.Monitor, "monitor", false, "Poll all targets repeatedly until interrupted")
	set.BoolVar(&f.PasswordPrompt, "password", false, "Prompt for the SSH password")
	set.DurationVar(&f.ConnectTimeout, "connect-timeout", 0, "TCP connect timeout (default 5s)")
	set.DurationVar(&f.MonitorInterval, "monitor-interval", 30*time.Second, "Interval between monitoring rounds")
	set.DurationVar(&f.Timeout, "timeout", 0, "Overall timeout of one poll (default 20s)")
	set.IntVar(&f.Port, "port", config.DefaultPort, "SSH port for -hostname targets")
	set.StringVar(&f.ConfigPath, "config", "", "Path to an INI or YAML target file")
	set.StringVar(&f.EnvFile, "env", ".env", "Optional dotenv file with STEELPOLL_* variables")
	set.StringVar(&f.LogFileName, "log", "", "Log file name (default stderr)")
	set.StringVar(&f.Task, "task", "", "Command to run on -hostname targets")
	set.StringVar(&f.Username, "username", "", "Username for -hostname targets")
	set.Var(&f.Hostnames, "hostname", "Host to poll (repeatable)")

	if err := set.Parse(args); err != nil {
		return nil, err
	}
	if f.ConfigPath == "" && len(f.Hostnames) == 0 {
		return nil, errors.New("either -config or -hostname is required")
	}
	return f, nil
}

func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

func readPassword(f *flags) (string, error) {
	if !f.PasswordPrompt {
		return "", nil
	}
	fmt.Fprint(os.Stderr, "Enter the password: ")
	passwordBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return string(passwordBytes), nil
}

// buildConfig merges the target file with the -hostname targets. Flags
// override the file's poller settings.
func buildConfig(f *flags, password string, lookup func(string) (string, bool)) (*config.Config, error) {
	cfg := &config.Config{}
	if f.ConfigPath != "" {
		loaded, err := config.Load(f.ConfigPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	var extra []config.Target
	for _, hostname := range f.Hostnames {
		extra = append(extra, config.Target{
			Name:     hostname,
			Host:     hostname,
			Port:     f.Port,
			Username: f.Username,
			Password: password,
			Task:     f.Task,
		})
	}
	flagTargets := &config.Config{Targets: extra}
	flagTargets.ApplyEnv(lookup)
	cfg.Targets = append(cfg.Targets, flagTargets.Targets...)

	if f.ConnectTimeout > 0 {
		cfg.Poller.ConnectTimeout = f.ConnectTimeout
	}
	if f.Timeout > 0 {
		cfg.Poller.Timeout = f.Timeout
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func openLog(f *flags) (io.Writer, func(), error) {
	if f.LogFileName == "" {
		return os.Stderr, func() {}, nil
	}
	file, err := os.OpenFile(f.LogFileName, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, err
	}
	return file, func() { file.Close() }, nil
}

// pollRound polls every target once, writes one JSON line per target and
// returns the failures combined.
func pollRound(ctx context.Context, tg *targetgroup.TargetGroup, p poller.Poller, out io.Writer, log logger.Logger) error {
	runID := uuid.NewString()
	log = log.With("run_id", runID)
	log.Info("Starting poll round", "targets", len(tg.List()))

	enc := json.NewEncoder(out)
	var result *multierror.Error

	for _, r := range tg.Poll(ctx, p) {
		rep := report{
			RunID:         runID,
			Target:        r.Target.Name,
			Server:        r.Target.Host,
			Port:          r.Target.Port,
			Authenticated: r.Result.Authenticated,
			Output:        r.Result.Output,
			Started:       r.Started.UTC(),
			DurationMS:    r.Duration.Milliseconds(),
		}
		if r.Result.Err != nil {
			rep.Error = r.Result.Err.Error()
			rep.ErrorKind = poller.Kind(r.Result.Err)
			result = multierror.Append(result, fmt.Errorf("target %s: %w", r.Target.Name, r.Result.Err))
			log.Warn("Target failed", "target", r.Target.Name, "kind", rep.ErrorKind, "error", r.Result.Err)
		} else {
			log.Debug("Target authenticated", "target", r.Target.Name, "duration", r.Duration)
		}

		if err := enc.Encode(rep); err != nil {
			return fmt.Errorf("failed to write report: %w", err)
		}
	}

	return result.ErrorOrNil()
}

func monitor(ctx context.Context, tg *targetgroup.TargetGroup, p poller.Poller, out io.Writer, log logger.Logger, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := pollRound(ctx, tg, p, out, log); err != nil {
			log.Info("Poll round finished with failures", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	f, err := parseFlags(args)
	if err != nil {
		return err
	}

	if err := loadEnvFile(f.EnvFile); err != nil {
		return err
	}

	logOut, closeLog, err := openLog(f)
	if err != nil {
		return err
	}
	defer closeLog()
	log := logger.New(logOut, f.Debug)

	password, err := readPassword(f)
	if err != nil {
		return err
	}

	cfg, err := buildConfig(f, password, os.LookupEnv)
	if err != nil {
		return err
	}

	p := sshpoller.New(
		sshpoller.WithLogger(log),
		sshpoller.WithConnectTimeout(cfg.Poller.ConnectTimeout),
		sshpoller.WithTimeout(cfg.Poller.Timeout),
	)
	tg := targetgroup.NewTargetGroup(cfg.Targets...)

	if f.Monitor {
		monitor(ctx, tg, p, out, log, f.MonitorInterval)
		return nil
	}
	return pollRound(ctx, tg, p, out, log)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}
