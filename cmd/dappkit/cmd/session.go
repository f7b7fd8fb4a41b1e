package cmd

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/GoCodeAlone/dappkit"
	"github.com/GoCodeAlone/dappkit/feeders"
)

var (
	ErrUnknownConfigFormat = errors.New("unknown configuration file format")
	ErrUnknownLogLevel     = errors.New("unknown log level")
)

// newLogger builds the text logger every component shares.
func newLogger(level string, w io.Writer) (*slog.Logger, error) {
	var l slog.Level
	switch strings.ToLower(level) {
	case "debug":
		l = slog.LevelDebug
	case "", "info":
		l = slog.LevelInfo
	case "warn", "warning":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownLogLevel, level)
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: l})), nil
}

// configFeeders returns the file feeder for path, if any, followed by the
// environment feeder. Later feeders win.
func configFeeders(path string) ([]dappkit.ComplexFeeder, error) {
	var out []dappkit.ComplexFeeder
	if path != "" {
		switch strings.ToLower(filepath.Ext(path)) {
		case ".yaml", ".yml":
			out = append(out, feeders.NewYamlFeeder(path))
		case ".toml":
			out = append(out, feeders.NewTomlFeeder(path))
		case ".json":
			out = append(out, feeders.NewJSONFeeder(path))
		default:
			return nil, fmt.Errorf("%w: %s", ErrUnknownConfigFormat, path)
		}
	}
	return append(out, feeders.NewEnvFeeder(EnvPrefix)), nil
}

// resolveEnv computes the anchored environment. --dapp-path takes
// precedence over an inherited DAPP_PATH.
func resolveEnv(dappPath string) (*dappkit.Env, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	toolPath := cwd
	if exe, err := os.Executable(); err == nil {
		toolPath = filepath.Dir(exe)
	}
	if dappPath != "" {
		if dappPath, err = filepath.Abs(dappPath); err != nil {
			return nil, err
		}
	}
	lookup := func(key string) (string, bool) {
		if key == dappkit.EnvDappPath && dappPath != "" {
			return dappPath, true
		}
		return os.LookupEnv(key)
	}
	return dappkit.ResolveEnv(lookup, cwd, toolPath)
}

// session is the state every command starts from.
type session struct {
	logger     *slog.Logger
	env        *dappkit.Env
	configPath string
	feeders    []dappkit.ComplexFeeder
}

func newSession(opts *globalOptions, logOutput io.Writer) (*session, error) {
	logger, err := newLogger(opts.logLevel, logOutput)
	if err != nil {
		return nil, err
	}
	env, err := resolveEnv(opts.dappPath)
	if err != nil {
		return nil, err
	}
	fs, err := configFeeders(opts.configPath)
	if err != nil {
		return nil, err
	}
	return &session{logger: logger, env: env, configPath: opts.configPath, feeders: fs}, nil
}

func (s *session) newApplication() *dappkit.StdApplication {
	list := make([]dappkit.Feeder, 0, len(s.feeders))
	for _, f := range s.feeders {
		list = append(list, f)
	}
	return dappkit.NewStdApplication(s.logger, list...)
}
