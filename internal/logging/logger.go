// Package logging builds the structured logger every component receives.
// Components log through logr; zap does the encoding.
package logging

import (
	"fmt"
	"io"
	"strings"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	uberzap "go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Verbosity levels passed to logr's V().
const (
	DEFAULT = 0
	DEBUG   = 1
	TRACE   = 2
)

// ParseLevel maps a level name to a logr verbosity.
func ParseLevel(level string) (int, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "", "info":
		return DEFAULT, nil
	case "debug":
		return DEBUG, nil
	case "trace":
		return TRACE, nil
	}
	return 0, fmt.Errorf("unknown log level %q (want info, debug or trace)", level)
}

// New builds a logger writing to w. format is "json" or "console".
func New(level, format string, w io.Writer) (logr.Logger, error) {
	v, err := ParseLevel(level)
	if err != nil {
		return logr.Discard(), err
	}

	var enc zapcore.Encoder
	switch strings.ToLower(format) {
	case "", "console":
		cfg := uberzap.NewDevelopmentEncoderConfig()
		cfg.EncodeTime = zapcore.ISO8601TimeEncoder
		enc = zapcore.NewConsoleEncoder(cfg)
	case "json":
		enc = zapcore.NewJSONEncoder(uberzap.NewProductionEncoderConfig())
	default:
		return logr.Discard(), fmt.Errorf("unknown log format %q (want json or console)", format)
	}

	// zapr maps V(n) to zap level -n.
	lvl := uberzap.NewAtomicLevelAt(zapcore.Level(-1 * v))
	core := zapcore.NewCore(enc, zapcore.AddSync(w), lvl)
	return zapr.NewLogger(uberzap.New(core, uberzap.AddCaller())), nil
}

// NewTestLogger returns a development logger that prints everything.
func NewTestLogger() logr.Logger {
	cfg := uberzap.NewDevelopmentConfig()
	cfg.Level = uberzap.NewAtomicLevelAt(zapcore.Level(-1 * TRACE))
	zl, err := cfg.Build()
	if err != nil {
		return logr.Discard()
	}
	return zapr.NewLogger(zl)
}
