// Package logger builds the process zerolog logger and carries request scoped
// fields (request id, component, partition) through context.Context.
package logger

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"io"
	"math"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

type Config struct {
	Level     string
	Console   bool
	SampleN   int
	Component string
}

type ctxKey string

// context keys double as the emitted field names
const (
	keyRequestID ctxKey = "request_id"
	keyComponent ctxKey = "component"
	keyPartition ctxKey = "partition"
)

var ctxFields = []ctxKey{keyRequestID, keyComponent, keyPartition}

func withValue(ctx context.Context, k ctxKey, v string) context.Context {
	if v == "" {
		return ctx
	}
	return context.WithValue(ctx, k, v)
}

// WithRequestID stores reqID, generating one when empty.
func WithRequestID(ctx context.Context, reqID string) context.Context {
	if reqID == "" {
		reqID = NewID()
	}
	return withValue(ctx, keyRequestID, reqID)
}

func RequestID(ctx context.Context) string {
	s, _ := ctx.Value(keyRequestID).(string)
	return s
}

func WithComponent(ctx context.Context, component string) context.Context {
	return withValue(ctx, keyComponent, component)
}

// WithPartition tags log lines with the polygon parts entity being worked on.
func WithPartition(ctx context.Context, partition string) context.Context {
	return withValue(ctx, keyPartition, partition)
}

func NewID() string {
	var b [8]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}

func parseLevel(s string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(s)))
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

// Build configures the global zerolog level and returns the root logger.
// Sampling only thins info and debug lines; warnings and errors are always written.
func Build(cfg Config, out io.Writer) zerolog.Logger {
	if out == nil {
		out = os.Stdout
	}

	zerolog.TimeFieldFormat = time.RFC3339Nano
	zerolog.TimestampFieldName = "timestamp"
	zerolog.LevelFieldName = "level"
	zerolog.MessageFieldName = "msg"
	zerolog.SetGlobalLevel(parseLevel(cfg.Level))

	if cfg.Console {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	base := zerolog.New(out)
	if cfg.SampleN > 1 {
		n := uint32(math.MaxUint32)
		if int64(cfg.SampleN) < math.MaxUint32 {
			n = uint32(cfg.SampleN)
		}
		sampler := &zerolog.BasicSampler{N: n}
		base = base.Sample(zerolog.LevelSampler{
			DebugSampler: sampler,
			InfoSampler:  sampler,
		})
	}

	zc := base.With().Timestamp()
	if cfg.Component != "" {
		zc = zc.Str(string(keyComponent), cfg.Component)
	}
	return zc.Logger()
}

// FromContext returns a child of parent carrying the context fields.
// A nil parent yields a discarding logger.
func FromContext(ctx context.Context, parent *zerolog.Logger) *zerolog.Logger {
	base := zerolog.Nop()
	if parent != nil {
		base = *parent
	}
	w := base.With()
	for _, k := range ctxFields {
		if s, ok := ctx.Value(k).(string); ok && s != "" {
			w = w.Str(string(k), s)
		}
	}
	l := w.Logger()
	return &l
}
