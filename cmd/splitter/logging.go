package splitter

import (
	"log/slog"
	"os"

	slogmulti "github.com/samber/slog-multi"
)

// newLogger builds the process-wide slog.Logger. The console handler always
// runs; when --log-json is set a second handler fans the same records out
// as newline-delimited JSON on stdout, the way a CI job or another tool in
// the decompilation project's pipeline would consume them. This mirrors the
// teacher's single fmt.Fprintln diagnostic style, generalized to structured
// logging with github.com/samber/slog-multi doing the fan-out instead of a
// hand-rolled io.MultiWriter (slog handlers need independent level/attr
// state per destination, which io.MultiWriter can't express).
func newLogger(level string, json bool) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}

	handlers := []slog.Handler{slog.NewTextHandler(os.Stderr, opts)}
	if json {
		handlers = append(handlers, slog.NewJSONHandler(os.Stdout, opts))
	}

	if len(handlers) == 1 {
		return slog.New(handlers[0])
	}
	return slog.New(slogmulti.Fanout(handlers...))
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
