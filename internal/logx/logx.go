package logx

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// stdout is where the global logger writes besides an operation log file.
var stdout io.Writer = os.Stdout

// InitFromEnv configures zerolog using env vars.
// - LOG_LEVEL  : trace|debug|info|warn|error (default: info)
// - LOG_FORMAT : json|console                (default: json)
func InitFromEnv() {
	level := strings.ToLower(getenv("LOG_LEVEL", "info"))

	// Always use UTC timestamps in RFC3339.
	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.TimestampFunc = func() time.Time { return time.Now().UTC() }

	zerolog.SetGlobalLevel(parseLevel(level))
	log.Logger = zerolog.New(console(stdout)).With().Timestamp().Logger()
}

func parseLevel(level string) zerolog.Level {
	switch level {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// console wraps w in a ConsoleWriter when LOG_FORMAT=console.
func console(w io.Writer) io.Writer {
	if strings.ToLower(getenv("LOG_FORMAT", "json")) != "console" {
		return w
	}
	return zerolog.NewConsoleWriter(func(cw *zerolog.ConsoleWriter) {
		cw.Out = w
		cw.TimeFormat = time.RFC3339
	})
}

// TeeOperation additionally writes the global logger to <dir>/<op>.log.
// The file always receives JSON lines. An empty dir is a no-op.
// Close the returned io.Closer once the operation is over.
func TeeOperation(dir, op string) (io.Closer, error) {
	if strings.TrimSpace(dir) == "" {
		return io.NopCloser(nil), nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("log dir: %w", err)
	}
	path := OperationLog(dir, op)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	log.Logger = zerolog.New(zerolog.MultiLevelWriter(console(stdout), f)).
		With().Timestamp().Str("operation", op).Logger()
	return f, nil
}

// OperationLog is the file TeeOperation appends op's logs to.
func OperationLog(dir, op string) string {
	return filepath.Join(dir, op+".log")
}

// getenv returns the env var value if set and non-empty, otherwise def.
func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && strings.TrimSpace(v) != "" {
		return v
	}
	return def
}
