package logger

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var Log *zap.Logger

func init() {
	// keep a usable logger before Init runs (tests, early startup)
	Log = zap.NewNop()
}

// Init initializes the global logger. The level argument wins over the
// CHATRELAY_LOG_LEVEL env var; an empty level falls back to the env var
// and then to info. CHATRELAY_LOG_SINK=file:/path redirects output.
func Init(level string) {
	lvl := strings.ToLower(strings.TrimSpace(level))
	if lvl == "" {
		lvl = strings.ToLower(strings.TrimSpace(os.Getenv("CHATRELAY_LOG_LEVEL")))
	}
	var zl zapcore.Level
	switch lvl {
	case "debug":
		zl = zapcore.DebugLevel
	case "warn", "warning":
		zl = zapcore.WarnLevel
	case "error":
		zl = zapcore.ErrorLevel
	default:
		zl = zapcore.InfoLevel
	}

	sink := os.Getenv("CHATRELAY_LOG_SINK") // e.g. "file:/path/to/log"
	out := zapcore.Lock(os.Stdout)
	if strings.HasPrefix(sink, "file:") {
		path := strings.TrimPrefix(sink, "file:")
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to open log file %s: %v\n", path, err)
		} else {
			out = zapcore.Lock(f)
		}
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), out, zl)
	Log = zap.New(core)
}

// Sync flushes buffered log entries; safe to call at shutdown.
func Sync() {
	if Log != nil {
		_ = Log.Sync()
	}
}
