package log

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/m-mizutani/clog"
	"golang.org/x/term"
)

type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// Format selects the handler used for output.
type Format string

const (
	FormatAuto    Format = "auto"
	FormatConsole Format = "console"
	FormatJSON    Format = "json"
)

var (
	mu       sync.RWMutex
	logger   *slog.Logger
	levelVar = new(slog.LevelVar)
	out      io.Writer = os.Stderr
	format             = FormatAuto
)

func current() *slog.Logger {
	mu.RLock()
	l := logger
	mu.RUnlock()
	if l != nil {
		return l
	}

	mu.Lock()
	defer mu.Unlock()
	if logger == nil {
		logger = slog.New(newHandler(out, format))
	}
	return logger
}

// newHandler picks clog for interactive terminals and JSON otherwise.
func newHandler(w io.Writer, f Format) slog.Handler {
	if f == FormatAuto {
		f = FormatJSON
		if file, ok := w.(*os.File); ok && term.IsTerminal(int(file.Fd())) {
			f = FormatConsole
		}
	}

	if f == FormatConsole {
		return clog.New(
			clog.WithWriter(w),
			clog.WithLevel(levelVar.Level()),
			clog.WithTimeFmt("15:04:05.000"),
			clog.WithSource(false),
			clog.WithAttrHook(clog.GoerrHook),
		)
	}
	return slog.NewJSONHandler(w, &slog.HandlerOptions{Level: levelVar})
}

// SetOutput replaces the destination and handler format of the global logger.
func SetOutput(w io.Writer, f Format) {
	mu.Lock()
	defer mu.Unlock()
	if w == nil {
		w = os.Stderr
	}
	out = w
	format = f
	logger = slog.New(newHandler(out, format))
}

func SetLevel(l Level) {
	levelVar.Set(toSlog(l))

	// clog captures the level at construction time.
	mu.Lock()
	if logger != nil {
		logger = slog.New(newHandler(out, format))
	}
	mu.Unlock()
}

// ParseLevel maps a case-insensitive name onto a Level. Unknown names map to INFO.
func ParseLevel(s string) Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return LevelDebug
	case "WARN", "WARNING":
		return LevelWarn
	case "ERROR":
		return LevelError
	default:
		return LevelInfo
	}
}

func Debug(msg string, kv ...any) {
	current().Debug(msg, kv...)
}

func Info(msg string, kv ...any) {
	current().Info(msg, kv...)
}

func Warn(msg string, kv ...any) {
	current().Warn(msg, kv...)
}

func Error(msg string, err error, kv ...any) {
	// Prepend error into key-value list.
	extended := append([]any{"err", err}, kv...)
	current().Error(msg, extended...)
}

func toSlog(l Level) slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
