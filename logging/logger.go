package logging

import (
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/mattn/go-isatty"
	"github.com/mercure-chat/core/config"
	"github.com/mercure-chat/core/pkg/paths"
	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	loggers   = make(map[string]*logrus.Entry)
	sinks     = make(map[string]*lumberjack.Logger)
	loggersMu sync.Mutex

	// override replaces the mercure.yml lookup once SetConfig is called.
	override *Config

	stderr = newSwappable(os.Stderr)
)

// swappable is the stderr sink shared by every logger. Its target can change
// after loggers are built.
type swappable struct {
	target atomic.Value // holds writerBox
}

type writerBox struct{ w io.Writer }

func newSwappable(w io.Writer) *swappable {
	s := &swappable{}
	s.target.Store(writerBox{w})
	return s
}

func (s *swappable) Write(p []byte) (int, error) {
	return s.target.Load().(writerBox).w.Write(p)
}

// SetGlobalOutput sends the stderr sink of every logger, existing or not, to
// w. The CLI points it at the command's error stream.
func SetGlobalOutput(w io.Writer) {
	if w == nil {
		w = os.Stderr
	}
	stderr.target.Store(writerBox{w})
}

// NewLogger creates and returns a pre-configured logger for a specific component.
// It uses a singleton pattern per component to avoid re-initializing.
func NewLogger(component string) *logrus.Entry {
	loggersMu.Lock()
	defer loggersMu.Unlock()

	if logger, exists := loggers[component]; exists {
		return logger
	}

	var logCfg Config
	if override != nil {
		logCfg = *override
	} else {
		logCfg = loadConfig()
	}

	entry := build(component, logCfg).WithField("component", component)
	loggers[component] = entry
	return entry
}

// SetConfig makes every logger created afterwards use cfg instead of the
// logging section of mercure.yml. Loggers created earlier are rebuilt.
func SetConfig(cfg Config) {
	loggersMu.Lock()
	defer loggersMu.Unlock()

	override = &cfg
	for component, entry := range loggers {
		rebuilt := build(component, cfg)
		// Callers hold the old *Entry, so the logger is updated in place.
		entry.Logger.SetLevel(rebuilt.GetLevel())
		entry.Logger.SetFormatter(rebuilt.Formatter)
		entry.Logger.SetOutput(rebuilt.Out)
		entry.Logger.SetReportCaller(rebuilt.ReportCaller)
	}
}

func loadConfig() Config {
	var logCfg Config
	cfg, err := config.LoadDefault()
	if err != nil {
		return logCfg
	}
	if err := cfg.UnmarshalExtension("logging", &logCfg); err != nil {
		logrus.Warnf("Failed to parse 'logging' config: %v", err)
	}
	return logCfg
}

// build creates a logrus.Logger from cfg. Callers must hold loggersMu.
func build(component string, logCfg Config) *logrus.Logger {
	logger := logrus.New()

	levelStr := "info"
	if env := os.Getenv("MERCURE_LOG_LEVEL"); env != "" {
		levelStr = env
	} else if logCfg.Level != "" {
		levelStr = logCfg.Level
	}
	level, err := logrus.ParseLevel(levelStr)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if os.Getenv("MERCURE_LOG_CALLER") == "true" || logCfg.ReportCaller {
		logger.SetReportCaller(true)
	}

	var writers []io.Writer

	if sink := fileSink(logCfg.File); sink != nil {
		writers = append(writers, sink)
	}

	toStderr := shouldLogToStderr(logCfg.Format.StructuredToStderr, level)
	if toStderr {
		writers = append(writers, stderr)
	}

	switch {
	case logCfg.Format.Preset == "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	case !toStderr && logCfg.File.Format == "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	case logCfg.Format.Preset == "simple":
		logger.SetFormatter(&TextFormatter{Config: FormatConfig{
			DisableTimestamp: true,
			DisableComponent: true,
		}})
	default:
		logger.SetFormatter(&TextFormatter{Config: logCfg.Format})
	}

	switch len(writers) {
	case 0:
		// Interactive terminal in auto mode without a file sink.
		logger.SetOutput(io.Discard)
	case 1:
		logger.SetOutput(writers[0])
	default:
		logger.SetOutput(io.MultiWriter(writers...))
	}

	return logger
}

// FilePath resolves where the file sink writes, whether or not it is enabled.
func FilePath(cfg FileSinkConfig) string {
	if cfg.Path != "" {
		return expandPath(cfg.Path)
	}
	dir := paths.LogDir()
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, "mercure.log")
}

// fileSink returns the shared rotating writer for the configured path.
func fileSink(cfg FileSinkConfig) io.Writer {
	if !cfg.Enabled {
		return nil
	}

	path := FilePath(cfg)
	if path == "" {
		return nil
	}

	if sink, ok := sinks[path]; ok {
		return sink
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		logrus.Warnf("Failed to create log directory %s: %v", filepath.Dir(path), err)
		return nil
	}

	sink := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
	}
	sinks[path] = sink
	return sink
}

// shouldLogToStderr resolves the structured_to_stderr mode. In "auto" mode
// structured logs reach stderr when debugging or when stderr is not a terminal.
func shouldLogToStderr(mode string, level logrus.Level) bool {
	switch mode {
	case "always":
		return true
	case "never":
		return false
	}

	isDebug := os.Getenv("MERCURE_DEBUG") == "1" || level >= logrus.DebugLevel
	isInteractive := isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd())
	return isDebug || !isInteractive
}

// expandPath expands tilde in file paths
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}

// reset drops cached loggers and the config override. Tests only.
func reset() {
	loggersMu.Lock()
	defer loggersMu.Unlock()
	loggers = make(map[string]*logrus.Entry)
	for _, sink := range sinks {
		_ = sink.Close()
	}
	sinks = make(map[string]*lumberjack.Logger)
	override = nil
}
