// Package logging configures the daemon's single logrus logger: a
// human-readable console formatter plus a rotating file sink, mirroring
// fibratus's own logging setup (console output for interactive runs,
// size-rotated file output for the service).
package logging

import (
	"io"
	"os"

	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/rifflock/lfshook"
)

// Config controls where and how verbosely the daemon logs.
type Config struct {
	Level      string // one of logrus's level names; "" defaults to "info"
	FilePath   string // "" disables the rotating file sink
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// Configure wires the package-level logrus logger per cfg. It is called
// once, at startup, before any component logs.
func Configure(cfg Config) error {
	level, err := log.ParseLevel(levelOrDefault(cfg.Level))
	if err != nil {
		return err
	}
	log.SetLevel(level)
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetOutput(os.Stdout)

	if cfg.FilePath == "" {
		return nil
	}

	roller := &lumberjack.Logger{
		Filename:   cfg.FilePath,
		MaxSize:    sizeOrDefault(cfg.MaxSizeMB),
		MaxBackups: backupsOrDefault(cfg.MaxBackups),
		MaxAge:     ageOrDefault(cfg.MaxAgeDays),
		Compress:   true,
	}

	formatter := &log.JSONFormatter{}
	hook := lfshook.NewHook(lfshook.WriterMap{
		log.DebugLevel: roller,
		log.InfoLevel:  roller,
		log.WarnLevel:  roller,
		log.ErrorLevel: roller,
		log.FatalLevel: roller,
		log.PanicLevel: roller,
	}, formatter)
	log.AddHook(hook)
	return nil
}

func levelOrDefault(s string) string {
	if s == "" {
		return "info"
	}
	return s
}

func sizeOrDefault(n int) int {
	if n <= 0 {
		return 100
	}
	return n
}

func backupsOrDefault(n int) int {
	if n <= 0 {
		return 5
	}
	return n
}

func ageOrDefault(n int) int {
	if n <= 0 {
		return 28
	}
	return n
}

// MultiWriter exposes lumberjack's writer combined with stdout for callers
// that need to write outside of logrus but still land in the same rotating
// file.
func MultiWriter(cfg Config) io.Writer {
	if cfg.FilePath == "" {
		return os.Stdout
	}
	return io.MultiWriter(os.Stdout, &lumberjack.Logger{
		Filename: cfg.FilePath,
		MaxSize:  sizeOrDefault(cfg.MaxSizeMB),
	})
}
