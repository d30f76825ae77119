// Package clilog implements the build's status logger: a small,
// level-filtered logger that renders concurrent build progress as an
// in-place status block when attached to a terminal, and as a plain
// scrolling log otherwise.
package clilog

import (
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-isatty"
	"golang.org/x/sys/unix"
)

// Level is a logging verbosity threshold, ordered least to most verbose.
type Level int

const (
	LevelError Level = iota
	LevelWarning
	LevelInfo
	LevelDebug
)

// ParseLevel maps the CLI's --loglevel names onto a Level. Unknown names
// fall back to LevelWarning.
func ParseLevel(s string) Level {
	switch strings.ToUpper(s) {
	case "ERROR":
		return LevelError
	case "WARNING":
		return LevelWarning
	case "INFO":
		return LevelInfo
	case "DEBUG":
		return LevelDebug
	default:
		return LevelWarning
	}
}

// ANSI color codes used for build-step, success and failure lines.
const (
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorRed    = "\033[31m"
	colorGrey   = "\033[90m"
	colorReset  = "\033[0m"
)

var isTerminal = func() bool {
	if !isatty.IsTerminal(os.Stdout.Fd()) {
		return false
	}
	_, err := unix.IoctlGetTermios(int(os.Stdout.Fd()), unix.TCGETS)
	return err == nil
}()

// Logger is a leveled logger with an optional in-place status block for
// reporting per-worker build progress. The zero value is not usable; use
// New.
type Logger struct {
	level Level
	std   *log.Logger

	statusMu   sync.Mutex
	status     []string
	lastRedraw time.Time
}

// New creates a Logger at the given level with n status lines (one per
// worker slot, plus one overall summary line at index 0). n may be zero for
// non-interactive use.
func New(level Level, n int) *Logger {
	return &Logger{
		level:  level,
		std:    log.New(os.Stderr, "", log.LstdFlags),
		status: make([]string, n),
	}
}

func (l *Logger) Debugf(format string, args ...interface{}) {
	if l.level >= LevelDebug {
		l.std.Printf(colorGrey+format+colorReset, args...)
	}
}

func (l *Logger) Infof(format string, args ...interface{}) {
	if l.level >= LevelInfo {
		l.std.Printf(format, args...)
	}
}

func (l *Logger) Warningf(format string, args ...interface{}) {
	if l.level >= LevelWarning {
		l.std.Printf(colorYellow+format+colorReset, args...)
	}
}

func (l *Logger) Errorf(format string, args ...interface{}) {
	l.std.Printf(colorRed+format+colorReset, args...)
}

func (l *Logger) Successf(format string, args ...interface{}) {
	if l.level >= LevelInfo {
		l.std.Printf(colorGreen+format+colorReset, args...)
	}
}

// UpdateStatus sets the status line for worker slot idx (0 is the overall
// summary line) and redraws the status block if attached to a terminal and
// not too recently redrawn.
func (l *Logger) UpdateStatus(idx int, status string) {
	if !isTerminal || idx >= len(l.status) {
		return
	}
	l.statusMu.Lock()
	defer l.statusMu.Unlock()
	if diff := len(l.status[idx]) - len(status); diff > 0 {
		status += strings.Repeat(" ", diff)
	}
	l.status[idx] = status
	if time.Since(l.lastRedraw) < 100*time.Millisecond {
		return
	}
	l.redrawLocked()
}

// RefreshStatus force-redraws the status block, e.g. after printing a log
// line that would otherwise be overwritten.
func (l *Logger) RefreshStatus() {
	if !isTerminal {
		return
	}
	l.statusMu.Lock()
	defer l.statusMu.Unlock()
	l.redrawLocked()
}

func (l *Logger) redrawLocked() {
	l.lastRedraw = time.Now()
	for _, line := range l.status {
		fmt.Println(line)
	}
	fmt.Printf("\033[%dA", len(l.status))
}
