package nlog

import (
	"fmt"
	"os"
	"sync"
	"time"
)

type Level int

const (
	Error Level = iota
	Warning
	Info
	Debug
)

var levelName = [...]string{"ERROR", "WARN", "INFO", "DEBUG"}

// Logger writes leveled, timestamped lines to an underlying io.Writer
// through a reused fixed-size scratch buffer, avoiding per-line
// allocation on the hot paths (sync-queue dispatch, WAL ingest).
type Logger struct {
	mu    sync.Mutex
	out   *os.File
	level Level
	buf   fixed
}

func New(out *os.File, level Level) *Logger {
	return &Logger{out: out, level: level, buf: fixed{buf: make([]byte, 0, 4096)}}
}

func (l *Logger) SetLevel(lvl Level) { l.mu.Lock(); l.level = lvl; l.mu.Unlock() }

func (l *Logger) log(lvl Level, format string, args ...any) {
	if lvl > l.level {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.buf.buf) != cap(l.buf.buf) {
		l.buf.buf = l.buf.buf[:cap(l.buf.buf)]
	}
	l.buf.reset()
	l.buf.writeString(time.Now().UTC().Format("2006-01-02T15:04:05.000Z"))
	l.buf.writeByte(' ')
	l.buf.writeString(levelName[lvl])
	l.buf.writeByte(' ')
	l.buf.writeString(fmt.Sprintf(format, args...))
	l.buf.eol()
	l.out.Write(l.buf.buf[:l.buf.woff])
}

func (l *Logger) Errorf(format string, args ...any)   { l.log(Error, format, args...) }
func (l *Logger) Warningf(format string, args ...any) { l.log(Warning, format, args...) }
func (l *Logger) Infof(format string, args ...any)    { l.log(Info, format, args...) }
func (l *Logger) Debugf(format string, args ...any)   { l.log(Debug, format, args...) }

var std = New(os.Stderr, Info)

func SetLevel(lvl Level)                 { std.SetLevel(lvl) }
func Errorf(format string, args ...any)   { std.Errorf(format, args...) }
func Warningf(format string, args ...any) { std.Warningf(format, args...) }
func Infof(format string, args ...any)    { std.Infof(format, args...) }
func Debugf(format string, args ...any)   { std.Debugf(format, args...) }
