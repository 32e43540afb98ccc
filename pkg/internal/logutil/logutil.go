package logutil

import (
    "encoding/json"
    "fmt"
    "log"
    "os"
    "strings"
    "sync/atomic"
    "time"
)

// Level orders log severities.
type Level int32

const (
    LevelDebug Level = iota
    LevelInfo
    LevelWarn
    LevelError
)

var (
    jsonMode atomic.Bool
    minLevel atomic.Int32
)

func init() {
    if os.Getenv("REPLPROBE_LOG_JSON") == "1" || os.Getenv("REPLPROBE_LOG_FORMAT") == "json" {
        jsonMode.Store(true)
    }
    if lv, ok := ParseLevel(os.Getenv("REPLPROBE_LOG_LEVEL")); ok {
        minLevel.Store(int32(lv))
    } else {
        minLevel.Store(int32(LevelInfo))
    }
}

func prefix(l *log.Logger, p string) *log.Logger {
    if l == nil { l = log.Default() }
    return log.New(l.Writer(), p, l.Flags())
}

func SetJSON(enabled bool) { jsonMode.Store(enabled) }
func JSON() bool           { return jsonMode.Load() }

func SetLevel(lv Level) { minLevel.Store(int32(lv)) }
func CurrentLevel() Level { return Level(minLevel.Load()) }

// ParseLevel accepts debug, info, warn/warning and error.
func ParseLevel(s string) (Level, bool) {
    switch strings.ToLower(strings.TrimSpace(s)) {
    case "debug":
        return LevelDebug, true
    case "info":
        return LevelInfo, true
    case "warn", "warning":
        return LevelWarn, true
    case "error":
        return LevelError, true
    }
    return LevelInfo, false
}

func (lv Level) String() string {
    switch lv {
    case LevelDebug:
        return "debug"
    case LevelInfo:
        return "info"
    case LevelWarn:
        return "warn"
    }
    return "error"
}

func Debugf(l *log.Logger, f string, args ...any) { logf(l, LevelDebug, f, args...) }
func Infof(l *log.Logger, f string, args ...any)  { logf(l, LevelInfo, f, args...) }
func Warnf(l *log.Logger, f string, args ...any)  { logf(l, LevelWarn, f, args...) }
func Errorf(l *log.Logger, f string, args ...any) { logf(l, LevelError, f, args...) }

func logf(l *log.Logger, level Level, f string, args ...any) {
    if level < CurrentLevel() { return }
    if jsonMode.Load() {
        // emit structured json
        msg := fmt.Sprintf(f, args...)
        evt := map[string]any{
            "ts":    time.Now().UTC().Format(time.RFC3339Nano),
            "level": level.String(),
            "msg":   msg,
        }
        b, _ := json.Marshal(evt)
        if l == nil { l = log.Default() }
        l.Println(string(b))
        return
    }
    prefix(l, strings.ToUpper(level.String())+" ").Printf(f, args...)
}
