package utils

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
	"torii_shield/internal/dataType"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type LogxManager struct {
	basePath string
	loggers  map[string]*zap.Logger
	files    []*os.File
	mu       sync.RWMutex
}

func NewManager(base string) *LogxManager {
	m := &LogxManager{basePath: base, loggers: make(map[string]*zap.Logger)}

	if err := os.MkdirAll(m.basePath, 0744); err != nil {
		log.Printf("failed to create base log dir %s: %v", m.basePath, err)
	}
	return m
}

var (
	defaultMu      sync.RWMutex
	defaultManager *LogxManager
)

// InitLogx sets the manager behind LogInfo, LogError and LogDebug.
func InitLogx(base string) *LogxManager {
	m := NewManager(base)
	defaultMu.Lock()
	defaultManager = m
	defaultMu.Unlock()
	return m
}

func currentManager() *LogxManager {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultManager
}

func (m *LogxManager) getLogger(host string) *zap.Logger {
	if host == "" {
		host = "default"
	}
	m.mu.RLock()
	if lg, ok := m.loggers[host]; ok {
		m.mu.RUnlock()
		return lg
	}
	m.mu.RUnlock()
	m.mu.Lock()
	defer m.mu.Unlock()
	if lg, ok := m.loggers[host]; ok {
		return lg
	}
	dir := filepath.Join(m.basePath, filepath.Base(host))
	if err := os.MkdirAll(dir, 0744); err != nil {
		log.Printf("failed to create log dir %s: %v", dir, err)
	}

	encCfg := zapcore.EncoderConfig{MessageKey: "msg", LineEnding: zapcore.DefaultLineEnding}
	encoder := zapcore.NewConsoleEncoder(encCfg)

	infoOut := zapcore.AddSync(m.openLogFile(filepath.Join(dir, "info.log")))
	errorOut := zapcore.AddSync(m.openLogFile(filepath.Join(dir, "error.log")))
	dbgOut := zapcore.AddSync(m.openLogFile(filepath.Join(dir, "debug.log")))

	infoLv := zap.LevelEnablerFunc(func(l zapcore.Level) bool { return l == zapcore.InfoLevel })
	errLv := zap.LevelEnablerFunc(func(l zapcore.Level) bool { return l >= zapcore.ErrorLevel })
	dbgLv := zap.LevelEnablerFunc(func(l zapcore.Level) bool { return l == zapcore.DebugLevel })

	tee := zapcore.NewTee(
		zapcore.NewCore(encoder, infoOut, infoLv),
		zapcore.NewCore(encoder, errorOut, errLv),
		zapcore.NewCore(encoder, dbgOut, dbgLv),
	)
	lg := zap.New(tee)
	m.loggers[host] = lg
	return lg
}

func (m *LogxManager) openLogFile(path string) *os.File {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		log.Printf("failed to open log file %s: %v", path, err)
		return os.Stdout
	}
	m.files = append(m.files, f)
	return f
}

// Close flushes every logger and closes its files.
func (m *LogxManager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, lg := range m.loggers {
		_ = lg.Sync()
	}
	for _, f := range m.files {
		_ = f.Close()
	}
	m.loggers = make(map[string]*zap.Logger)
	m.files = nil
}

func formatLine(reqData dataType.UserRequest, msg, msg2 string) string {
	return fmt.Sprintf("%s - - [%s] %s %s %s %s %s %s",
		reqData.RemoteIP,
		time.Now().Format("02/Jan/2006:15:04:05 -0700"),
		reqData.RequestID,
		msg,
		reqData.Host,
		reqData.Uri,
		DescribeUserAgent(reqData.UserAgent),
		msg2,
	)
}

func (m *LogxManager) LogInfo(reqData dataType.UserRequest, msg, msg2 string) {
	m.getLogger(reqData.Host).Info(formatLine(reqData, msg, msg2))
}

func (m *LogxManager) LogError(reqData dataType.UserRequest, msg, msg2 string) {
	m.getLogger(reqData.Host).Error(formatLine(reqData, msg, msg2))
}

func (m *LogxManager) LogDebug(reqData dataType.UserRequest, msg, msg2 string) {
	m.getLogger(reqData.Host).Debug(formatLine(reqData, msg, msg2))
}

// LogInfo writes through the manager set by InitLogx; it is a no-op before.
func LogInfo(reqData dataType.UserRequest, msg, msg2 string) {
	if m := currentManager(); m != nil {
		m.LogInfo(reqData, msg, msg2)
	}
}

func LogError(reqData dataType.UserRequest, msg, msg2 string) {
	if m := currentManager(); m != nil {
		m.LogError(reqData, msg, msg2)
	}
}

func LogDebug(reqData dataType.UserRequest, msg, msg2 string) {
	if m := currentManager(); m != nil {
		m.LogDebug(reqData, msg, msg2)
	}
}
