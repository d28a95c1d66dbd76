package logger

import "sync/atomic"

var global atomic.Pointer[Logger]

// Init replaces the global logger with one built from cfg.
func Init(cfg *Config) {
	cfg.ApplyDefaults()
	SetGlobalLogger(New(cfg, cfg.ServiceName))
}

func SetGlobalLogger(l *Logger) { global.Store(l) }

// GetGlobalLogger returns the global logger. Before Init it is an info level
// console logger on stdout.
func GetGlobalLogger() *Logger {
	if l := global.Load(); l != nil {
		return l
	}
	cfg := &Config{}
	cfg.ApplyDefaults()
	global.CompareAndSwap(nil, New(cfg, ""))
	return global.Load()
}

// WithComponent returns the global logger tagged with name.
func WithComponent(name string) *Logger { return GetGlobalLogger().WithComponent(name) }

func Debug(msg string, fields ...map[string]any) { GetGlobalLogger().Debug(msg, fields...) }
func Info(msg string, fields ...map[string]any)  { GetGlobalLogger().Info(msg, fields...) }
func Warn(msg string, fields ...map[string]any)  { GetGlobalLogger().Warn(msg, fields...) }
func Error(msg string, fields ...map[string]any) { GetGlobalLogger().Error(msg, fields...) }
