package config

import (
	"fmt"
	"strings"
	"sync"

	"agentrade/internal/logger"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// ChangeListener 在主配置文件变更并重新校验通过后触发。
type ChangeListener func(*Config)

// Watcher 监听主配置文件；只有热更新安全的字段（日志级别等）由监听者应用。
type Watcher struct {
	path string
	v    *viper.Viper

	mu        sync.Mutex
	listeners []ChangeListener
}

func Watch(path string) (*Watcher, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("config watcher requires path")
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config failed: %w", err)
	}
	w := &Watcher{path: path, v: v}
	v.OnConfigChange(w.handle)
	v.WatchConfig()
	return w, nil
}

func (w *Watcher) Subscribe(fn ChangeListener) {
	if fn == nil {
		return
	}
	w.mu.Lock()
	w.listeners = append(w.listeners, fn)
	w.mu.Unlock()
}

func (w *Watcher) handle(evt fsnotify.Event) {
	if !evt.Has(fsnotify.Write) && !evt.Has(fsnotify.Create) {
		return
	}
	cfg, err := Load(w.path)
	if err != nil {
		logger.Errorf("config reload failed (%s): %v", evt.Name, err)
		return
	}
	w.mu.Lock()
	listeners := append([]ChangeListener(nil), w.listeners...)
	w.mu.Unlock()
	for _, fn := range listeners {
		func() {
			defer func() {
				if r := recover(); r != nil {
					logger.Errorf("config listener panic: %v", r)
				}
			}()
			fn(cfg)
		}()
	}
}

// ApplyLogLevel 是默认的热更新监听者。
func ApplyLogLevel(cfg *Config) {
	if cfg == nil {
		return
	}
	logger.SetLevel(cfg.App.LogLevel)
	logger.Infof("config reloaded, log level=%s", cfg.App.LogLevel)
}
