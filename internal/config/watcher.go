package config

import (
	"context"
	"os"
	"sync"
	"time"

	"principales/internal/models"

	"github.com/sirupsen/logrus"
)

const defaultWatchInterval = 5 * time.Second

// fileStamp identifies one version of the config file on disk
type fileStamp struct {
	modTime time.Time
	size    int64
}

func stampOf(info os.FileInfo) fileStamp {
	return fileStamp{modTime: info.ModTime(), size: info.Size()}
}

// ConfigWatcher polls the config file and hands reloaded configs to the
// registered callbacks. Only the log level and the Discord webhook are
// applied at runtime; everything else needs a restart.
type ConfigWatcher struct {
	configPath string
	interval   time.Duration
	logger     *logrus.Logger

	mu        sync.RWMutex
	config    *models.Config
	callbacks []func(*models.Config)
}

func NewConfigWatcher(configPath string, initial *models.Config, logger *logrus.Logger) *ConfigWatcher {
	return &ConfigWatcher{
		configPath: configPath,
		interval:   defaultWatchInterval,
		logger:     logger,
		config:     initial,
	}
}

// Start blocks until ctx is done. A missing file at start is an error; a file
// that disappears later is logged and watched again once it comes back.
func (cw *ConfigWatcher) Start(ctx context.Context) error {
	info, err := os.Stat(cw.configPath)
	if err != nil {
		return err
	}
	last := stampOf(info)

	cw.logger.WithField("path", cw.configPath).Info("Configuration watcher started")

	ticker := time.NewTicker(cw.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			info, err := os.Stat(cw.configPath)
			if err != nil {
				cw.logger.WithError(err).Warn("Configuration file unavailable")
				continue
			}
			if stamp := stampOf(info); stamp != last {
				last = stamp
				cw.reloadConfig()
			}
		}
	}
}

// GetConfig returns the last config that loaded successfully
func (cw *ConfigWatcher) GetConfig() *models.Config {
	cw.mu.RLock()
	defer cw.mu.RUnlock()
	return cw.config
}

// OnConfigChange registers fn to receive every config whose runtime settings changed
func (cw *ConfigWatcher) OnConfigChange(fn func(*models.Config)) {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	cw.callbacks = append(cw.callbacks, fn)
}

func (cw *ConfigWatcher) reloadConfig() {
	next, err := LoadConfig(cw.configPath)
	if err != nil {
		cw.logger.WithError(err).Error("Rejected configuration reload, keeping the running config")
		return
	}

	cw.mu.Lock()
	prev := cw.config
	cw.config = next
	callbacks := append([]func(*models.Config){}, cw.callbacks...)
	cw.mu.Unlock()

	if keys := RestartRequired(prev, next); len(keys) > 0 {
		cw.logger.WithField("keys", keys).Warn("Changed settings take effect after a restart")
	}
	if prev != nil && !runtimeChanged(prev, next) {
		cw.logger.Debug("Configuration file changed without runtime settings changes")
		return
	}

	cw.logger.WithFields(logrus.Fields{
		"log_level":          next.LogLevel,
		"discord_configured": next.Discord.WebhookURL != "",
	}).Info("Configuration reloaded")

	for _, fn := range callbacks {
		cw.notify(fn, next)
	}
}

func (cw *ConfigWatcher) notify(fn func(*models.Config), cfg *models.Config) {
	defer func() {
		if r := recover(); r != nil {
			cw.logger.WithField("panic", r).Error("Config change callback panicked")
		}
	}()
	fn(cfg)
}

// runtimeChanged reports whether a setting applied without restart differs
func runtimeChanged(prev, next *models.Config) bool {
	return prev.LogLevel != next.LogLevel || prev.Discord.WebhookURL != next.Discord.WebhookURL
}

// RestartRequired lists the changed config keys that only apply at startup
func RestartRequired(prev, next *models.Config) []string {
	if prev == nil || next == nil {
		return nil
	}
	var keys []string
	if prev.Telegram.BotToken != next.Telegram.BotToken {
		keys = append(keys, "telegram.bot_token")
	}
	if prev.Telegram.ChatID != next.Telegram.ChatID {
		keys = append(keys, "telegram.chat_id")
	}
	if prev.Storage != next.Storage {
		keys = append(keys, "storage")
	}
	if prev.Server.Port != next.Server.Port {
		keys = append(keys, "server.port")
	}
	if len(prev.Server.APITokenHashes) != len(next.Server.APITokenHashes) {
		keys = append(keys, "server.api_token_hashes")
	} else {
		for i := range prev.Server.APITokenHashes {
			if prev.Server.APITokenHashes[i] != next.Server.APITokenHashes[i] {
				keys = append(keys, "server.api_token_hashes")
				break
			}
		}
	}
	return keys
}
