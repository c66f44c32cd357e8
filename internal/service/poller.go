package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"principales/internal/constants"
	"principales/internal/errors"
	"principales/internal/metrics"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"
)

// UpdateProvider long-polls the bot API for new updates
type UpdateProvider interface {
	GetUpdates(ctx context.Context, offset, timeoutSec int) ([]tgbotapi.Update, error)
}

// UpdateHandler processes one update
type UpdateHandler interface {
	Dispatch(ctx context.Context, update tgbotapi.Update) error
}

// PollerConfig configures an UpdatePoller.
// InitialOffset is where the cursor starts on every process start; the
// cursor is never persisted.
type PollerConfig struct {
	InitialOffset int
	TimeoutSec    int
	Delay         time.Duration
}

// UpdatePoller runs the long-poll loop against the bot API
type UpdatePoller struct {
	provider   UpdateProvider
	dispatcher UpdateHandler
	config     PollerConfig
	logger     *logrus.Logger

	mu      sync.RWMutex
	offset  int
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

func NewUpdatePoller(provider UpdateProvider, dispatcher UpdateHandler, config PollerConfig, logger *logrus.Logger) *UpdatePoller {
	if config.TimeoutSec <= 0 {
		config.TimeoutSec = constants.DefaultPollTimeoutSec
	}
	if config.Delay <= 0 {
		config.Delay = time.Duration(constants.DefaultPollDelayMs) * time.Millisecond
	}
	return &UpdatePoller{
		provider:   provider,
		dispatcher: dispatcher,
		config:     config,
		logger:     logger,
		offset:     config.InitialOffset,
	}
}

// Start launches the polling goroutine
func (p *UpdatePoller) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return fmt.Errorf("update poller is already running")
	}

	p.running = true
	p.stopCh = make(chan struct{})

	p.wg.Add(1)
	go p.pollLoop(ctx, p.stopCh)

	p.logger.WithFields(logrus.Fields{
		LogFieldOffset: p.offset,
		"timeout_sec":  p.config.TimeoutSec,
		"delay_ms":     p.config.Delay.Milliseconds(),
	}).Info("Telegram poller started")

	return nil
}

// Stop ends the loop after the in-flight iteration and waits for it
func (p *UpdatePoller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.logger.Info("Stopping Telegram poller...")
	p.running = false
	close(p.stopCh)
	p.mu.Unlock()

	p.wg.Wait()
	p.logger.Info("Telegram poller stopped")
}

// IsRunning returns whether the poller is currently active
func (p *UpdatePoller) IsRunning() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.running
}

// Offset is the id of the next update the poller will ask for
func (p *UpdatePoller) Offset() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.offset
}

func (p *UpdatePoller) pollLoop(ctx context.Context, stopCh <-chan struct{}) {
	defer p.wg.Done()

	for {
		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		// failures are logged inside and never end the loop
		_ = p.PollOnce(ctx)

		timer := time.NewTimer(p.config.Delay)
		select {
		case <-stopCh:
			timer.Stop()
			return
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// PollOnce fetches one batch and dispatches it in update id order. On a
// fetch error the cursor is left alone so the same updates come back.
func (p *UpdatePoller) PollOnce(ctx context.Context) error {
	offset := p.Offset()
	metrics.IncrementCounter("telegram_polls_total", nil, "Long-poll requests issued")

	start := time.Now()
	updates, err := p.provider.GetUpdates(ctx, offset, p.config.TimeoutSec)
	metrics.RecordTimer("telegram_poll_duration", time.Since(start), nil, "Long-poll request duration")
	if err != nil {
		metrics.IncrementCounter("telegram_poll_errors_total", nil, "Long-poll requests that failed")
		if ctx.Err() == nil {
			errors.LogWarn(p.logger.WithField(LogFieldOffset, offset), err, "Telegram poll failed, retrying on next iteration")
		}
		return err
	}

	sort.SliceStable(updates, func(i, j int) bool {
		return updates[i].UpdateID < updates[j].UpdateID
	})

	for _, update := range updates {
		p.mu.Lock()
		p.offset = update.UpdateID + 1
		p.mu.Unlock()
		metrics.SetGauge("telegram_poll_offset", float64(update.UpdateID+1), nil, "Next update id requested")
		metrics.IncrementCounter("telegram_updates_total", nil, "Updates received")

		p.dispatch(ctx, update)
	}

	LogPollResult(ctx, p.logger, len(updates), p.Offset())
	return nil
}

// dispatch hands one update to the dispatcher, containing any panic
func (p *UpdatePoller) dispatch(ctx context.Context, update tgbotapi.Update) {
	defer func() {
		if r := recover(); r != nil {
			metrics.IncrementCounter("telegram_dispatch_panics_total", nil, "Dispatches that panicked")
			p.logger.WithFields(logrus.Fields{
				LogFieldUpdateID: update.UpdateID,
				"panic":          r,
			}).Error("Recovered from panic while dispatching update")
		}
	}()

	if err := p.dispatcher.Dispatch(ctx, update); err != nil {
		errors.LogError(p.logger.WithField(LogFieldUpdateID, update.UpdateID), err, "Failed to dispatch update")
	}
}
