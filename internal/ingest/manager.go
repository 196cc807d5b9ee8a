package ingest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	logging "github.com/drblury/catalogflow/internal/logging"
)

// QueueHealth is the per-queue view reported by the manager.
type QueueHealth struct {
	Alive        bool      `json:"alive"`
	InFlight     bool      `json:"in_flight"`
	Stalled      bool      `json:"stalled"`
	LastProgress time.Time `json:"last_progress"`
}

// Manager owns one consumer per queue. Start subscribes and launches the
// consumer loops; DrainAndStop shuts them down in two phases, first letting
// in-flight messages finish, then forcing a stop when the timeout expires.
type Manager struct {
	subscriber message.Subscriber
	consumers  map[string]*Consumer
	logger     logging.ServiceLogger

	watchdogInterval time.Duration
	stallThreshold   time.Duration

	mu      sync.Mutex
	started bool

	subCancel  context.CancelFunc
	procCancel context.CancelFunc
	wg         sync.WaitGroup
	watchdogWg sync.WaitGroup
}

// NewManager wires consumers to the subscriber. watchdogInterval of zero
// disables the stall watchdog.
func NewManager(subscriber message.Subscriber, consumers []*Consumer, watchdogInterval time.Duration, logger logging.ServiceLogger) (*Manager, error) {
	byQueue := make(map[string]*Consumer, len(consumers))
	for _, c := range consumers {
		if _, dup := byQueue[c.Queue()]; dup {
			return nil, fmt.Errorf("duplicate consumer for queue %q", c.Queue())
		}
		byQueue[c.Queue()] = c
	}
	return &Manager{
		subscriber:       subscriber,
		consumers:        byQueue,
		logger:           logger,
		watchdogInterval: watchdogInterval,
		stallThreshold:   4 * watchdogInterval,
	}, nil
}

// Start subscribes every queue and launches its consumer loop. Subscriptions
// are opened synchronously so a broken queue fails Start instead of dying
// silently in a goroutine.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return fmt.Errorf("manager already started")
	}

	subCtx, subCancel := context.WithCancel(ctx)
	procCtx, procCancel := context.WithCancel(context.WithoutCancel(ctx))
	m.subCancel = subCancel
	m.procCancel = procCancel

	for queue, consumer := range m.consumers {
		messages, err := m.subscriber.Subscribe(subCtx, queue)
		if err != nil {
			subCancel()
			procCancel()
			return fmt.Errorf("subscribe %s: %w", queue, err)
		}

		m.wg.Add(1)
		go func(c *Consumer, msgs <-chan *message.Message) {
			defer m.wg.Done()
			c.Run(procCtx, msgs)
		}(consumer, messages)
	}

	if m.watchdogInterval > 0 {
		m.watchdogWg.Add(1)
		go m.watchdog(procCtx)
	}

	m.started = true
	m.logger.Info("consumer manager started", logging.LogFields{"queues": len(m.consumers)})
	return nil
}

// DrainAndStop cancels the subscriptions, waits up to timeout for in-flight
// messages to finish, then cancels processing outright. Messages interrupted
// by the forced stop are nacked for redelivery.
func (m *Manager) DrainAndStop(timeout time.Duration) error {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return nil
	}
	subCancel, procCancel := m.subCancel, m.procCancel
	m.mu.Unlock()

	subCancel()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	var forced bool
	select {
	case <-done:
	case <-time.After(timeout):
		forced = true
		m.logger.Info("drain timeout reached, forcing stop", logging.LogFields{"timeout": timeout.String()})
		procCancel()
		<-done
	}

	procCancel()
	m.watchdogWg.Wait()

	m.mu.Lock()
	m.started = false
	m.mu.Unlock()

	if forced {
		return fmt.Errorf("drain timed out after %s, in-flight messages were requeued", timeout)
	}
	m.logger.Info("consumer manager stopped", nil)
	return nil
}

// Health reports the per-queue consumer state.
func (m *Manager) Health() map[string]QueueHealth {
	out := make(map[string]QueueHealth, len(m.consumers))
	for queue, c := range m.consumers {
		last := c.LastProgress()
		out[queue] = QueueHealth{
			Alive:        c.Healthy(),
			InFlight:     c.InFlight(),
			Stalled:      m.isStalled(c, last),
			LastProgress: last,
		}
	}
	return out
}

// Healthy reports whether every consumer loop is alive and none is stalled.
func (m *Manager) Healthy() bool {
	for _, h := range m.Health() {
		if !h.Alive || h.Stalled {
			return false
		}
	}
	return true
}

func (m *Manager) isStalled(c *Consumer, lastProgress time.Time) bool {
	if m.stallThreshold <= 0 || !c.Healthy() || !c.InFlight() {
		return false
	}
	return time.Since(lastProgress) > m.stallThreshold
}

// watchdog periodically logs consumers stuck on one message. Retry backoff
// makes slow progress normal, so stalls are only reported, never killed.
func (m *Manager) watchdog(ctx context.Context) {
	defer m.watchdogWg.Done()

	ticker := time.NewTicker(m.watchdogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for queue, h := range m.Health() {
				if h.Stalled {
					m.logger.Info("consumer stalled on a message", logging.LogFields{
						"queue":         queue,
						"last_progress": h.LastProgress.Format(time.RFC3339),
					})
				}
			}
		}
	}
}
