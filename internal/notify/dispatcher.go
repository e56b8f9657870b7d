// Package notify delivers alerts and reports to chat webhooks, throttling
// alert volume with a per-key cooldown and splitting oversized messages.
package notify

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultCooldown is the minimum gap between two alerts for one key.
	DefaultCooldown = 10 * time.Minute

	// maxMessageLen is the transport limit; anything longer is chunked.
	maxMessageLen = 2000
	chunkLen      = 1900

	// interChunkDelay is a defensive ordering aid, not a correctness
	// requirement: webhook transports already deliver in request order.
	interChunkDelay = 200 * time.Millisecond
)

// Dispatcher sends alerts (cooldown-throttled) and reports (unthrottled)
// through a webhook transport.
type Dispatcher struct {
	transport Transport
	cooldowns CooldownStore
	cooldown  time.Duration
	queue     chan alertJob
	now       func() time.Time
	sleep     func(time.Duration)
	logger    *zap.Logger
}

type alertJob struct {
	webhookURL string
	key        string
	message    string
}

// NewDispatcher creates a dispatcher over transport with the given cooldown
// store. A cooldown of zero means DefaultCooldown.
func NewDispatcher(transport Transport, cooldowns CooldownStore, cooldown time.Duration, logger *zap.Logger) *Dispatcher {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &Dispatcher{
		transport: transport,
		cooldowns: cooldowns,
		cooldown:  cooldown,
		queue:     make(chan alertJob, 256),
		now:       time.Now,
		sleep:     time.Sleep,
		logger:    logger,
	}
}

// Start runs the alert worker until ctx is cancelled. Queued alerts are sent
// off the ingest path so webhook latency never stalls concurrent pushes.
func (d *Dispatcher) Start(ctx context.Context) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case job := <-d.queue:
				d.SendAlert(ctx, job.webhookURL, job.key, job.message)
			}
		}
	}()
}

// EnqueueAlert hands an alert to the worker without blocking the caller.
// Delivery is best-effort: when the queue is full the alert is dropped.
func (d *Dispatcher) EnqueueAlert(webhookURL, key, message string) {
	select {
	case d.queue <- alertJob{webhookURL: webhookURL, key: key, message: message}:
	default:
		d.logger.Warn("alert queue full, dropping alert", zap.String("key", key))
	}
}

// SendAlert delivers an alert unless key fired within the cooldown window.
// The cooldown is marked only after a successful send, so an undelivered
// alert can retry on the next trigger instead of being suppressed.
func (d *Dispatcher) SendAlert(ctx context.Context, webhookURL, key, message string) {
	if webhookURL == "" {
		return
	}

	now := d.now()
	if last, ok := d.cooldowns.Last(key); ok && now.Sub(last) < d.cooldown {
		d.logger.Info("alert skipped (cooldown)", zap.String("key", key))
		return
	}

	text := fmt.Sprintf("## [%s] server alert\n%s", key, message)
	if err := d.send(ctx, webhookURL, text); err != nil {
		d.logger.Error("alert send failed", zap.String("key", key), zap.Error(err))
		return
	}
	d.cooldowns.Mark(key, now)
	d.logger.Info("alert sent", zap.String("key", key))
}

// SendReport delivers an on-demand report, bypassing the cooldown.
func (d *Dispatcher) SendReport(ctx context.Context, webhookURL, message string) error {
	if webhookURL == "" {
		return nil
	}
	if err := d.send(ctx, webhookURL, message); err != nil {
		d.logger.Error("report send failed", zap.Error(err))
		return err
	}
	return nil
}

// send posts text, splitting it into ordered chunks when it exceeds the
// transport limit. The first failed chunk aborts the rest.
func (d *Dispatcher) send(ctx context.Context, webhookURL, text string) error {
	if len(text) <= maxMessageLen {
		return d.transport.Post(ctx, webhookURL, text)
	}

	for i, chunk := range splitMessage(text, chunkLen) {
		if i > 0 {
			d.sleep(interChunkDelay)
		}
		if err := d.transport.Post(ctx, webhookURL, chunk); err != nil {
			return fmt.Errorf("chunk %d: %w", i+1, err)
		}
	}
	return nil
}

// splitMessage cuts text into ordered pieces of at most size bytes whose
// concatenation equals the original.
func splitMessage(text string, size int) []string {
	var chunks []string
	for len(text) > size {
		chunks = append(chunks, text[:size])
		text = text[size:]
	}
	return append(chunks, text)
}
