package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/groupmind/digestd/internal/core"
)

// Notifier delivers a terminal job event to the outside world.
type Notifier interface {
	NotifyTerminal(ctx context.Context, event *core.JobEvent) error
}

// WebhookNotifier POSTs terminal events as JSON to a configured URL.
type WebhookNotifier struct {
	url        string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewWebhookNotifier creates a webhook notifier.
func NewWebhookNotifier(url string, timeout time.Duration, logger *slog.Logger) *WebhookNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookNotifier{
		url:        url,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// NotifyTerminal posts the event. Delivery is at-most-once; a failed post
// is logged by the delivery loop, not retried.
func (n *WebhookNotifier) NotifyTerminal(ctx context.Context, event *core.JobEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned %d", resp.StatusCode)
	}
	return nil
}

// Delivery forwards terminal job events from the broker to a Notifier.
type Delivery struct {
	events   core.EventSubscriber
	notifier Notifier
	logger   *slog.Logger

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewDelivery creates the delivery loop.
func NewDelivery(events core.EventSubscriber, notifier Notifier, logger *slog.Logger) *Delivery {
	return &Delivery{
		events:   events,
		notifier: notifier,
		logger:   logger,
		stop:     make(chan struct{}),
	}
}

// Start subscribes to the broker's terminal feed and forwards each event.
func (d *Delivery) Start() error {
	ch, unsubscribe, err := d.events.SubscribeTerminal()
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer unsubscribe()
		for {
			select {
			case <-d.stop:
				return
			case ev, ok := <-ch:
				if !ok {
					return
				}
				ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
				if err := d.notifier.NotifyTerminal(ctx, ev); err != nil {
					d.logger.Warn("terminal event delivery failed",
						"job_id", ev.JobID, "to", ev.To, "error", err)
				}
				cancel()
			}
		}
	}()
	return nil
}

// Stop ends the delivery loop.
func (d *Delivery) Stop() {
	d.stopOnce.Do(func() {
		close(d.stop)
	})
	d.wg.Wait()
}
