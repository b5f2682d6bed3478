package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"
)

const (
	defaultQueueSize = 100
	defaultTimeout   = 5 * time.Second
)

type Config struct {
	WebhookURL string
	Channel    string
	QueueSize  int
	Timeout    time.Duration
}

// Dispatcher delivers Slack messages from a bounded outbox on one worker.
// Delivery is at-most-once: overflow and failures are logged and dropped.
type Dispatcher struct {
	cfg    Config
	client *http.Client
	logger *log.Logger
	queue  chan Message
	done   chan struct{}

	mu      sync.Mutex
	started bool
	closed  bool
}

func NewDispatcher(cfg Config, logger *log.Logger) *Dispatcher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Dispatcher{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
		queue:  make(chan Message, cfg.QueueSize),
		done:   make(chan struct{}),
	}
}

// Enabled reports whether a webhook URL is configured.
func (d *Dispatcher) Enabled() bool {
	return d != nil && strings.TrimSpace(d.cfg.WebhookURL) != ""
}

// Start launches the delivery worker. Calling it twice is a no-op.
func (d *Dispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started || d.closed {
		return
	}
	d.started = true
	go d.run()
}

// Enqueue never blocks. It returns false when the message was not queued.
func (d *Dispatcher) Enqueue(m Message) bool {
	if !d.Enabled() {
		return false
	}
	if m.Channel == "" {
		m.Channel = d.cfg.Channel
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		d.logger.Printf("notify: dispatcher closed, dropping %q", m.Text)
		return false
	}
	select {
	case d.queue <- m:
		return true
	default:
		d.logger.Printf("notify: outbox full (%d), dropping %q", cap(d.queue), m.Text)
		return false
	}
}

// Close stops accepting messages and waits for the worker to drain the outbox.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	started := d.started
	d.mu.Unlock()
	if started {
		<-d.done
	}
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for m := range d.queue {
		ctx, cancel := context.WithTimeout(context.Background(), d.cfg.Timeout)
		if err := d.Send(ctx, m); err != nil {
			d.logger.Printf("notify: deliver %q failed: %v", m.Text, err)
		}
		cancel()
	}
}

// Send posts one message synchronously.
func (d *Dispatcher) Send(ctx context.Context, m Message) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.cfg.WebhookURL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	res, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}
