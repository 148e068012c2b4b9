// Package natsbus republishes broker events onto NATS subjects.
package natsbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"brokerchain/config"
	"brokerchain/core/events"
)

const defaultQueueSize = 1024

// Conn is the subset of *nats.Conn used by the publisher.
type Conn interface {
	Publish(subject string, data []byte) error
}

// Message is the body published for each event.
type Message struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
	EmittedAt  time.Time         `json:"emittedAt"`
}

// Publisher is an events.Emitter that forwards events to NATS from a
// background worker so the settlement path never blocks on the network.
type Publisher struct {
	conn   Conn
	prefix string
	logger *slog.Logger
	nowFn  func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	queue  chan Message
	wg     sync.WaitGroup
}

// Connect dials the configured NATS server.
func Connect(cfg config.NATS, logger *slog.Logger) (*nats.Conn, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("natsbus: url required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	conn, err := nats.Connect(cfg.URL,
		nats.Name("brokerd"),
		nats.Timeout(timeout),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats disconnected", slog.Any("error", err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", slog.String("url", nc.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("natsbus: connect: %w", err)
	}
	return conn, nil
}

// NewPublisher starts a publisher writing to subjects of the form
// <prefix>.<event type>.
func NewPublisher(conn Conn, prefix string, logger *slog.Logger) (*Publisher, error) {
	if conn == nil {
		return nil, errors.New("natsbus: connection required")
	}
	prefix = strings.Trim(strings.TrimSpace(prefix), ".")
	if prefix == "" {
		prefix = "broker.events"
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Publisher{
		conn:   conn,
		prefix: prefix,
		logger: logger,
		nowFn:  time.Now,
		ctx:    ctx,
		cancel: cancel,
		queue:  make(chan Message, defaultQueueSize),
	}
	p.wg.Add(1)
	go p.worker()
	return p, nil
}

// Subject returns the subject used for eventType.
func (p *Publisher) Subject(eventType string) string {
	return p.prefix + "." + eventType
}

// Emit implements events.Emitter. A full queue drops the event.
func (p *Publisher) Emit(evt events.Event) {
	payload, ok := events.Payload(evt)
	if !ok {
		return
	}
	msg := Message{Type: payload.Type, Attributes: payload.Attributes, EmittedAt: p.nowFn().UTC()}
	select {
	case p.queue <- msg:
	case <-p.ctx.Done():
	default:
		p.logger.Warn("nats queue full, dropping event", slog.String("type", payload.Type))
	}
}

// Close drains queued events and stops the worker.
func (p *Publisher) Close() {
	if p == nil {
		return
	}
	p.cancel()
	p.wg.Wait()
}

func (p *Publisher) worker() {
	defer p.wg.Done()
	for {
		select {
		case msg := <-p.queue:
			p.publish(msg)
		case <-p.ctx.Done():
			for {
				select {
				case msg := <-p.queue:
					p.publish(msg)
				default:
					return
				}
			}
		}
	}
}

func (p *Publisher) publish(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		p.logger.Error("nats encode failed", slog.String("type", msg.Type), slog.Any("error", err))
		return
	}
	if err := p.conn.Publish(p.Subject(msg.Type), data); err != nil {
		p.logger.Error("nats publish failed", slog.String("type", msg.Type), slog.Any("error", err))
	}
}
