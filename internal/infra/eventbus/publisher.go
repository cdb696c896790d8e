package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"agentflow/internal/domain"
)

// Conn is the part of a NATS connection the publisher needs. *nats.Conn satisfies it.
type Conn interface {
	Publish(subject string, data []byte) error
	Flush() error
	Drain() error
}

// Source yields stage events until ctx is done, closing the channel afterwards.
type Source interface {
	Subscribe(ctx context.Context, runID string) <-chan domain.StageEvent
}

type Options struct {
	Subject string
	Logger  *zap.Logger
}

// Publisher forwards stage events to NATS as JSON. Run events go to
// <subject>.<runID>.run, stage events to <subject>.<runID>.stage.<stageID>.
type Publisher struct {
	conn    Conn
	subject string
	logger  *zap.Logger
}

func NewPublisher(conn Conn, opts Options) (*Publisher, error) {
	if conn == nil {
		return nil, domain.E(domain.CodeInvalidArgument, "eventbus.new", "connection is required", nil)
	}
	subject := strings.TrimSpace(opts.Subject)
	if subject == "" {
		subject = domain.DefaultEventsSubject
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{conn: conn, subject: subject, logger: logger.Named("eventbus")}, nil
}

// Connect dials the NATS server at url with reconnects enabled.
func Connect(url string, logger *zap.Logger) (*nats.Conn, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	conn, err := nats.Connect(url,
		nats.Name(domain.DefaultClientName),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return conn, nil
}

// Subject returns the subject an event is published on.
func (p *Publisher) Subject(event domain.StageEvent) string {
	runID := token(event.RunID)
	if event.IsRunEvent() {
		return p.subject + "." + runID + ".run"
	}
	return p.subject + "." + runID + ".stage." + token(event.StageID)
}

func (p *Publisher) Publish(event domain.StageEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal stage event: %w", err)
	}
	subject := p.Subject(event)
	if err := p.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

// Run publishes every event from source until ctx is done, then flushes
// and drains the connection.
func (p *Publisher) Run(ctx context.Context, source Source) error {
	events := source.Subscribe(ctx, "")
	p.logger.Info("stage event publisher started", zap.String("subject", p.subject))
	for event := range events {
		if err := p.Publish(event); err != nil {
			p.logger.Warn("stage event publish failed",
				zap.String("run_id", event.RunID),
				zap.String("stage", event.StageID),
				zap.Error(err),
			)
		}
	}
	if err := p.conn.Flush(); err != nil {
		p.logger.Debug("nats flush failed", zap.Error(err))
	}
	if err := p.conn.Drain(); err != nil {
		return fmt.Errorf("drain NATS connection: %w", err)
	}
	return nil
}

// token keeps a value usable as a single subject token.
func token(value string) string {
	if value == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\n', '\r':
			return '_'
		}
		return r
	}, value)
}

var _ Conn = (*nats.Conn)(nil)
