package nats

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/code-payments/receipt-validator/iap"
)

const DefaultSubject = "iap.receipts.validated"

// Publisher sends validation events as JSON messages on a NATS subject.
type Publisher struct {
	log     *zap.Logger
	conn    *nats.Conn
	subject string
}

// Connect dials the NATS server at url and returns a Publisher for subject.
func Connect(log *zap.Logger, url, subject string) (*Publisher, error) {
	if subject == "" {
		subject = DefaultSubject
	}

	conn, err := nats.Connect(url,
		nats.Name("receipt-validator"),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(60),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Warn("NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to connect to NATS at %s", url)
	}

	return NewPublisher(log, conn, subject), nil
}

func NewPublisher(log *zap.Logger, conn *nats.Conn, subject string) *Publisher {
	return &Publisher{
		log:     log,
		conn:    conn,
		subject: subject,
	}
}

// Publish sends e and waits for the server to acknowledge the flush, bounded
// by ctx.
func (p *Publisher) Publish(ctx context.Context, e *iap.Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return errors.Wrap(err, "failed to marshal event")
	}

	if err := p.conn.Publish(p.subject, data); err != nil {
		return errors.Wrap(err, "failed to publish event")
	}

	if err := p.conn.FlushWithContext(ctx); err != nil {
		return errors.Wrap(err, "failed to flush event")
	}

	p.log.Debug("Published validation event",
		zap.String("subject", p.subject),
		zap.String("receipt_id", e.ReceiptID),
	)
	return nil
}

func (p *Publisher) Close() {
	p.conn.Close()
}
