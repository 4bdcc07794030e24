// Package stream publishes hit and session events to NATS.
package stream

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"github.com/verte-zerg/kickshield/internal/model"
)

// DefaultSubject prefixes every published subject.
const DefaultSubject = "kickshield"

// Connect dials a NATS server with reconnects enabled.
func Connect(url string, log logrus.FieldLogger) (*nats.Conn, error) {
	return nats.Connect(
		url,
		nats.Name("kickshield"),
		nats.Timeout(3*time.Second),
		nats.ReconnectWait(500*time.Millisecond),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.WithError(err).Warn("nats disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.WithField("url", nc.ConnectedUrl()).Info("nats reconnected")
		}),
	)
}

// Conn is the publishing side of a NATS connection.
type Conn interface {
	Publish(subj string, data []byte) error
}

// Publisher forwards engine events as JSON messages on <prefix>.hit and
// <prefix>.session.
type Publisher struct {
	conn   Conn
	prefix string
	log    logrus.FieldLogger
}

// NewPublisher returns a Publisher; an empty prefix uses DefaultSubject.
func NewPublisher(conn Conn, prefix string, log logrus.FieldLogger) *Publisher {
	if prefix == "" {
		prefix = DefaultSubject
	}
	return &Publisher{conn: conn, prefix: prefix, log: log}
}

// HitSubject returns the subject used for hits.
func (p *Publisher) HitSubject() string { return p.prefix + ".hit" }

// SessionSubject returns the subject used for completed sessions.
func (p *Publisher) SessionSubject() string { return p.prefix + ".session" }

// OnHit implements engine.Listener.
func (p *Publisher) OnHit(ev model.HitEvent) {
	if err := p.publish(p.HitSubject(), ev); err != nil {
		p.log.WithError(err).Warn("failed to publish hit")
	}
}

// OnSessionEnd implements engine.Listener.
func (p *Publisher) OnSessionEnd(rec model.SessionRecord) {
	if err := p.publish(p.SessionSubject(), rec); err != nil {
		p.log.WithError(err).Warn("failed to publish session")
	}
}

func (p *Publisher) publish(subject string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", subject, err)
	}
	return p.conn.Publish(subject, data)
}
