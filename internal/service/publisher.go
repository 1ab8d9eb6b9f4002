package service

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/cardhaus/auction/internal/domain"
	"github.com/nats-io/nats.go"
)

// ──────────────────────────────────────────────────────────────────────────────
// Outbound integration points
// ──────────────────────────────────────────────────────────────────────────────

// EventPublisher emits settlement events to downstream consumers (payments,
// notifications). Implementations must be safe for concurrent use.
type EventPublisher interface {
	PublishSold(ev domain.AuctionSoldEvent) error
	PublishUnsold(ev domain.AuctionUnsoldEvent) error
}

// Broadcaster is the minimal interface services need from the WS hub.
// Implemented by ws.Hub.
type Broadcaster interface {
	BroadcastPriceUpdate(auctionID int64, price string)
	BroadcastEndTsUpdate(auctionID int64, endTs int64)
	BroadcastClosed(auctionID int64, reason string)
	BroadcastBidAccepted(auctionID, memberID int64, price string)
}

// ──────────────────────────────────────────────────────────────────────────────
// NATS publisher
// ──────────────────────────────────────────────────────────────────────────────

// Subjects for settlement events. The auction id is part of the subject so
// downstream services can subscribe per auction or with a wildcard.
const (
	subjectSoldFmt   = "auction.sold.%d"
	subjectUnsoldFmt = "auction.unsold.%d"
)

// NatsPublisher publishes settlement events over NATS.
type NatsPublisher struct {
	nc     *nats.Conn
	logger *slog.Logger
}

// NewNatsPublisher connects to the NATS server at url.
func NewNatsPublisher(url string, logger *slog.Logger) (*NatsPublisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("cardhaus-auction"),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("publisher.NewNatsPublisher: %w", err)
	}
	return &NatsPublisher{nc: nc, logger: logger}, nil
}

// PublishSold emits an auction.sold.<id> event.
func (p *NatsPublisher) PublishSold(ev domain.AuctionSoldEvent) error {
	return p.publish(fmt.Sprintf(subjectSoldFmt, ev.AuctionID), ev)
}

// PublishUnsold emits an auction.unsold.<id> event.
func (p *NatsPublisher) PublishUnsold(ev domain.AuctionUnsoldEvent) error {
	return p.publish(fmt.Sprintf(subjectUnsoldFmt, ev.AuctionID), ev)
}

func (p *NatsPublisher) publish(subject string, ev interface{}) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("publisher.publish marshal: %w", err)
	}
	if err := p.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("publisher.publish %s: %w", subject, err)
	}
	p.logger.Debug("published settlement event", "subject", subject)
	return nil
}

// Close drains the connection.
func (p *NatsPublisher) Close() {
	if p.nc != nil {
		_ = p.nc.Drain()
	}
}

// NoopPublisher discards settlement events. Used when NATS is disabled and
// in tests.
type NoopPublisher struct{}

func (NoopPublisher) PublishSold(domain.AuctionSoldEvent) error     { return nil }
func (NoopPublisher) PublishUnsold(domain.AuctionUnsoldEvent) error { return nil }
