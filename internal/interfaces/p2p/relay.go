// Package p2p exposes the off-chain message relay: a gossipsub topic that
// accepts signed typed-data messages and feeds them into the indexer store.
package p2p

import (
	"context"
	"fmt"

	"github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"go.uber.org/zap"

	"world-indexer.backend/pkg/logger"
)

// MessagingTopic is the fixed gossipsub topic all relays share.
const MessagingTopic = "messaging"

// MessageHandler consumes one raw envelope from the network.
type MessageHandler interface {
	HandleRaw(ctx context.Context, raw []byte) error
}

// Config tunes the relay host.
type Config struct {
	Port int
}

// Relay is a gossipsub participant on the messaging topic.
type Relay struct {
	host    host.Host
	ps      *pubsub.PubSub
	topic   *pubsub.Topic
	sub     *pubsub.Subscription
	handler MessageHandler
}

// NewRelay starts a libp2p host and joins the messaging topic.
func NewRelay(ctx context.Context, cfg Config, handler MessageHandler) (*Relay, error) {
	h, err := libp2p.New(libp2p.ListenAddrStrings(
		fmt.Sprintf("/ip4/0.0.0.0/tcp/%d", cfg.Port),
		fmt.Sprintf("/ip4/0.0.0.0/udp/%d/quic-v1", cfg.Port),
	))
	if err != nil {
		return nil, fmt.Errorf("start relay host: %w", err)
	}
	return newRelayWithHost(ctx, h, handler)
}

func newRelayWithHost(ctx context.Context, h host.Host, handler MessageHandler) (*Relay, error) {
	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		h.Close()
		return nil, fmt.Errorf("start gossipsub: %w", err)
	}
	topic, err := ps.Join(MessagingTopic)
	if err != nil {
		h.Close()
		return nil, fmt.Errorf("join topic: %w", err)
	}
	sub, err := topic.Subscribe()
	if err != nil {
		h.Close()
		return nil, fmt.Errorf("subscribe: %w", err)
	}

	logger.Info(ctx, "relay listening",
		zap.String("peer_id", h.ID().String()),
		zap.String("topic", MessagingTopic))
	return &Relay{host: h, ps: ps, topic: topic, sub: sub, handler: handler}, nil
}

// Run consumes topic messages until ctx is cancelled. Handler failures are
// storage-side and logged; the loop keeps serving.
func (r *Relay) Run(ctx context.Context) {
	for {
		msg, err := r.sub.Next(ctx)
		if err != nil {
			logger.Info(ctx, "relay stopped")
			return
		}
		r.dispatch(ctx, msg.ReceivedFrom, msg.Data)
	}
}

func (r *Relay) dispatch(ctx context.Context, from peer.ID, data []byte) {
	if from == r.host.ID() {
		return
	}
	if err := r.handler.HandleRaw(ctx, data); err != nil {
		logger.Error(ctx, "relay message failed",
			zap.String("from", from.String()), zap.Error(err))
	}
}

// Publish broadcasts a raw envelope to the topic.
func (r *Relay) Publish(ctx context.Context, raw []byte) error {
	return r.topic.Publish(ctx, raw)
}

// Addrs lists the host's listen addresses.
func (r *Relay) Addrs() []string {
	var out []string
	for _, a := range r.host.Addrs() {
		out = append(out, fmt.Sprintf("%s/p2p/%s", a, r.host.ID()))
	}
	return out
}

func (r *Relay) Close() error {
	r.sub.Cancel()
	if err := r.topic.Close(); err != nil {
		return err
	}
	return r.host.Close()
}
