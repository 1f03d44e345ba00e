// Package metrics exposes the indexer's Prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ChainHead is the latest block number reported by the provider.
	ChainHead = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "indexer_chain_head_block",
		Help: "Latest block number reported by the chain provider",
	})

	// IndexedHead is the last committed cursor head.
	IndexedHead = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "indexer_head_block",
		Help: "Last committed indexed block",
	})

	// BlocksProcessed counts committed block ranges by result.
	BlocksProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "indexer_ranges_total",
		Help: "Indexed block ranges by result",
	}, []string{"result"})

	// EventsProcessed counts world events by selector name.
	EventsProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "indexer_events_total",
		Help: "World events fed to the processor",
	})

	// MessagesProcessed counts relay messages by outcome.
	MessagesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "indexer_relay_messages_total",
		Help: "Off-chain messages by outcome",
	}, []string{"outcome"})

	// RegisteredModels tracks the size of the model cache.
	RegisteredModels = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "indexer_registered_models",
		Help: "Models registered in the cache",
	})
)
