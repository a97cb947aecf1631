package engine

import (
	"vwap-band-bot/internal/interfaces"
	"vwap-band-bot/internal/store"
)

// New builds the orchestrator from config. broker may be nil in SIM mode.
func New(cfg *store.Config, broker interfaces.Broker) interfaces.Engine {
	return newEngine(cfg, broker)
}
