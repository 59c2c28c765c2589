package analytics

import "levelbot/core"

// BridgeHook bridges an event source to multiple hooks.
type BridgeHook struct{ hooks []Hook }

func NewBridge(hooks ...Hook) *BridgeHook { return &BridgeHook{hooks: hooks} }

func (b *BridgeHook) OnEvent(e core.Event) {
	for _, h := range b.hooks {
		h.OnEvent(e)
	}
}

// Stats is the default hook set: daily actives plus leveling counters.
type Stats struct {
	*BridgeHook
	DAU     *DAU
	Metrics *Metrics
}

func NewStats() *Stats {
	dau, m := NewDAU(), NewMetrics()
	return &Stats{BridgeHook: NewBridge(dau, m), DAU: dau, Metrics: m}
}
