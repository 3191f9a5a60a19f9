package realtime

import "feed_server/pkg/metrics"

// Stats is a point-in-time view of the engine.
type Stats struct {
	ConnectedUsers   int64                `json:"connected_users"`
	Identities       int                  `json:"identities"`
	TotalConnections int                  `json:"total_connections"`
	EventKeys        int                  `json:"event_keys"`
	MessagesSent     int64                `json:"messages_sent"`
	MessagesFailed   int64                `json:"messages_failed"`
	FanoutLatency    metrics.LatencyStats `json:"fanout_latency"`
}

// Stats returns engine counters.
func (h *Hub) Stats() Stats {
	identities, connections := h.registry.Counts()
	return Stats{
		ConnectedUsers:   h.registry.ConnectedUsers(),
		Identities:       identities,
		TotalConnections: connections,
		EventKeys:        h.table.Keys(),
		MessagesSent:     h.table.messagesSent.Load(),
		MessagesFailed:   h.table.messagesFailed.Load(),
		FanoutLatency:    h.latency.Stats(),
	}
}
