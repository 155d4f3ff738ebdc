package hub

import (
	"sort"

	"Parley/internal/db"
	"Parley/internal/model"
)

// MonitorService provides methods to gather hub statistics
type MonitorService struct {
	hub *Hub
}

// NewMonitorService creates a new monitor service
func NewMonitorService(hub *Hub) *MonitorService {
	return &MonitorService{hub: hub}
}

// GetStats gathers and returns all hub statistics
func (ms *MonitorService) GetStats() model.MonitorResponse {
	clients := ms.getClientList()
	connectionStats := ms.getConnectionStats(clients)
	conversationStats := ms.getConversationStats(clients)
	subscriptionStats := ms.getSubscriptionStats()

	// Determine overall health status
	status := "healthy"
	if connectionStats.TotalConnected == 0 {
		status = "idle"
	}

	return model.MonitorResponse{
		Status:        status,
		Connections:   connectionStats,
		Conversations: conversationStats,
		Subscriptions: subscriptionStats,
		Clients:       clients,
	}
}

// getClientList returns list of all connected views
func (ms *MonitorService) getClientList() []model.ClientInfo {
	all := ms.hub.clients()
	clients := make([]model.ClientInfo, 0, len(all))

	for _, c := range all {
		_, online, chatID := c.view.info()
		clients = append(clients, model.ClientInfo{
			ClientID:     c.ID,
			UserID:       c.uid,
			Online:       online,
			ActiveChatID: chatID,
		})
	}

	sort.Slice(clients, func(i, j int) bool { return clients[i].ClientID < clients[j].ClientID })
	return clients
}

// getConnectionStats returns connection statistics
func (ms *MonitorService) getConnectionStats(clients []model.ClientInfo) model.ConnectionStats {
	stats := model.ConnectionStats{TotalConnected: len(clients)}
	users := make(map[string]struct{})

	for _, c := range ms.hub.clients() {
		signedIn, online, _ := c.view.info()
		if signedIn {
			stats.TotalSignedIn++
		}
		if online {
			stats.TotalOnline++
		}
		users[c.uid] = struct{}{}
	}
	stats.DistinctUsers = len(users)

	return stats
}

// getConversationStats returns the conversations open in at least one view
func (ms *MonitorService) getConversationStats(clients []model.ClientInfo) model.ConversationStats {
	viewers := make(map[string]int)
	for _, c := range clients {
		if c.ActiveChatID != "" {
			viewers[c.ActiveChatID]++
		}
	}

	stats := model.ConversationStats{
		TotalActive: len(viewers),
		Details:     make([]model.ConversationInfo, 0, len(viewers)),
	}
	for chatID, n := range viewers {
		stats.Details = append(stats.Details, model.ConversationInfo{ChatID: chatID, Viewers: n})
	}
	sort.Slice(stats.Details, func(i, j int) bool { return stats.Details[i].ChatID < stats.Details[j].ChatID })

	return stats
}

// getSubscriptionStats counts live subscriptions held by views and, when the
// backend reports it, by the store
func (ms *MonitorService) getSubscriptionStats() model.SubscriptionStats {
	roster, conv := ms.hub.subscriptionCounts()
	stats := model.SubscriptionStats{
		RosterPeers:  roster,
		Conversation: conv,
		Store:        -1,
	}
	if counter, ok := ms.hub.deps.Store.(db.SubscriptionCounter); ok {
		stats.Store = counter.Subscriptions()
	}
	return stats
}
