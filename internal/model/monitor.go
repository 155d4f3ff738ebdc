package model

// -----------------------------------------------------------------
// Monitor API Response Models
// -----------------------------------------------------------------

// MonitorResponse is the main response for the monitor API
type MonitorResponse struct {
	Status        string            `json:"status"`        // "healthy", "idle"
	Connections   ConnectionStats   `json:"connections"`   // View connection stats
	Conversations ConversationStats `json:"conversations"` // Active conversation stats
	Subscriptions SubscriptionStats `json:"subscriptions"` // Live store subscriptions
	Clients       []ClientInfo      `json:"clients"`       // List of connected views
}

// ConnectionStats holds connection-related statistics
type ConnectionStats struct {
	TotalConnected int `json:"totalConnected"` // Views currently connected
	TotalSignedIn  int `json:"totalSignedIn"`  // Views with a resolved session
	TotalOnline    int `json:"totalOnline"`    // Views reporting visible
	DistinctUsers  int `json:"distinctUsers"`
}

// ConversationStats holds active conversation statistics
type ConversationStats struct {
	TotalActive int                `json:"totalActive"`
	Details     []ConversationInfo `json:"details"`
}

// ConversationInfo describes one conversation open in at least one view
type ConversationInfo struct {
	ChatID  string `json:"chatId"`
	Viewers int    `json:"viewers"`
}

// SubscriptionStats counts live subscriptions by owner
type SubscriptionStats struct {
	RosterPeers  int `json:"rosterPeers"`
	Conversation int `json:"conversation"`
	Store        int `json:"store"` // as reported by the backend, -1 if unknown
}

// ClientInfo contains information about a connected view
type ClientInfo struct {
	ClientID     string `json:"clientId"`
	UserID       string `json:"userId"`
	Online       bool   `json:"online"`
	ActiveChatID string `json:"activeChatId,omitempty"`
}
