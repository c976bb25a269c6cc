package sim

import "time"

// ActorSummary is the list-view projection of one live actor.
type ActorSummary struct {
	UUID      string  `json:"uuid"`
	Name      string  `json:"name"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Facing    string  `json:"facing"`
	Health    float64 `json:"health"`
	MaxHealth float64 `json:"maxHealth"`
}

// ActorDetail extends the summary with the aggregate inventory view the
// panel's detail page renders.
type ActorDetail struct {
	ActorSummary
	InventorySummary map[string]int `json:"inventorySummary"`
}

// SlotSnapshot is one inventory slot on the wire.
type SlotSnapshot struct {
	Slot     int    `json:"slot"`
	Empty    bool   `json:"empty"`
	Type     string `json:"type,omitempty"`
	Quantity int    `json:"quantity,omitempty"`
}

// InventorySnapshot carries a full slot-wise inventory or stash view.
type InventorySnapshot struct {
	Contents []SlotSnapshot `json:"contents"`
}

// WhitelistEntry records one allow-list member.
type WhitelistEntry struct {
	Name    string    `json:"name"`
	AddedBy string    `json:"addedBy,omitempty"`
	AddedAt time.Time `json:"addedAt,omitempty"`
}

// Status is the health-endpoint projection of the running simulation.
type Status struct {
	OK             bool    `json:"ok"`
	ServerName     string  `json:"serverName"`
	Version        string  `json:"version"`
	MOTD           string  `json:"motd"`
	OnlineActors   int     `json:"onlineActors"`
	MaxActors      int     `json:"maxActors"`
	TickRate       int     `json:"tickRate"`
	Tick           uint64  `json:"tick"`
	LastTickMillis int64   `json:"lastTickMillis"`
	UptimeSeconds  float64 `json:"uptimeSeconds"`
}
