package types

import "time"

// CommunityNetwork is a named information-sharing group. Networks
// provide protocols and educational context; they never gate access
// to content.
type CommunityNetwork struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Protocols   []string `json:"protocols,omitempty"`
	MemberCount int      `json:"member_count"`
}

// JoinRequest carries a node's introduction to a community network.
// The struct holds informational fields only; it cannot express an
// access-control capability.
type JoinRequest struct {
	NetworkID       string   `json:"network_id"`
	Introduction    string   `json:"introduction,omitempty"`
	SharedInterests []string `json:"shared_interests,omitempty"`
}

// NetworkParticipation is a node's membership record in a community
// network. Like JoinRequest it is purely informational.
type NetworkParticipation struct {
	NetworkID        string         `json:"network_id"`
	NodeID           string         `json:"node_id"`
	JoinedAt         time.Time      `json:"joined_at"`
	Role             string         `json:"role,omitempty"`
	LearningProgress map[string]int `json:"learning_progress,omitempty"`
}
