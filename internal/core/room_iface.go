package core

import (
	"github.com/dkeye/voicehub/internal/domain"
)

// RoomInfo is a read-only view for APIs (no engine handles).
type RoomInfo struct {
	Name      domain.RoomName `json:"roomName"`
	Tenant    domain.TenantID `json:"tenantId"`
	Peers     int             `json:"peers"`
	HasRouter bool            `json:"hasRouter"`
}

// Stats is a point-in-time count of registry entities.
type Stats struct {
	Rooms      int
	Peers      int
	Transports int
	Producers  int
	Consumers  int
}
