package domain

// PresenceUser is one connection inside a tenant's presence entry.
type PresenceUser struct {
	SocketID string    `json:"socketId"`
	User     User      `json:"user"`
	Room     *RoomName `json:"roomName"`
}

// ProducerView is a single published track as shown in tenant-wide presence.
type ProducerView struct {
	SocketID   string `json:"socketId"`
	UserName   string `json:"userName"`
	UserID     UserID `json:"userId"`
	ProducerID string `json:"producerId"`
	Source     Source `json:"source,omitempty"`
}

// RoomUsers is the presence view of a single room.
type RoomUsers struct {
	RoomName RoomName       `json:"roomName"`
	Users    []ProducerView `json:"users"`
}
