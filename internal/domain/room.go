package domain

type (
	RoomName string
	TenantID string
)

// Room is the immutable identity of a room: its name and the tenant that
// created it first.
type Room struct {
	Name   RoomName `json:"roomName"`
	Tenant TenantID `json:"tenantId"`
}
