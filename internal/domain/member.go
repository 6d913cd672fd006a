package domain

// Member represents user's participation meta for a room.
// No transport or lifecycle logic here.
type Member struct {
	User   User
	Tenant TenantID
	Room   RoomName
	// MuteStatus is passed through from the backend's join answer.
	MuteStatus any
	// Admin is reserved; nothing grants it yet.
	Admin bool
}

// NewMember avoids raw literals in adapters and keeps construction obvious.
func NewMember(user User, tenant TenantID, room RoomName) *Member {
	return &Member{User: user, Tenant: tenant, Room: room}
}
