package app

import (
	"context"
	"fmt"
	"sync"

	"github.com/dkeye/voicehub/internal/core"
	"github.com/dkeye/voicehub/internal/domain"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// SpeakerListener receives the audio level events of a room's observer.
type SpeakerListener interface {
	OnVolumes(room domain.RoomName, volumes []core.AudioVolume)
	OnSilence(room domain.RoomName)
}

// RoomManager is the room directory: it creates the router and audio level
// observer of a room on first join. Room state itself lives in the Registry.
type RoomManager struct {
	reg      *Registry
	engine   core.MediaEngine
	observer core.AudioLevelOptions

	group singleflight.Group

	mu       sync.RWMutex
	listener SpeakerListener
}

func NewRoomManager(reg *Registry, engine core.MediaEngine, observer core.AudioLevelOptions) *RoomManager {
	return &RoomManager{reg: reg, engine: engine, observer: observer}
}

func (m *RoomManager) SetListener(l SpeakerListener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listener = l
}

func (m *RoomManager) currentListener() SpeakerListener {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listener
}

// GetOrCreateRoom returns the room with sid appended to its members. A
// missing room, or a pre-created one without a router, gets a router and an
// observer first; concurrent first joins share a single creation.
func (m *RoomManager) GetOrCreateRoom(
	ctx context.Context,
	name domain.RoomName,
	tenant domain.TenantID,
	sid core.SessionID,
) (Room, error) {
	if room, ok := m.reg.joinExisting(name, sid); ok {
		m.warnTenant(room, tenant, sid)
		return room, nil
	}

	_, err, _ := m.group.Do(string(name), func() (any, error) {
		if room, ok := m.reg.Room(name); ok && room.Router != nil {
			return nil, nil
		}
		return nil, m.createRouter(ctx, name, tenant)
	})
	if err != nil {
		return Room{}, err
	}

	room, ok := m.reg.joinExisting(name, sid)
	if !ok {
		// reset raced with creation
		return Room{}, fmt.Errorf("room %q: %w", name, core.ErrRoomNotFound)
	}
	m.warnTenant(room, tenant, sid)
	return room, nil
}

func (m *RoomManager) createRouter(ctx context.Context, name domain.RoomName, tenant domain.TenantID) error {
	logger := log.With().Str("module", "app.rooms").Str("room", string(name)).Logger()

	router, err := m.engine.CreateRouter(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("create router")
		return fmt.Errorf("create router: %w: %w", core.ErrRoutingEngine, err)
	}
	observer, err := router.CreateAudioLevelObserver(ctx, m.observer)
	if err != nil {
		logger.Error().Err(err).Msg("create audio level observer")
		router.Close()
		return fmt.Errorf("create audio level observer: %w: %w", core.ErrRoutingEngine, err)
	}

	observer.OnVolumes(func(v []core.AudioVolume) {
		if l := m.currentListener(); l != nil {
			l.OnVolumes(name, v)
		}
	})
	observer.OnSilence(func() {
		if l := m.currentListener(); l != nil {
			l.OnSilence(name)
		}
	})

	if _, installed := m.reg.installRouter(name, tenant, router, observer); !installed {
		observer.Close()
		router.Close()
		return nil
	}
	logger.Info().Str("tenant", string(tenant)).Str("router_id", router.ID()).Msg("room created")
	return nil
}

func (m *RoomManager) warnTenant(room Room, tenant domain.TenantID, sid core.SessionID) {
	if room.Tenant == tenant {
		return
	}
	log.Warn().
		Str("module", "app.rooms").
		Str("room", string(room.Name)).
		Str("room_tenant", string(room.Tenant)).
		Str("tenant", string(tenant)).
		Str("sid", string(sid)).
		Msg("room joined from another tenant")
}

// Leave removes sid from a room's member list without touching the peer.
func (m *RoomManager) Leave(name domain.RoomName, sid core.SessionID) {
	m.reg.removeRoomMember(name, sid)
}

// CreateRoom pre-creates an empty room for tenant; the router comes later.
func (m *RoomManager) CreateRoom(name domain.RoomName, tenant domain.TenantID) (Room, error) {
	return m.reg.CreateRoom(name, tenant)
}

func (m *RoomManager) List() []core.RoomInfo {
	return m.reg.Rooms()
}

func (m *RoomManager) ListTenant(tenant domain.TenantID) ([]core.RoomInfo, bool) {
	return m.reg.TenantRooms(tenant)
}
