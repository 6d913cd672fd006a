package orch

import (
	"errors"
	"fmt"

	"github.com/dkeye/voicehub/internal/app"
	"github.com/dkeye/voicehub/internal/core"
	"github.com/dkeye/voicehub/internal/domain"
	"github.com/dkeye/voicehub/internal/metrics"
)

type Options struct {
	// NotifyAllMembers sends new-producer to every other ready member of the
	// room. When false only members that publish in the room are told.
	NotifyAllMembers bool
	// ReplayOnJoin sends new-producer for already published tracks to a peer
	// right after its join response.
	ReplayOnJoin bool
}

func DefaultOptions() Options {
	return Options{NotifyAllMembers: true, ReplayOnJoin: true}
}

// Orchestrator drives every connection through
// connected -> joined -> (producing/consuming) -> closed.
type Orchestrator struct {
	Registry *app.Registry
	Rooms    *app.RoomManager
	Gateway  core.Gateway
	Policy   app.Policy
	Metrics  *metrics.Metrics
	Opts     Options
}

func New(
	reg *app.Registry,
	rooms *app.RoomManager,
	gw core.Gateway,
	policy app.Policy,
	m *metrics.Metrics,
	opts Options,
) *Orchestrator {
	o := &Orchestrator{
		Registry: reg,
		Rooms:    rooms,
		Gateway:  gw,
		Policy:   policy,
		Metrics:  m,
		Opts:     opts,
	}
	rooms.SetListener(o)
	return o
}

type JoinRequest struct {
	Room       domain.RoomName
	UserName   string
	UserID     string
	Tenant     domain.TenantID
	Credential string
}

type JoinResult struct {
	RtpCapabilities core.RtpCapabilities `json:"rtpCapabilities"`
	MuteStatus      any                  `json:"muteStatus"`
}

type ProduceRequest struct {
	Kind          domain.MediaKind
	RtpParameters core.RtpParameters
	Source        domain.Source
	Credential    string
}

type ProduceResult struct {
	ID             string `json:"id"`
	ProducersExist bool   `json:"producersExist"`
}

type ConsumeRequest struct {
	ProducerID      string
	RtpCapabilities core.RtpCapabilities
	TransportID     string
}

type ConsumeParams struct {
	ID               string             `json:"id"`
	ProducerID       string             `json:"producerId"`
	Kind             domain.MediaKind   `json:"kind"`
	RtpParameters    core.RtpParameters `json:"rtpParameters"`
	ServerConsumerID string             `json:"serverConsumerId"`
	UserName         string             `json:"userName"`
	Source           domain.Source      `json:"source,omitempty"`
}

// ActionResult answers the moderation requests (kick, mute, unmute).
type ActionResult struct {
	Success          bool   `json:"success"`
	Message          string `json:"message"`
	MutedProducers   *int   `json:"mutedProducers,omitempty"`
	UnmutedProducers *int   `json:"unmutedProducers,omitempty"`
}

func authError(op string, err error) error {
	if errors.Is(err, core.ErrAuthorization) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, core.ErrAuthorization, err)
}

func engineError(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, core.ErrRoutingEngine, err)
}
