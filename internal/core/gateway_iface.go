package core

import (
	"context"

	"github.com/dkeye/voicehub/internal/domain"
)

//go:generate mockgen -destination=mocks/mock_gateway.go -package=mocks github.com/dkeye/voicehub/internal/core Gateway

// JoinGrant is what the backend returns for an authorized join.
type JoinGrant struct {
	MuteStatus any `json:"muteStatus"`
}

// Gateway is the application backend. Every failure, including a timeout,
// is reported as ErrAuthorization.
type Gateway interface {
	AuthorizeJoin(ctx context.Context, voiceChannelID, credential string) (JoinGrant, error)
	AuthorizeLeave(ctx context.Context, voiceChannelID, credential string) error
	AuthorizeStreamToggle(ctx context.Context, credential string) error
	SetMuteState(ctx context.Context, userID domain.UserID, credential string) error
}
