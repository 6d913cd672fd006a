package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dkeye/voicehub/internal/core"
	"github.com/dkeye/voicehub/internal/domain"
	"github.com/dkeye/voicehub/internal/metrics"
	"github.com/rs/zerolog/log"
)

type Config struct {
	APIURL  string
	Timeout time.Duration
}

// Client is the core.Gateway backed by the application's REST API. Every
// call is authorized with the end user's bearer credential.
type Client struct {
	baseURL    string
	httpClient *http.Client
	metrics    *metrics.Metrics
}

var _ core.Gateway = (*Client)(nil)

func NewClient(cfg Config, m *metrics.Metrics) (*Client, error) {
	if cfg.APIURL == "" {
		return nil, fmt.Errorf("backend api url cannot be empty")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.APIURL, "/"),
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		metrics: m,
	}, nil
}

type joinResponse struct {
	MuteStatus any `json:"muteStatus"`
}

func (c *Client) AuthorizeJoin(ctx context.Context, voiceChannelID, credential string) (core.JoinGrant, error) {
	var resp joinResponse
	err := c.call(ctx, "join", http.MethodPost, "/channel/voice/join", credential,
		map[string]string{"voiceChannelId": voiceChannelID}, &resp)
	if err != nil {
		return core.JoinGrant{}, err
	}
	return core.JoinGrant{MuteStatus: resp.MuteStatus}, nil
}

func (c *Client) AuthorizeLeave(ctx context.Context, voiceChannelID, credential string) error {
	return c.call(ctx, "leave", http.MethodDelete, "/channel/voice/remove", credential,
		map[string]string{"voiceChannelId": voiceChannelID}, nil)
}

func (c *Client) AuthorizeStreamToggle(ctx context.Context, credential string) error {
	return c.call(ctx, "stream", http.MethodPut, "/channel/voice/stream", credential, struct{}{}, nil)
}

func (c *Client) SetMuteState(ctx context.Context, userID domain.UserID, credential string) error {
	return c.call(ctx, "mute", http.MethodPut, "/channel/voice/mute/user", credential,
		map[string]domain.UserID{"userId": userID}, nil)
}

// call sends body as JSON and decodes a 2xx answer into out when non-nil.
// Every failure is reported as core.ErrAuthorization.
func (c *Client) call(ctx context.Context, op, method, path, credential string, body, out any) (err error) {
	start := time.Now()
	defer func() {
		c.metrics.RecordGateway(op, time.Since(start).Seconds(), err)
	}()
	logger := log.With().Str("module", "backend").Str("op", op).Logger()

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("%w: encode %s: %v", core.ErrAuthorization, op, err)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%w: %s: %v", core.ErrAuthorization, op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+credential)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		logger.Warn().Err(err).Msg("backend unreachable")
		return fmt.Errorf("%w: %s: %v", core.ErrAuthorization, op, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: %s: read body: %v", core.ErrAuthorization, op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		logger.Info().Int("status", resp.StatusCode).Msg("backend refused")
		return fmt.Errorf("%w: %s: status %d: %s", core.ErrAuthorization, op, resp.StatusCode, message(data))
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: %s: decode: %v", core.ErrAuthorization, op, err)
	}
	return nil
}

// message extracts a readable reason from an error body.
func message(data []byte) string {
	var body struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(data, &body) == nil {
		if body.Message != "" {
			return body.Message
		}
		if body.Error != "" {
			return body.Error
		}
	}
	s := strings.TrimSpace(string(data))
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}
