package orch

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/dkeye/voicehub/internal/app"
	"github.com/dkeye/voicehub/internal/core"
	"github.com/dkeye/voicehub/internal/core/mocks"
	"github.com/dkeye/voicehub/internal/domain"
	"github.com/dkeye/voicehub/internal/testutil/fakemedia"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type received struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// recorder is a SignalConnection that keeps every event it was handed.
type recorder struct {
	mu     sync.Mutex
	events []received
	full   bool
}

func (r *recorder) TrySend(f core.Frame) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.full {
		return core.ErrBackpressure
	}
	var ev received
	if err := json.Unmarshal(f, &ev); err != nil {
		return err
	}
	r.events = append(r.events, ev)
	return nil
}

func (r *recorder) Close() {}

func (r *recorder) ofType(typ string) []json.RawMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []json.RawMessage
	for _, ev := range r.events {
		if ev.Type == typ {
			out = append(out, ev.Data)
		}
	}
	return out
}

func (r *recorder) count(typ string) int { return len(r.ofType(typ)) }

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

type harness struct {
	t        *testing.T
	gw       *mocks.MockGateway
	engine   *fakemedia.Engine
	reg      *app.Registry
	o        *Orchestrator
	conns    map[core.SessionID]*recorder
	canceled map[core.SessionID]bool
	mu       sync.Mutex
}

func newHarness(t *testing.T, opts Options) *harness {
	ctrl := gomock.NewController(t)
	h := &harness{
		t:        t,
		gw:       mocks.NewMockGateway(ctrl),
		engine:   fakemedia.New(),
		reg:      app.NewRegistry(),
		conns:    make(map[core.SessionID]*recorder),
		canceled: make(map[core.SessionID]bool),
	}
	rooms := app.NewRoomManager(h.reg, h.engine, core.AudioLevelOptions{MaxEntries: 99, Threshold: -80})
	h.o = New(h.reg, rooms, h.gw, app.SimplePolicy{}, nil, opts)
	return h
}

// allowAll lets every backend call succeed.
func (h *harness) allowAll() *harness {
	h.gw.EXPECT().AuthorizeJoin(gomock.Any(), gomock.Any(), gomock.Any()).Return(core.JoinGrant{MuteStatus: false}, nil).AnyTimes()
	h.gw.EXPECT().AuthorizeLeave(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil).AnyTimes()
	h.gw.EXPECT().AuthorizeStreamToggle(gomock.Any(), gomock.Any()).Return(nil).AnyTimes()
	h.gw.EXPECT().SetMuteState(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil).AnyTimes()
	return h
}

func (h *harness) connect(sid core.SessionID) *recorder {
	rec := &recorder{}
	h.conns[sid] = rec
	h.reg.BindSignal(sid, rec, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.canceled[sid] = true
	})
	return rec
}

func (h *harness) wasCanceled(sid core.SessionID) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.canceled[sid]
}

func (h *harness) join(sid core.SessionID, room domain.RoomName, tenant domain.TenantID, userID string) JoinResult {
	h.t.Helper()
	if _, ok := h.conns[sid]; !ok {
		h.connect(sid)
	}
	res, err := h.o.JoinRoom(context.Background(), sid, JoinRequest{
		Room:       room,
		UserName:   "name-" + string(sid),
		UserID:     userID,
		Tenant:     tenant,
		Credential: "tok",
	})
	require.NoError(h.t, err)
	h.o.Ready(sid)
	return res
}

func (h *harness) produce(sid core.SessionID, kind domain.MediaKind, source domain.Source) string {
	h.t.Helper()
	_, err := h.o.CreateTransport(context.Background(), sid, false)
	require.NoError(h.t, err)
	params := fakemedia.OpusParameters()
	if kind == domain.KindVideo {
		params = fakemedia.VP8Parameters()
	}
	res, err := h.o.Produce(context.Background(), sid, ProduceRequest{
		Kind:          kind,
		RtpParameters: params,
		Source:        source,
		Credential:    "tok",
	})
	require.NoError(h.t, err)
	return res.ID
}

func (h *harness) consume(sid core.SessionID, producerID string) ConsumeParams {
	h.t.Helper()
	tp, err := h.o.CreateTransport(context.Background(), sid, true)
	require.NoError(h.t, err)
	params, err := h.o.Consume(context.Background(), sid, ConsumeRequest{
		ProducerID:      producerID,
		RtpCapabilities: fakemedia.DefaultCapabilities(),
		TransportID:     tp.ID,
	})
	require.NoError(h.t, err)
	return params
}

func decode[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(raw, &v))
	return v
}
