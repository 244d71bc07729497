package gallery

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"go.uber.org/mock/gomock"
)

type observerFunc func(ctx context.Context, ids []string) Observation

func (f observerFunc) Observe(ctx context.Context, ids []string) Observation { return f(ctx, ids) }

type recordingObserver struct {
	mu    sync.Mutex
	calls [][]string
}

func (r *recordingObserver) Observe(_ context.Context, ids []string) Observation {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.calls = append(r.calls, ids)

	return Observation{}
}

func newTestFeed(obs Observer) *Feed {
	return NewFeed(FeedConfig{
		URL:      "ws://portal.test/feed",
		RootID:   testRootID,
		Token:    "tok",
		Observer: obs,
	}, quietLogger)
}

func expectSubscribe(t *testing.T, mock *MockWSConn, reply string) {
	t.Helper()

	gomock.InOrder(
		mock.EXPECT().SetReadLimit(int64(feedReadLimit)),
		mock.EXPECT().Write(gomock.Any(), websocket.MessageText, gomock.Any()).DoAndReturn(
			func(_ context.Context, _ websocket.MessageType, p []byte) error {
				assert.Equal(t, "subscribe", gjson.GetBytes(p, "op").Str)
				assert.Equal(t, testRootID, gjson.GetBytes(p, "root").Str)
				assert.Equal(t, "tok", gjson.GetBytes(p, "token").Str)

				return nil
			}),
		mock.EXPECT().Read(gomock.Any()).Return(websocket.MessageText, []byte(reply), nil),
	)
}

func TestFeed_SubscribeAccepted(t *testing.T) {
	ctrl := gomock.NewController(t)
	mock := NewMockWSConn(ctrl)
	f := newTestFeed(&recordingObserver{})

	expectSubscribe(t, mock, `{"op":"subscribed"}`)

	require.NoError(t, f.subscribe(context.Background(), mock))
	assert.True(t, f.Connected())
}

func TestFeed_SubscribeRejected(t *testing.T) {
	ctrl := gomock.NewController(t)
	mock := NewMockWSConn(ctrl)
	f := newTestFeed(&recordingObserver{})

	expectSubscribe(t, mock, `{"op":"error","msg":"unknown root"}`)
	mock.EXPECT().Close(websocket.StatusNormalClosure, gomock.Any()).Return(nil)

	err := f.subscribe(context.Background(), mock)

	require.Error(t, err)
	assert.ErrorIs(t, err, errSubscriptionRejected)
	assert.Contains(t, err.Error(), "unknown root")
	assert.True(t, isPermanentError(err))
	assert.False(t, f.Connected())
}

func TestFeed_SubscribeUnexpectedReply(t *testing.T) {
	ctrl := gomock.NewController(t)
	mock := NewMockWSConn(ctrl)
	f := newTestFeed(&recordingObserver{})

	expectSubscribe(t, mock, `{"op":"uploads","ids":[]}`)
	mock.EXPECT().Close(websocket.StatusProtocolError, gomock.Any()).Return(nil)

	err := f.subscribe(context.Background(), mock)

	require.Error(t, err)
	assert.False(t, isPermanentError(err))
}

func TestFeed_SubscribeWriteFails(t *testing.T) {
	ctrl := gomock.NewController(t)
	mock := NewMockWSConn(ctrl)
	f := newTestFeed(&recordingObserver{})

	mock.EXPECT().SetReadLimit(gomock.Any())
	mock.EXPECT().Write(gomock.Any(), gomock.Any(), gomock.Any()).Return(errors.New("broken pipe"))
	mock.EXPECT().Close(websocket.StatusInternalError, gomock.Any()).Return(nil)

	err := f.subscribe(context.Background(), mock)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken pipe")
}

func TestFeed_HandleInbound(t *testing.T) {
	tests := []struct {
		name    string
		frame   string
		wantIDs [][]string
		wantErr bool
	}{
		{name: "uploads", frame: `{"op":"uploads","ids":["a","b",""]}`, wantIDs: [][]string{{"a", "b"}}},
		{name: "empty set", frame: `{"op":"uploads","ids":[]}`, wantIDs: [][]string{{}}},
		{name: "missing ids", frame: `{"op":"uploads"}`, wantIDs: [][]string{{}}},
		{name: "ids not an array", frame: `{"op":"uploads","ids":"a"}`},
		{name: "pong", frame: `{"op":"pong"}`},
		{name: "unknown op", frame: `{"op":"hello"}`},
		{name: "not json", frame: `uploads a b`},
		{name: "server error", frame: `{"op":"error","msg":"session expired"}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			obs := &recordingObserver{}
			f := newTestFeed(obs)

			err := f.handleInbound(context.Background(), []byte(tt.frame))

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "session expired")
			} else {
				require.NoError(t, err)
			}

			assert.Equal(t, tt.wantIDs, obs.calls)
		})
	}
}

func TestFeed_RunDeliversEmissions(t *testing.T) {
	ctrl := gomock.NewController(t)
	mock := NewMockWSConn(ctrl)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var got []string

	f := newTestFeed(observerFunc(func(_ context.Context, ids []string) Observation {
		got = ids
		cancel()

		return Observation{}
	}))
	f.dial = func(context.Context, string) (wsConn, error) { return mock, nil }

	expectSubscribe(t, mock, `{"op":"subscribed"}`)
	mock.EXPECT().Read(gomock.Any()).Return(websocket.MessageText, []byte(`{"op":"uploads","ids":["f1","f2"]}`), nil)
	mock.EXPECT().Read(gomock.Any()).DoAndReturn(func(ctx context.Context) (websocket.MessageType, []byte, error) {
		<-ctx.Done()
		return 0, nil, ctx.Err()
	}).AnyTimes()

	err := f.Run(ctx)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []string{"f1", "f2"}, got)
	assert.False(t, f.Connected())
}

func TestFeed_RunStopsOnPermanentRejection(t *testing.T) {
	ctrl := gomock.NewController(t)
	mock := NewMockWSConn(ctrl)
	f := newTestFeed(&recordingObserver{})
	f.dial = func(context.Context, string) (wsConn, error) { return mock, nil }

	expectSubscribe(t, mock, `{"op":"error","msg":"forbidden"}`)
	mock.EXPECT().Close(gomock.Any(), gomock.Any()).Return(nil)

	err := f.Run(context.Background())

	require.Error(t, err)
	assert.ErrorIs(t, err, errSubscriptionRejected)
}

func TestFeed_RunReturnsWhenCancelledDuringDial(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	f := newTestFeed(&recordingObserver{})
	f.dial = func(context.Context, string) (wsConn, error) {
		cancel()
		return nil, errors.New("connection refused")
	}

	assert.ErrorIs(t, f.Run(ctx), context.Canceled)
}

func TestFeed_Close(t *testing.T) {
	ctrl := gomock.NewController(t)
	mock := NewMockWSConn(ctrl)
	f := newTestFeed(&recordingObserver{})

	expectSubscribe(t, mock, `{"op":"subscribed"}`)
	require.NoError(t, f.subscribe(context.Background(), mock))

	mock.EXPECT().Close(websocket.StatusNormalClosure, "bye").Return(nil)

	require.NoError(t, f.Close())
	assert.False(t, f.Connected())
}

func TestFeed_CloseWithoutConnection(t *testing.T) {
	assert.NoError(t, newTestFeed(&recordingObserver{}).Close())
}
