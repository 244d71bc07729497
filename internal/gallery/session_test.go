package gallery

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/alexjbarnes/delivery-sync/internal/models"
	"github.com/alexjbarnes/delivery-sync/internal/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func openState(t *testing.T) *state.State {
	t.Helper()

	st, err := state.LoadAt(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	return st
}

func newTestSession(t *testing.T, api API, st *state.State) *Session {
	t.Helper()

	s := NewSession(SessionConfig{
		RootID:       testRootID,
		FeedURL:      "ws://portal.test/feed",
		Token:        "tok",
		API:          api,
		State:        st,
		Saver:        &memorySaver{},
		Notifier:     &recordingNotifier{},
		RefreshDelay: time.Millisecond,
	}, quietLogger)
	t.Cleanup(func() { s.Close() })

	return s
}

func TestSession_StartRestoresCacheWhenFetchFails(t *testing.T) {
	ctrl := gomock.NewController(t)
	api := NewMockAPI(ctrl)
	st := openState(t)

	require.NoError(t, st.InitRootBuckets(testRootID))
	require.NoError(t, st.SaveSnapshot(testRootID, sampleTree()))
	require.NoError(t, st.SetPendingDeletes(testRootID, []string{"f2"}))

	api.EXPECT().FetchTree(gomock.Any(), testRootID).Return(nil, errors.New("portal down"))

	s := newTestSession(t, api, st)

	require.NoError(t, s.Start(context.Background()))

	assert.Equal(t, 5, s.Model.Len())

	l, err := s.Browse("Photos")
	require.NoError(t, err)
	assert.Equal(t, []string{"f1", "f3"}, listingFileIDs(l))

	status := s.Status()
	assert.Equal(t, testRootID, status.RootID)
	assert.Equal(t, []string{"f2"}, status.PendingDeletes)
	assert.True(t, status.LastSync.IsZero())
	assert.False(t, status.FeedConnected)
}

func TestSession_StartPersistsFetchedSnapshot(t *testing.T) {
	ctrl := gomock.NewController(t)
	api := NewMockAPI(ctrl)
	st := openState(t)

	api.EXPECT().FetchTree(gomock.Any(), testRootID).Return(sampleTree(), nil)

	s := newTestSession(t, api, st)

	require.NoError(t, s.Start(context.Background()))

	snap, err := st.LoadSnapshot(testRootID)
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Len(t, snap.Folders, 5)

	status := s.Status()
	assert.False(t, status.LastSync.IsZero())
	assert.NotNil(t, status.PendingDeletes)
	assert.Empty(t, status.PendingDeletes)
}

func TestSession_DeletePersistsPendingDelete(t *testing.T) {
	ctrl := gomock.NewController(t)
	api := NewMockAPI(ctrl)
	st := openState(t)

	api.EXPECT().FetchTree(gomock.Any(), testRootID).Return(sampleTree(), nil).AnyTimes()
	api.EXPECT().DeleteFile(gomock.Any(), testRootID, "f1").Return(nil)

	s := newTestSession(t, api, st)
	ctx := context.Background()

	require.NoError(t, s.Start(ctx))
	require.NoError(t, s.Coordinator.DeleteFile(ctx, "f1"))
	s.Coordinator.Wait()

	pending, err := st.PendingDeletes(testRootID)
	require.NoError(t, err)
	assert.Equal(t, []string{"f1"}, pending)

	// The feed no longer lists f1: the tombstone is confirmed and the
	// persisted set empties.
	s.Reconciler.Observe(ctx, []string{"f2", "f3"})

	pending, err = st.PendingDeletes(testRootID)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestSession_BrowseUnknownPath(t *testing.T) {
	ctrl := gomock.NewController(t)
	api := NewMockAPI(ctrl)
	api.EXPECT().FetchTree(gomock.Any(), testRootID).Return(sampleTree(), nil)

	s := newTestSession(t, api, nil)
	require.NoError(t, s.Start(context.Background()))

	_, err := s.Browse("Nope")
	assert.Error(t, err)

	l, err := s.Browse("")
	require.NoError(t, err)
	assert.Len(t, l.Folders, 4)
}

func TestSession_DownloadsWithoutState(t *testing.T) {
	s := newTestSession(t, NewMockAPI(gomock.NewController(t)), nil)

	recs, err := s.Downloads(10)

	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestSession_DownloadsFromState(t *testing.T) {
	st := openState(t)
	require.NoError(t, st.AddDownload(models.DownloadRecord{RootID: testRootID, Filename: "Photos.zip"}))

	s := newTestSession(t, NewMockAPI(gomock.NewController(t)), st)

	recs, err := s.Downloads(10)

	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "Photos.zip", recs[0].Filename)
}

func TestSession_StartReturnsOnCancelledContext(t *testing.T) {
	ctrl := gomock.NewController(t)
	api := NewMockAPI(ctrl)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	api.EXPECT().FetchTree(gomock.Any(), testRootID).Return(nil, context.Canceled)

	s := newTestSession(t, api, nil)

	assert.ErrorIs(t, s.Start(ctx), context.Canceled)
}
