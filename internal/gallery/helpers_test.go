package gallery

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/alexjbarnes/delivery-sync/internal/models"
)

var quietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

const testRootID = "order-1001"

func file(id, name string) models.File {
	return models.File{
		ID:           id,
		OriginalName: name,
		SizeBytes:    1024,
		MimeType:     "image/jpeg",
		DownloadURL:  "https://cdn.example.com/" + id,
		UploadedAt:   time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC),
	}
}

func folder(path, name string, files ...models.File) models.Folder {
	if files == nil {
		files = []models.File{}
	}

	return models.Folder{
		OrderID:   testRootID,
		Path:      path,
		Name:      name,
		Files:     files,
		FileCount: len(files),
		IsVisible: true,
	}
}

// sampleTree is a small delivery: three root folders, one nested
// folder, one standalone section and one order-linked folder.
func sampleTree() []models.Folder {
	photos := folder("Photos", "Photos", file("f1", "front.jpg"), file("f2", "kitchen.jpg"), file("f3", "garden.jpg"))
	photos.DisplayOrder = 1

	video := folder("Video", "Video", file("v1", "walkthrough.mp4"))
	video.DisplayOrder = 2

	floor := folder("Floorplans", "Floorplans", file("p1", "ground.pdf"))
	floor.LinkedOrderID = "ord-77"
	floor.DisplayOrder = 3

	twilight := folder("Photos/Twilight", "Twilight", file("t1", "dusk.jpg"))

	extras := models.Folder{
		Token:     "tok-extras",
		Path:      "Extras",
		Name:      "Extras",
		Files:     []models.File{},
		IsVisible: false,
	}

	return []models.Folder{photos, video, floor, twilight, extras}
}

func newSampleModel() *Model {
	m := NewModel(NewTombstones())
	m.Replace(sampleTree())

	return m
}

// recordingNotifier collects notices.
type recordingNotifier struct {
	mu      sync.Mutex
	notices []Notice
}

func (r *recordingNotifier) Notify(_ context.Context, n Notice) {
	r.mu.Lock()
	r.notices = append(r.notices, n)
	r.mu.Unlock()
}

func (r *recordingNotifier) all() []Notice {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Notice, len(r.notices))
	copy(out, r.notices)

	return out
}

// countingRefresher records Fetch and TriggerRefresh calls.
type countingRefresher struct {
	mu        sync.Mutex
	fetches   int
	triggers  int
	accept    bool
	fetchErr  error
	fetchHook func()
}

func (c *countingRefresher) Fetch(context.Context) error {
	c.mu.Lock()
	c.fetches++
	hook := c.fetchHook
	err := c.fetchErr
	c.mu.Unlock()

	if hook != nil {
		hook()
	}

	return err
}

func (c *countingRefresher) TriggerRefresh(context.Context) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.triggers++

	return c.accept
}

func (c *countingRefresher) counts() (fetches, triggers int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.fetches, c.triggers
}

func fileIDs(f models.Folder) []string {
	ids := make([]string, 0, len(f.Files))
	for _, file := range f.Files {
		ids = append(ids, file.ID)
	}

	return ids
}
