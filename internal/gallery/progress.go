package gallery

import (
	"fmt"
	"sync"
)

// Stage discriminates Progress values.
type Stage string

const (
	StageIdle        Stage = "idle"
	StageCreating    Stage = "creating"
	StageDownloading Stage = "downloading"
	StageComplete    Stage = "complete"
	StageFailed      Stage = "failed"
)

// Progress is the single view-model of a download across both phases.
// It is one of Idle, Creating, Downloading, Done or Failed.
type Progress interface {
	Stage() Stage
	isProgress()
}

// Idle is the state before a download starts.
type Idle struct{}

// Creating reports server-side archive assembly.
type Creating struct {
	Percent        int
	FilesProcessed int
	TotalFiles     int
}

// Downloading reports the byte transfer. TotalBytes is -1 when the
// server did not declare a length, in which case Percent stays 0.
type Downloading struct {
	Percent       int
	ReceivedBytes int64
	TotalBytes    int64
}

// Done reports a saved artifact.
type Done struct {
	Filename string
	Path     string
	Bytes    int64
}

// Failed reports an aborted download.
type Failed struct {
	Reason string
}

func (Idle) Stage() Stage        { return StageIdle }
func (Creating) Stage() Stage    { return StageCreating }
func (Downloading) Stage() Stage { return StageDownloading }
func (Done) Stage() Stage        { return StageComplete }
func (Failed) Stage() Stage      { return StageFailed }

func (Idle) isProgress()        {}
func (Creating) isProgress()    {}
func (Downloading) isProgress() {}
func (Done) isProgress()        {}
func (Failed) isProgress()      {}

// ProgressFunc receives every progress transition. It is called from
// the downloading goroutine.
type ProgressFunc func(Progress)

func stageRank(s Stage) int {
	switch s {
	case StageIdle:
		return 0
	case StageCreating:
		return 1
	case StageDownloading:
		return 2
	case StageComplete, StageFailed:
		return 3
	default:
		return -1
	}
}

// tracker forwards progress to a ProgressFunc while holding the
// sequence to creating, downloading, then complete or failed. Percent
// never decreases within a stage. A terminal value ends the sequence.
type tracker struct {
	mu      sync.Mutex
	current Progress
	emit    ProgressFunc
}

func newTracker(emit ProgressFunc) *tracker {
	return &tracker{current: Idle{}, emit: emit}
}

// set moves to p. Updates that would go backwards are dropped; a
// percent regression within a stage is clamped to the previous value.
func (t *tracker) set(p Progress) error {
	t.mu.Lock()

	cur := t.current
	if stageRank(cur.Stage()) == 3 {
		t.mu.Unlock()
		return fmt.Errorf("progress already %s", cur.Stage())
	}

	if stageRank(p.Stage()) < stageRank(cur.Stage()) {
		t.mu.Unlock()
		return fmt.Errorf("progress cannot move from %s to %s", cur.Stage(), p.Stage())
	}

	switch next := p.(type) {
	case Creating:
		if prev, ok := cur.(Creating); ok && next.Percent < prev.Percent {
			next.Percent = prev.Percent
		}

		next.Percent = clampPercent(next.Percent)
		p = next
	case Downloading:
		if prev, ok := cur.(Downloading); ok && next.Percent < prev.Percent {
			next.Percent = prev.Percent
		}

		next.Percent = clampPercent(next.Percent)
		p = next
	}

	t.current = p
	emit := t.emit
	t.mu.Unlock()

	if emit != nil {
		emit(p)
	}

	return nil
}

func (t *tracker) get() Progress {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.current
}

func clampPercent(p int) int {
	return max(0, min(100, p))
}

// transferPercent is received/total*100, or 0 when total is unknown.
func transferPercent(received, total int64) int {
	if total <= 0 {
		return 0
	}

	return clampPercent(int(received * 100 / total))
}
