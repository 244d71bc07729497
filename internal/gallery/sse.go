package gallery

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	apperrors "github.com/alexjbarnes/delivery-sync/internal/errors"
	"github.com/tidwall/gjson"
)

// maxEventBytes bounds a single server-sent event line.
const maxEventBytes = 64 * 1024

// eventStream reads archive progress frames from a text/event-stream
// body. Only "data:" lines are meaningful; a blank line ends an event.
type eventStream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner

	closeOnce sync.Once
	closeErr  error
}

func newEventStream(body io.ReadCloser) *eventStream {
	sc := bufio.NewScanner(body)
	sc.Buffer(make([]byte, 0, 4096), maxEventBytes)

	return &eventStream{body: body, scanner: sc}
}

// Next returns the next frame. The context is checked between events;
// a blocked read is released by Close or by the request context the
// body was opened with.
func (s *eventStream) Next(ctx context.Context) (ArchiveFrame, error) {
	var data []string

	for {
		if err := ctx.Err(); err != nil {
			return ArchiveFrame{}, err
		}

		if !s.scanner.Scan() {
			if err := s.scanner.Err(); err != nil {
				return ArchiveFrame{}, fmt.Errorf("reading progress stream: %w", err)
			}

			if len(data) > 0 {
				return decodeFrame(strings.Join(data, "\n"))
			}

			return ArchiveFrame{}, io.EOF
		}

		line := strings.TrimRight(s.scanner.Text(), "\r")

		switch {
		case line == "":
			if len(data) > 0 {
				return decodeFrame(strings.Join(data, "\n"))
			}
		case strings.HasPrefix(line, ":"):
			// Comment, used by servers as keep-alive.
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
}

// Close releases the underlying connection.
func (s *eventStream) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.body.Close()
	})

	return s.closeErr
}

// decodeFrame parses one event payload. The stage is peeked first so an
// unknown frame type is rejected before the rest of the payload is
// trusted.
func decodeFrame(payload string) (ArchiveFrame, error) {
	stage := gjson.Get(payload, "stage").String()

	switch stage {
	case FrameCreating, FrameComplete, FrameError:
	default:
		return ArchiveFrame{}, fmt.Errorf("%w: unexpected progress frame stage %q", apperrors.ErrArchiveAssemblyFailed, stage)
	}

	var frame ArchiveFrame
	if err := json.Unmarshal([]byte(payload), &frame); err != nil {
		return ArchiveFrame{}, fmt.Errorf("%w: decoding progress frame: %w", apperrors.ErrArchiveAssemblyFailed, err)
	}

	return frame, nil
}
