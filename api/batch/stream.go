package batch

import (
	"context"
	"encoding/json"
	"io"
	"strings"

	"github.com/pkg/errors"
	"github.com/veridash/vd-analysis-queue/api/metrics"
	"go.uber.org/zap"
)

// StreamEvent is one decoded record from the batch progress stream.
type StreamEvent struct {
	// Terminal is set on the final record; Results carries its result count.
	Terminal bool
	Results  int
	// Progress fields.  AnalyzingDates is the authoritative concurrent set when
	// HasAnalyzingDates is set; otherwise LastResultDate identifies the date that
	// just left the in-flight set (may be empty).
	Completed         int
	LastResultDate    string
	AnalyzingDates    []string
	HasAnalyzingDates bool
}

// StreamDecoder reassembles newline-delimited JSON records from byte chunks whose
// boundaries are not line-aligned.  The trailing partial line is carried between
// chunks in a residual buffer.
type StreamDecoder struct {
	logger  *zap.SugaredLogger
	metrics *metrics.Metrics
	buffer  string
}

// NewStreamDecoder creates a decoder.  The metrics argument may be nil.
func NewStreamDecoder(logger *zap.SugaredLogger, m *metrics.Metrics) *StreamDecoder {
	return &StreamDecoder{
		logger:  logger,
		metrics: m,
	}
}

// wire shape shared by progress and terminal records; the completed field is a
// number on progress lines and the literal true on the terminal line
type streamRecord struct {
	Completed  interface{} `json:"completed"`
	LastResult struct {
		Date string `json:"date"`
	} `json:"lastResult"`
	AnalyzingDates []string          `json:"analyzingDates"`
	Results        []json.RawMessage `json:"results"`
}

// Feed appends a chunk to the residual buffer and returns the events decoded from
// every newline-terminated line it completes.  Malformed lines are logged and
// skipped, never fatal: one bad progress line must not lose the rest of the batch.
func (d *StreamDecoder) Feed(chunk []byte) []StreamEvent {
	d.buffer += string(chunk)

	lines := strings.Split(d.buffer, "\n")
	// the final fragment may be a partial record, keep it for the next chunk
	d.buffer = lines[len(lines)-1]
	lines = lines[:len(lines)-1]

	var events []StreamEvent
	for _, line := range lines {
		if event, ok := d.decodeLine(line); ok {
			events = append(events, event)
			if event.Terminal {
				break
			}
		}
	}
	return events
}

// Flush parses any fully-formed record left in the residual buffer after the
// stream ends without a terminal line.  Best effort only.
func (d *StreamDecoder) Flush() (StreamEvent, bool) {
	line := strings.TrimSpace(d.buffer)
	d.buffer = ""
	if line == "" {
		return StreamEvent{}, false
	}
	return d.decodeLine(line)
}

func (d *StreamDecoder) decodeLine(line string) (StreamEvent, bool) {
	if strings.TrimSpace(line) == "" {
		return StreamEvent{}, false
	}

	var record streamRecord
	if err := json.Unmarshal([]byte(line), &record); err != nil {
		d.metrics.MarkMalformedLine()
		d.logger.Warnf("skipping malformed stream line: %v", err)
		return StreamEvent{}, false
	}

	switch completed := record.Completed.(type) {
	case bool:
		if !completed {
			return StreamEvent{}, false
		}
		return StreamEvent{
			Terminal: true,
			Results:  len(record.Results),
		}, true
	case float64:
		if completed < 0 {
			return StreamEvent{}, false
		}
		return StreamEvent{
			Completed:         int(completed),
			LastResultDate:    record.LastResult.Date,
			AnalyzingDates:    record.AnalyzingDates,
			HasAnalyzingDates: record.AnalyzingDates != nil,
		}, true
	}
	return StreamEvent{}, false
}

const streamChunkSize = 4096

// DecodeStream drains an NDJSON body, invoking emit for every decoded event in
// arrival order.  It returns nil once the terminal record arrives or the stream
// ends cleanly, and a transport error otherwise so the caller can degrade to the
// per-date fallback.  Cancellation stops reading immediately; buffered partial
// text is discarded.
func DecodeStream(ctx context.Context, body io.ReadCloser, decoder *StreamDecoder, emit func(StreamEvent)) error {
	defer body.Close()

	chunk := make([]byte, streamChunkSize)
	for {
		if ctx.Err() != nil {
			return nil
		}

		n, err := body.Read(chunk)
		if n > 0 {
			for _, event := range decoder.Feed(chunk[:n]) {
				emit(event)
				if event.Terminal {
					return nil
				}
			}
		}
		if err == io.EOF {
			if event, ok := decoder.Flush(); ok && !event.Terminal {
				emit(event)
			}
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errors.Wrap(err, "batch stream read failed")
		}
	}
}
