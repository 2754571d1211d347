package ollama

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/cuba6112/ollama-mcp/internal/httpkit"
)

// Stream is a lazy, finite, forward-only sequence of newline-delimited
// JSON frames from a streaming Ollama response. Frames are handed to the
// caller as they arrive; nothing is buffered beyond the decoder's
// read-ahead.
//
// A Stream is not retryable: once the first frame has been delivered,
// partial output has reached the caller and any failure is surfaced
// directly. Close releases the underlying connection promptly, even
// mid-stream.
type Stream struct {
	resp   *http.Response
	dec    *json.Decoder
	closed bool
	done   bool
}

func newStream(resp *http.Response) *Stream {
	return &Stream{
		resp: resp,
		dec:  json.NewDecoder(resp.Body),
	}
}

// finalFrame is implemented by frame types that carry the
// stream-terminating done marker.
type finalFrame interface {
	finalFrame() bool
}

// Next decodes the next frame into out. It returns io.EOF after the
// final frame. Callers should stop at the frame whose done marker is
// set; once that frame has been delivered the stream is considered
// fully consumed and Close drains the connection back to the pool.
func (s *Stream) Next(out any) error {
	if s.closed {
		return errors.New("ollama: stream closed")
	}
	if s.done {
		return io.EOF
	}

	if err := s.dec.Decode(out); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			s.done = true
			return io.EOF
		}
		// Mid-stream decode failure. The connection is in an unknown
		// state; make sure it is torn down rather than pooled.
		s.Close()
		return &BackendError{
			Kind:    KindProtocol,
			Message: "malformed stream frame from Ollama",
			Cause:   err,
		}
	}
	if f, ok := out.(finalFrame); ok && f.finalFrame() {
		s.done = true
	}
	return nil
}

// Close releases the stream's connection. Closing before the final frame
// tears the connection down immediately rather than waiting for the
// backend to finish producing output. Safe to call multiple times.
func (s *Stream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if s.done {
		// Fully consumed; drain any trailing bytes so the connection
		// can return to the pool.
		httpkit.DrainAndClose(s.resp.Body, 4096)
		return nil
	}
	return s.resp.Body.Close()
}
