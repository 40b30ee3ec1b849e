package gemini

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"sync"
)

// stream adapts the upstream SSE body to the Streamer interface. A producer
// goroutine parses events into a bounded channel; Recv drains it. Cancelling
// the call context aborts the producer and closes the connection.
type stream struct {
	ctx    context.Context
	cancel context.CancelFunc
	body   io.ReadCloser

	chunks chan *Response

	errMu    sync.Mutex
	errSet   bool
	finalErr error

	closeOnce sync.Once
}

func newStream(ctx context.Context, body io.ReadCloser) *stream {
	cctx, cancel := context.WithCancel(ctx)
	s := &stream{
		ctx:    cctx,
		cancel: cancel,
		body:   body,
		chunks: make(chan *Response, 16),
	}
	go s.run()
	return s
}

// Recv returns the next upstream chunk, io.EOF when the stream is exhausted,
// or the first error encountered by the producer.
func (s *stream) Recv() (*Response, error) {
	select {
	case chunk, ok := <-s.chunks:
		if ok {
			return chunk, nil
		}
		if err := s.err(); err != nil {
			return nil, err
		}
		return nil, io.EOF
	case <-s.ctx.Done():
		err := s.ctx.Err()
		s.setErr(err)
		return nil, err
	}
}

// Close aborts the stream and releases the connection.
func (s *stream) Close() error {
	s.cancel()
	var err error
	s.closeOnce.Do(func() { err = s.body.Close() })
	return err
}

func (s *stream) run() {
	defer close(s.chunks)
	defer func() { s.closeOnce.Do(func() { _ = s.body.Close() }) }()

	scanner := bufio.NewScanner(s.body)
	// Chunks carry whole cumulative candidates; allow lines up to 1 MiB.
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 || !bytes.HasPrefix(line, []byte("data:")) {
			continue
		}
		payload := bytes.TrimSpace(bytes.TrimPrefix(line, []byte("data:")))
		if len(payload) == 0 {
			continue
		}
		var resp Response
		if err := json.Unmarshal(payload, &resp); err != nil {
			s.setErr(NewProviderError(KindUnavailable, 0, "", "malformed stream chunk", err))
			return
		}
		select {
		case s.chunks <- &resp:
		case <-s.ctx.Done():
			s.setErr(s.ctx.Err())
			return
		}
	}
	if err := scanner.Err(); err != nil {
		if s.ctx.Err() != nil {
			s.setErr(s.ctx.Err())
			return
		}
		s.setErr(classifyTransport(err))
	}
}

func (s *stream) setErr(err error) {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.errSet {
		return
	}
	s.errSet = true
	s.finalErr = err
}

func (s *stream) err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.finalErr
}
