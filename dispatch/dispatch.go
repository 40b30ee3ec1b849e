// Package dispatch runs the per-request retry loop: select a credential,
// translate, call the upstream, classify failures back into the pool, and
// map exhaustion to a client-facing error.
package dispatch

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"goa.design/clue/log"

	"github.com/geminigate/geminigate/gemini"
	"github.com/geminigate/geminigate/keypool"
	"github.com/geminigate/geminigate/openaiapi"
	"github.com/geminigate/geminigate/translate"
)

type (
	// Upstream is the provider client surface the dispatcher drives.
	Upstream interface {
		GenerateContent(ctx context.Context, apiKey, model string, req *gemini.Request) (*gemini.Response, error)
		StreamGenerateContent(ctx context.Context, apiKey, model string, req *gemini.Request) (gemini.Streamer, error)
	}

	// Pool is the credential pool surface the dispatcher drives.
	Pool interface {
		Acquire() (string, bool)
		MarkSuccess(key string)
		MarkFailure(key string, err error)
		Size() int
	}

	// ErrorRecorder receives classified failures. Optional.
	ErrorRecorder interface {
		Record(ctx context.Context, err error, endpoint string)
	}

	// Dispatcher composes pool, translator and upstream client.
	Dispatcher struct {
		pool       Pool
		upstream   Upstream
		translator *translate.Translator
		monitor    ErrorRecorder
		maxRetries int
		timeout    time.Duration
		sleep      func(ctx context.Context, d time.Duration) error
	}

	// Options configures a Dispatcher.
	Options struct {
		Pool       Pool
		Upstream   Upstream
		Translator *translate.Translator
		// Monitor, when set, is notified of every upstream failure.
		Monitor ErrorRecorder
		// MaxRetries bounds attempts together with the pool size.
		MaxRetries int
		// Timeout bounds each non-streaming upstream call.
		Timeout time.Duration
		// Sleep overrides inter-attempt waiting for tests.
		Sleep func(ctx context.Context, d time.Duration) error
	}

	// GatewayError is a client-facing failure with its HTTP status. Messages
	// are generic; key material never appears in them.
	GatewayError struct {
		Status  int
		Type    string
		Message string
	}
)

func (e *GatewayError) Error() string { return e.Message }

// New constructs a Dispatcher.
func New(opts Options) *Dispatcher {
	d := &Dispatcher{
		pool:       opts.Pool,
		upstream:   opts.Upstream,
		translator: opts.Translator,
		monitor:    opts.Monitor,
		maxRetries: opts.MaxRetries,
		timeout:    opts.Timeout,
		sleep:      opts.Sleep,
	}
	if d.maxRetries <= 0 {
		d.maxRetries = 3
	}
	if d.timeout <= 0 {
		d.timeout = 2 * time.Minute
	}
	if d.sleep == nil {
		d.sleep = sleepCtx
	}
	return d
}

// Complete serves a non-streaming chat completion.
func (d *Dispatcher) Complete(ctx context.Context, req *openaiapi.ChatRequest) (*openaiapi.ChatResponse, error) {
	upReq, err := d.translator.ToUpstream(ctx, req)
	if err != nil {
		return nil, badRequest(err)
	}
	model := d.translator.MapModel(req.Model)

	var resp *openaiapi.ChatResponse
	err = d.attempt(ctx, "chat", func(callCtx context.Context, key string) error {
		callCtx, cancel := context.WithTimeout(callCtx, d.timeout)
		defer cancel()
		upResp, err := d.upstream.GenerateContent(callCtx, key, model, upReq)
		if err != nil {
			return err
		}
		d.pool.MarkSuccess(key)
		resp = d.translator.FromUpstream(upResp, req.Model)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// Stream serves a streaming chat completion. Every public chunk is handed to
// send in order; the caller owns the wire framing and the closing sentinel.
// Retries cover stream setup only: once the first upstream chunk can flow, a
// failure surfaces in-band and the method returns nil.
func (d *Dispatcher) Stream(ctx context.Context, req *openaiapi.ChatRequest, send func(openaiapi.ChunkResponse) error) error {
	upReq, err := d.translator.ToUpstream(ctx, req)
	if err != nil {
		return badRequest(err)
	}
	model := d.translator.MapModel(req.Model)

	var stream gemini.Streamer
	var key string
	var release context.CancelFunc
	err = d.attempt(ctx, "chat_stream", func(callCtx context.Context, k string) error {
		// Setup is bounded by the configured timeout; the deadline is lifted
		// once the stream is open so long streams are not cut short.
		setupCtx, cancel := context.WithCancel(callCtx)
		timer := time.AfterFunc(d.timeout, cancel)
		s, err := d.upstream.StreamGenerateContent(setupCtx, k, model, upReq)
		timer.Stop()
		if err != nil {
			cancel()
			return err
		}
		stream, key, release = s, k, cancel
		return nil
	})
	if err != nil {
		return err
	}
	defer release()
	defer func() { _ = stream.Close() }()

	state := d.translator.NewStream(req.Model)
	for !state.Done() {
		chunk, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				// Client went away; not the key's fault.
				return ctx.Err()
			}
			d.pool.MarkFailure(key, err)
			d.record(ctx, err, "chat_stream")
			for _, c := range state.Fail(publicMessage(err)) {
				if sendErr := send(c); sendErr != nil {
					return sendErr
				}
			}
			return nil
		}
		for _, c := range state.Process(chunk) {
			if err := send(c); err != nil {
				return err
			}
		}
	}
	d.pool.MarkSuccess(key)
	return nil
}

// attempt runs the shared retry loop. call is invoked with an acquired key;
// its error decides whether to retry with the next key.
func (d *Dispatcher) attempt(ctx context.Context, endpoint string, call func(ctx context.Context, key string) error) error {
	maxAttempts := d.maxRetries + 1
	if size := d.pool.Size(); size < maxAttempts {
		maxAttempts = size
	}

	var lastErr error
	acquired := false
	for a := 0; a < maxAttempts; a++ {
		key, ok := d.pool.Acquire()
		if !ok {
			if a == maxAttempts-1 {
				break
			}
			wait := time.Duration(min(5*(a+1), 30)) * time.Second
			log.Debugf(ctx, "no key available, waiting %s", wait)
			if err := d.sleep(ctx, wait); err != nil {
				return err
			}
			continue
		}
		acquired = true

		err := call(ctx, key)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		d.pool.MarkFailure(key, err)
		d.record(ctx, err, endpoint)
		lastErr = err
		log.Warnf(ctx, "attempt %d/%d with key %s failed: %s",
			a+1, maxAttempts, keypool.Redact(key), gemini.KindOf(err))

		if gemini.KindOf(err) == gemini.KindInvalidArgument {
			return &GatewayError{
				Status:  http.StatusBadRequest,
				Type:    "invalid_request_error",
				Message: "upstream rejected the request as invalid",
			}
		}
		if a < maxAttempts-1 {
			wait := time.Duration(min(1<<a, 30)) * time.Second
			if err := d.sleep(ctx, wait); err != nil {
				return err
			}
		}
	}

	if !acquired && lastErr == nil {
		return &GatewayError{
			Status:  http.StatusServiceUnavailable,
			Type:    "service_unavailable",
			Message: "no API keys available, please try again later",
		}
	}
	return terminal(lastErr)
}

// terminal maps the last upstream failure of an exhausted loop to the
// client-facing error.
func terminal(err error) *GatewayError {
	switch gemini.KindOf(err) {
	case gemini.KindQuotaExhausted:
		return &GatewayError{
			Status:  http.StatusTooManyRequests,
			Type:    "rate_limit_error",
			Message: "all API keys are rate limited, please try again later",
		}
	case gemini.KindPermissionDenied:
		return &GatewayError{
			Status:  http.StatusForbidden,
			Type:    "permission_error",
			Message: "upstream rejected the configured credentials",
		}
	case gemini.KindUnauthenticated:
		return &GatewayError{
			Status:  http.StatusUnauthorized,
			Type:    "authentication_error",
			Message: "upstream rejected the configured credentials",
		}
	}
	return &GatewayError{
		Status:  http.StatusBadGateway,
		Type:    "api_error",
		Message: "upstream provider is unavailable, please try again later",
	}
}

func badRequest(err error) error {
	var re *translate.RequestError
	if errors.As(err, &re) {
		return &GatewayError{Status: http.StatusBadRequest, Type: "invalid_request_error", Message: re.Message}
	}
	return &GatewayError{Status: http.StatusBadRequest, Type: "invalid_request_error", Message: err.Error()}
}

// publicMessage renders an upstream error for in-band delivery without
// leaking upstream detail beyond its classification.
func publicMessage(err error) string {
	if pe, ok := gemini.AsProviderError(err); ok {
		return "upstream error: " + string(pe.Kind())
	}
	return "upstream stream failed"
}

func (d *Dispatcher) record(ctx context.Context, err error, endpoint string) {
	if d.monitor != nil {
		d.monitor.Record(ctx, err, endpoint)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
