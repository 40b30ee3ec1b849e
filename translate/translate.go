// Package translate converts between the public chat surface and the upstream
// generateContent schema. Request and response translation are pure; streaming
// translation keeps per-stream state to turn cumulative upstream chunks into
// public deltas.
package translate

import (
	"encoding/hex"
	"sort"
	"time"

	"github.com/google/uuid"
)

// DefaultModel is the upstream model used for public names missing from the
// mapping table.
const DefaultModel = "gemini-1.5-pro-latest"

// defaultModels maps public model names to upstream model names.
var defaultModels = map[string]string{
	"gpt-4o":        "gemini-1.5-pro-latest",
	"gpt-4-turbo":   "gemini-1.5-pro-latest",
	"gpt-4":         "gemini-pro",
	"gpt-3.5-turbo": "gemini-1.5-flash-latest",
}

type (
	// Translator converts public requests to upstream requests and upstream
	// responses back. Safe for concurrent use; all state lives in per-stream
	// StreamState values.
	Translator struct {
		defaultModel string
		models       map[string]string
		newCallID    func() string
		newChatID    func() string
		now          func() time.Time
	}

	// Options configures a Translator. Zero values select production
	// defaults; the id and clock hooks exist for deterministic tests.
	Options struct {
		// DefaultModel is the upstream fallback for unknown public names.
		DefaultModel string
		// Models overrides the public-to-upstream model table.
		Models map[string]string
		// NewCallID mints tool call ids ("call_" + hex suffix).
		NewCallID func() string
		// NewChatID mints completion ids ("chatcmpl-" + hex suffix).
		NewChatID func() string
		// Now supplies chunk timestamps.
		Now func() time.Time
	}
)

// New constructs a Translator.
func New(opts Options) *Translator {
	t := &Translator{
		defaultModel: opts.DefaultModel,
		models:       opts.Models,
		newCallID:    opts.NewCallID,
		newChatID:    opts.NewChatID,
		now:          opts.Now,
	}
	if t.defaultModel == "" {
		t.defaultModel = DefaultModel
	}
	if t.models == nil {
		t.models = defaultModels
	}
	if t.newCallID == nil {
		t.newCallID = func() string { return "call_" + hexID() }
	}
	if t.newChatID == nil {
		t.newChatID = func() string { return "chatcmpl-" + hexID() }
	}
	if t.now == nil {
		t.now = time.Now
	}
	return t
}

// MapModel resolves a public model name to the upstream model name.
func (t *Translator) MapModel(public string) string {
	if m, ok := t.models[public]; ok {
		return m
	}
	return t.defaultModel
}

// PublicModels lists the public model names the gateway advertises, sorted.
func (t *Translator) PublicModels() []string {
	names := make([]string, 0, len(t.models))
	for name := range t.models {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func hexID() string {
	u := uuid.New()
	return hex.EncodeToString(u[:])
}
