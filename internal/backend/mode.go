package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/kestrelvoice/kestrel/internal/capture"
)

// Mode selects which router answers the next transcript.
type Mode string

const (
	// ModeAuto prefers the inbox when one is configured, otherwise the
	// direct route.
	ModeAuto Mode = "auto"

	// ModeLocal forces the direct LLM route.
	ModeLocal Mode = "local"

	// ModeInbox forces the shared inbox route.
	ModeInbox Mode = "inbox"
)

// DefaultModeCache is how long a mode file read stays valid. The file is
// consulted on every turn, so reads are cached briefly instead of hitting
// the filesystem each time.
const DefaultModeCache = time.Second

// Router is the transcript handling contract shared by all routers here.
type Router interface {
	Handle(ctx context.Context, text string, src capture.Source) (string, error)
}

// modeFile is the on-disk selector document, written by host tooling.
type modeFile struct {
	Mode string `json:"mode"`
}

// ModeRouter dispatches each transcript to the inbox or direct route based
// on a small JSON selector file that host tooling can rewrite at any time.
// A missing or malformed file means [ModeAuto].
type ModeRouter struct {
	path   string
	inbox  Router
	direct Router
	log    *slog.Logger

	cacheTTL time.Duration

	mu     sync.Mutex
	cached Mode
	readAt time.Time
}

// ModeOption configures a ModeRouter.
type ModeOption func(*ModeRouter)

// WithModeCache overrides how long a mode file read is reused.
func WithModeCache(d time.Duration) ModeOption {
	return func(r *ModeRouter) {
		if d > 0 {
			r.cacheTTL = d
		}
	}
}

// NewModeRouter builds a dispatcher over the available routes. Either route
// may be nil; a mode that names an unavailable route fails the turn with an
// error rather than silently answering elsewhere.
func NewModeRouter(path string, inboxRoute, directRoute Router, opts ...ModeOption) (*ModeRouter, error) {
	if path == "" {
		return nil, fmt.Errorf("backend: mode file path is required")
	}
	if inboxRoute == nil && directRoute == nil {
		return nil, fmt.Errorf("backend: mode router needs at least one route")
	}
	r := &ModeRouter{
		path:     path,
		inbox:    inboxRoute,
		direct:   directRoute,
		log:      slog.Default(),
		cacheTTL: DefaultModeCache,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Handle reads the current mode and forwards to the selected route.
func (r *ModeRouter) Handle(ctx context.Context, text string, src capture.Source) (string, error) {
	mode := r.Mode()
	switch mode {
	case ModeLocal:
		if r.direct == nil {
			return "", fmt.Errorf("mode %q selected but no llm provider is configured", mode)
		}
		return r.direct.Handle(ctx, text, src)
	case ModeInbox:
		if r.inbox == nil {
			return "", fmt.Errorf("mode %q selected but no inbox is configured", mode)
		}
		return r.inbox.Handle(ctx, text, src)
	default:
		if r.inbox != nil {
			return r.inbox.Handle(ctx, text, src)
		}
		return r.direct.Handle(ctx, text, src)
	}
}

// Mode returns the current selector value, reading the file at most once per
// cache interval.
func (r *ModeRouter) Mode() Mode {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cached != "" && time.Since(r.readAt) < r.cacheTTL {
		return r.cached
	}
	r.cached = r.readMode()
	r.readAt = time.Now()
	return r.cached
}

// readMode parses the selector file. Anything unexpected degrades to auto;
// the file is host-written and may be mid-rewrite.
func (r *ModeRouter) readMode() Mode {
	data, err := os.ReadFile(r.path)
	if err != nil {
		return ModeAuto
	}
	var mf modeFile
	if err := json.Unmarshal(data, &mf); err != nil {
		r.log.Debug("mode file unreadable, using auto", "path", r.path, "error", err)
		return ModeAuto
	}
	switch m := Mode(strings.ToLower(strings.TrimSpace(mf.Mode))); m {
	case ModeLocal, ModeInbox, ModeAuto:
		return m
	default:
		if mf.Mode != "" {
			r.log.Warn("unknown mode in mode file, using auto", "mode", mf.Mode)
		}
		return ModeAuto
	}
}
