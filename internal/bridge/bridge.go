// Package bridge exposes agent status over a local websocket so host UIs
// (menu bar widgets, overlays, status bars) can show listening/recording
// state and live transcripts without touching the audio pipeline.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/kestrelvoice/kestrel/internal/observe"
)

// Event is one status update pushed to every connected client.
type Event struct {
	// Type names the transition: "listening", "recording_started",
	// "recording_stopped", "wake_detected", "transcript", "reply".
	Type string `json:"type"`

	// Source is the recording source for recording events.
	Source string `json:"source,omitempty"`

	// Text carries the transcript or reply for text events.
	Text string `json:"text,omitempty"`

	// At is when the event happened.
	At time.Time `json:"at"`
}

// Command is a control request sent by a client, letting UIs start
// push-to-talk or dictation without touching trigger files.
type Command struct {
	// Command is one of "ptt", "dictate", "stop".
	Command string `json:"command"`
}

// Commander receives client commands. The capture state satisfies it.
type Commander interface {
	RequestPTT()
	RequestDictation()
	RequestStop()
}

// subscriber buffers events per connection; slow clients drop events rather
// than stalling the publisher.
type subscriber struct {
	events chan Event
}

// Server broadcasts events to websocket clients on /events.
type Server struct {
	addr     string
	commands Commander
	log      *slog.Logger
	metrics  *observe.Metrics

	mu   sync.Mutex
	subs map[*subscriber]struct{}
}

// Option configures a Server.
type Option func(*Server)

// WithLogger overrides the default logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *Server) { s.log = log }
}

// WithCommands enables client control commands, dispatching them to c.
func WithCommands(c Commander) Option {
	return func(s *Server) { s.commands = c }
}

// New builds a bridge server listening on addr.
func New(addr string, opts ...Option) (*Server, error) {
	if addr == "" {
		return nil, fmt.Errorf("bridge: addr must not be empty")
	}
	s := &Server{
		addr:    addr,
		log:     slog.Default(),
		metrics: observe.DefaultMetrics(),
		subs:    make(map[*subscriber]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Publish pushes an event to all connected clients. Never blocks; clients
// that cannot keep up lose events.
func (s *Server) Publish(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for sub := range s.subs {
		select {
		case sub.events <- ev:
		default:
		}
	}
}

// Run serves until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/events", s.handleEvents)

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("bridge: listen %s: %w", s.addr, err)
	}
	srv := &http.Server{
		Handler:     mux,
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	s.log.Info("bridge listening", "addr", ln.Addr().String())
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("bridge: serve: %w", err)
	}
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.addr
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.log.Warn("websocket accept failed", "error", err)
		return
	}

	sub := &subscriber{events: make(chan Event, 64)}
	s.mu.Lock()
	s.subs[sub] = struct{}{}
	s.mu.Unlock()
	s.metrics.BridgeClients.Add(r.Context(), 1)
	defer func() {
		s.mu.Lock()
		delete(s.subs, sub)
		s.mu.Unlock()
		s.metrics.BridgeClients.Add(context.Background(), -1)
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// The read side either dispatches commands or, when commands are
	// disabled, just drains control frames until the peer goes away.
	go func() {
		defer cancel()
		s.readCommands(ctx, conn)
	}()

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "bye")
			return
		case ev := <-sub.events:
			data, err := json.Marshal(ev)
			if err != nil {
				s.log.Warn("marshaling event failed", "error", err)
				continue
			}
			if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
				conn.Close(websocket.StatusInternalError, "write failed")
				return
			}
		}
	}
}

func (s *Server) readCommands(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		if s.commands == nil {
			continue
		}
		var cmd Command
		if err := json.Unmarshal(data, &cmd); err != nil {
			s.log.Warn("bad client command", "error", err)
			continue
		}
		switch cmd.Command {
		case "ptt":
			s.commands.RequestPTT()
		case "dictate":
			s.commands.RequestDictation()
		case "stop":
			s.commands.RequestStop()
		default:
			s.log.Warn("unknown client command", "command", cmd.Command)
		}
	}
}
