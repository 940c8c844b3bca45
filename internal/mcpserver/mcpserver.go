// Package mcpserver exposes the shared inbox as MCP tools over stdio, so
// CLI assistants that speak the Model Context Protocol can join the voice
// thread without knowing the inbox file format.
package mcpserver

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/kestrelvoice/kestrel/internal/inbox"
)

// serverName identifies this server in the MCP handshake.
const serverName = "kestrel-inbox"

// DefaultResponder is the sender tag used by voice_respond when the caller
// does not name one. It must be one of the recognized assistant senders or
// the reply will never be picked up as a response.
const DefaultResponder = "claude"

// Server wraps the inbox channel behind MCP tools.
type Server struct {
	channel *inbox.Channel
	version string
	log     *slog.Logger
}

// New builds an MCP server over the inbox channel.
func New(ch *inbox.Channel, version string) *Server {
	if version == "" {
		version = "dev"
	}
	return &Server{channel: ch, version: version, log: slog.Default()}
}

type sendInput struct {
	// Message is the text to post into the voice thread as the user.
	Message string `json:"message"`
}

type sendOutput struct {
	// ID of the appended message. Empty when the send was suppressed as a
	// duplicate.
	ID         string `json:"id"`
	Suppressed bool   `json:"suppressed,omitempty"`
}

type respondInput struct {
	// Message is the reply text.
	Message string `json:"message"`

	// From optionally names the assistant sender tag. Default: "claude".
	From string `json:"from,omitempty"`
}

type respondOutput struct {
	ID string `json:"id"`
}

type latestInput struct{}

type latestOutput struct {
	// Found is false when the thread has no assistant message yet.
	Found     bool   `json:"found"`
	ID        string `json:"id,omitempty"`
	From      string `json:"from,omitempty"`
	Message   string `json:"message,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
}

// Run serves MCP over stdio until the peer disconnects or the context is
// cancelled.
func (s *Server) Run(ctx context.Context) error {
	srv := mcpsdk.NewServer(&mcpsdk.Implementation{
		Name:    serverName,
		Version: s.version,
	}, nil)

	mcpsdk.AddTool(srv, &mcpsdk.Tool{
		Name:        "voice_send",
		Description: "Post a message into the voice thread as the user.",
	}, s.handleSend)

	mcpsdk.AddTool(srv, &mcpsdk.Tool{
		Name:        "voice_respond",
		Description: "Post an assistant reply into the voice thread; it will be spoken aloud.",
	}, s.handleRespond)

	mcpsdk.AddTool(srv, &mcpsdk.Tool{
		Name:        "voice_latest",
		Description: "Read the most recent assistant message in the voice thread.",
	}, s.handleLatest)

	s.log.Info("mcp server starting", "name", serverName, "version", s.version)
	if err := srv.Run(ctx, &mcpsdk.StdioTransport{}); err != nil {
		return fmt.Errorf("mcpserver: %w", err)
	}
	return nil
}

func (s *Server) handleSend(ctx context.Context, _ *mcpsdk.CallToolRequest, in sendInput) (*mcpsdk.CallToolResult, sendOutput, error) {
	if strings.TrimSpace(in.Message) == "" {
		return nil, sendOutput{}, fmt.Errorf("send: message must not be empty")
	}
	id, err := s.channel.Send(ctx, in.Message)
	if err != nil {
		return nil, sendOutput{}, fmt.Errorf("send: %w", err)
	}
	return nil, sendOutput{ID: id, Suppressed: id == ""}, nil
}

func (s *Server) handleRespond(_ context.Context, _ *mcpsdk.CallToolRequest, in respondInput) (*mcpsdk.CallToolResult, respondOutput, error) {
	from := in.From
	if from == "" {
		from = DefaultResponder
	}
	id, err := s.channel.AppendFrom(from, in.Message)
	if err != nil {
		return nil, respondOutput{}, fmt.Errorf("respond: %w", err)
	}
	return nil, respondOutput{ID: id}, nil
}

func (s *Server) handleLatest(_ context.Context, _ *mcpsdk.CallToolRequest, _ latestInput) (*mcpsdk.CallToolResult, latestOutput, error) {
	msg, ok, err := s.channel.LatestAssistantMessage()
	if err != nil {
		return nil, latestOutput{}, fmt.Errorf("latest: %w", err)
	}
	if !ok {
		return nil, latestOutput{}, nil
	}
	return nil, latestOutput{
		Found:     true,
		ID:        msg.ID,
		From:      msg.From,
		Message:   msg.Message,
		Timestamp: msg.Timestamp,
	}, nil
}
