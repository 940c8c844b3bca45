// Package backend delivers filtered transcripts to whoever answers them:
// the shared inbox watched by a coding assistant, or a language model asked
// directly. Both implement the turn orchestrator's Router interface.
package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kestrelvoice/kestrel/internal/capture"
	"github.com/kestrelvoice/kestrel/internal/inbox"
	"github.com/kestrelvoice/kestrel/pkg/provider/llm"
)

// InboxRouter sends transcripts through the shared inbox file and waits for
// an assistant reply.
type InboxRouter struct {
	channel *inbox.Channel

	// ResponseWait bounds the wait for a reply to a fresh question.
	ResponseWait time.Duration

	// FollowUpWait bounds the wait inside a conversation window, where the
	// user is already engaged and a hung reply feels worse.
	FollowUpWait time.Duration

	// prefix strips the provider's own name label from replies before they
	// are spoken. Swappable so a provider change can retarget it live.
	prefix atomic.Pointer[regexp.Regexp]

	log *slog.Logger
}

// NewInboxRouter wraps an inbox channel with the given wait bounds.
func NewInboxRouter(ch *inbox.Channel, responseWait, followUpWait time.Duration) *InboxRouter {
	r := &InboxRouter{
		channel:      ch,
		ResponseWait: responseWait,
		FollowUpWait: followUpWait,
		log:          slog.Default(),
	}
	r.SetProviderName(ProviderDisplayName(ch.Provider()))
	return r
}

// SetProviderName rebuilds the reply prefix stripper for the given display
// name. Safe to call while Handle is in flight.
func (r *InboxRouter) SetProviderName(name string) {
	name = strings.TrimSpace(name)
	if name == "" {
		return
	}
	r.prefix.Store(regexp.MustCompile(
		`(?i)^` + regexp.QuoteMeta(name) + `(?:\s*\([^)]+\))?:\s*`))
}

// Handle sends the transcript and blocks until the assistant answers or the
// wait elapses. A timed-out question returns an empty reply rather than an
// error: the message stays in the inbox and the assistant may still pick it
// up, it just will not be spoken.
func (r *InboxRouter) Handle(ctx context.Context, text string, src capture.Source) (string, error) {
	id, err := r.channel.Send(ctx, text)
	if err != nil {
		return "", fmt.Errorf("send to inbox: %w", err)
	}
	if id == "" {
		// Duplicate transcript, suppressed by the channel.
		return "", nil
	}

	wait := r.ResponseWait
	if src == capture.SourceFollowUp {
		wait = r.FollowUpWait
	}

	reply, err := r.channel.WaitForResponse(ctx, id, wait)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return "", err
		}
		r.log.Warn("no assistant response", "message_id", id, "wait", wait, "error", err)
		return "", nil
	}
	return r.stripPrefix(reply), nil
}

// Assistants sometimes label their inbox replies with their own name, e.g.
// "Claude: sure thing" or "Ollama (llama3): done". The label reads fine in
// the file but sounds wrong spoken aloud.
func (r *InboxRouter) stripPrefix(text string) string {
	re := r.prefix.Load()
	if re == nil {
		return strings.TrimSpace(text)
	}
	return strings.TrimSpace(re.ReplaceAllString(text, ""))
}

// providerDisplayNames maps provider ids to the name their replies are
// labelled with in the inbox.
var providerDisplayNames = map[string]string{
	"claude":     "Claude",
	"ollama":     "Ollama",
	"lmstudio":   "LM Studio",
	"jan":        "Jan",
	"openai":     "OpenAI",
	"gemini":     "Gemini",
	"grok":       "Grok",
	"groq":       "Groq",
	"mistral":    "Mistral",
	"openrouter": "OpenRouter",
	"deepseek":   "DeepSeek",
	"opencode":   "OpenCode",
	"kimi-cli":   "Kimi CLI",
}

// ProviderDisplayName returns the display name for a provider id, title-casing
// unknown ids.
func ProviderDisplayName(id string) string {
	id = strings.ToLower(strings.TrimSpace(id))
	if name, ok := providerDisplayNames[id]; ok {
		return name
	}
	if id == "" {
		return ""
	}
	return strings.ToUpper(id[:1]) + id[1:]
}

// DefaultSystemPrompt frames direct-route replies for speech output.
const DefaultSystemPrompt = "You are a voice assistant. Answer in one or two short spoken sentences, without markdown or lists."

// DefaultHistoryDepth is how many past exchanges the direct route replays.
const DefaultHistoryDepth = 10

// DirectRouter answers transcripts itself through a language model, keeping
// a short rolling conversation history.
type DirectRouter struct {
	provider llm.Provider

	systemPrompt string
	temperature  float64
	maxTokens    int
	historyDepth int

	mu      sync.Mutex
	history []llm.Message
}

// DirectOption configures a DirectRouter.
type DirectOption func(*DirectRouter)

// WithSystemPrompt overrides the default spoken-answer framing.
func WithSystemPrompt(p string) DirectOption {
	return func(r *DirectRouter) {
		if strings.TrimSpace(p) != "" {
			r.systemPrompt = p
		}
	}
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) DirectOption {
	return func(r *DirectRouter) { r.temperature = t }
}

// WithMaxTokens caps the reply length.
func WithMaxTokens(n int) DirectOption {
	return func(r *DirectRouter) { r.maxTokens = n }
}

// WithHistoryDepth sets how many past exchanges are replayed. Zero disables
// history entirely.
func WithHistoryDepth(n int) DirectOption {
	return func(r *DirectRouter) { r.historyDepth = n }
}

// NewDirectRouter wraps a language model provider.
func NewDirectRouter(p llm.Provider, opts ...DirectOption) *DirectRouter {
	r := &DirectRouter{
		provider:     p,
		systemPrompt: DefaultSystemPrompt,
		historyDepth: DefaultHistoryDepth,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Handle asks the model and records the exchange in the rolling history.
func (r *DirectRouter) Handle(ctx context.Context, text string, _ capture.Source) (string, error) {
	r.mu.Lock()
	messages := make([]llm.Message, 0, len(r.history)+1)
	messages = append(messages, r.history...)
	messages = append(messages, llm.Message{Role: "user", Content: text})
	r.mu.Unlock()

	resp, err := r.provider.Complete(ctx, llm.CompletionRequest{
		Messages:     messages,
		SystemPrompt: r.systemPrompt,
		Temperature:  r.temperature,
		MaxTokens:    r.maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("complete: %w", err)
	}

	r.mu.Lock()
	r.history = append(r.history,
		llm.Message{Role: "user", Content: text},
		llm.Message{Role: "assistant", Content: resp.Content})
	if max := r.historyDepth * 2; len(r.history) > max {
		r.history = append(r.history[:0:0], r.history[len(r.history)-max:]...)
	}
	r.mu.Unlock()

	return resp.Content, nil
}

// ClearHistory forgets the rolling conversation.
func (r *DirectRouter) ClearHistory() {
	r.mu.Lock()
	r.history = nil
	r.mu.Unlock()
}
