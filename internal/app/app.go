// Package app wires all kestrel subsystems into a running agent.
//
// The App struct owns the full lifecycle: New creates and connects the
// capture engine, turn orchestrator, inbox channel, and the optional
// watchers; Run supervises them with an errgroup until the context is
// cancelled; Shutdown closes everything in reverse order.
//
// For testing, inject doubles via functional options (WithSpeaker,
// WithRouter, ...). When an option is not provided, New creates the real
// implementation from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/kestrelvoice/kestrel/internal/backend"
	"github.com/kestrelvoice/kestrel/internal/bridge"
	"github.com/kestrelvoice/kestrel/internal/capture"
	"github.com/kestrelvoice/kestrel/internal/config"
	"github.com/kestrelvoice/kestrel/internal/health"
	"github.com/kestrelvoice/kestrel/internal/history"
	"github.com/kestrelvoice/kestrel/internal/inbox"
	"github.com/kestrelvoice/kestrel/internal/inject"
	"github.com/kestrelvoice/kestrel/internal/notify"
	"github.com/kestrelvoice/kestrel/internal/observe"
	"github.com/kestrelvoice/kestrel/internal/speech"
	"github.com/kestrelvoice/kestrel/internal/trigger"
	"github.com/kestrelvoice/kestrel/internal/turn"
	"github.com/kestrelvoice/kestrel/pkg/audio"
	"github.com/kestrelvoice/kestrel/pkg/provider/llm"
	"github.com/kestrelvoice/kestrel/pkg/provider/stt"
	"github.com/kestrelvoice/kestrel/pkg/provider/tts"
	"github.com/kestrelvoice/kestrel/pkg/provider/vad"
	"github.com/kestrelvoice/kestrel/pkg/provider/wake"
)

// Providers holds one value per provider slot. Nil means the provider is not
// configured; the app degrades per slot rather than refusing to start.
// Populated by main via the config registry.
type Providers struct {
	STT  stt.Provider
	TTS  tts.Provider
	LLM  llm.Provider
	VAD  vad.Detector
	Wake *wake.Detector

	// Source delivers capture blocks; Sink plays synthesized replies.
	Source audio.Source
	Sink   audio.Sink
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers

	state      *capture.State
	engine     *capture.Engine
	orch       *turn.Orchestrator
	channel    *inbox.Channel
	speaker    speech.Speaker
	router     turn.Router
	inboxRoute *backend.InboxRouter
	injector   turn.Injector
	store      *history.Store
	notifier   *notify.Watcher
	triggers   *trigger.Watcher
	events     *bridge.Server
	obs        *observe.Server

	// closers run in reverse order during Shutdown.
	closers  []func() error
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithSpeaker injects a speaker instead of building one from the TTS
// provider.
func WithSpeaker(s speech.Speaker) Option {
	return func(a *App) { a.speaker = s }
}

// WithRouter injects a transcript router instead of building one from the
// configured route.
func WithRouter(r turn.Router) Option {
	return func(a *App) { a.router = r }
}

// WithInjector injects a dictation injector instead of the clipboard one.
func WithInjector(in turn.Injector) Option {
	return func(a *App) { a.injector = in }
}

// New wires an App from cfg and providers. It is synchronous and does not
// touch the audio device; Run does that.
func New(cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	a := &App{
		cfg:       cfg,
		providers: providers,
		state:     capture.NewState(),
	}
	for _, o := range opts {
		o(a)
	}

	if providers.STT == nil {
		return nil, fmt.Errorf("app: an stt provider is required")
	}

	if err := a.initInbox(); err != nil {
		return nil, fmt.Errorf("app: init inbox: %w", err)
	}
	a.initSpeaker()
	if err := a.initRouter(); err != nil {
		return nil, fmt.Errorf("app: init router: %w", err)
	}
	if err := a.initHistory(); err != nil {
		return nil, fmt.Errorf("app: init history: %w", err)
	}
	if err := a.initBridge(); err != nil {
		return nil, fmt.Errorf("app: init bridge: %w", err)
	}
	a.initEngine()
	a.initOrchestrator()
	if err := a.initWatchers(); err != nil {
		return nil, fmt.Errorf("app: init watchers: %w", err)
	}
	if err := a.initObserve(); err != nil {
		return nil, fmt.Errorf("app: init observe: %w", err)
	}

	return a, nil
}

// Channel exposes the inbox channel, for the MCP server mode. Nil when the
// inbox is not configured.
func (a *App) Channel() *inbox.Channel {
	return a.channel
}

// History exposes the turn store, for the history CLI mode. Nil when history
// is not configured.
func (a *App) History() *history.Store {
	return a.store
}

// initInbox opens the shared inbox channel when the config names one. The
// channel is needed for the inbox route and for notifications.
func (a *App) initInbox() error {
	if a.cfg.Inbox.Path == "" {
		return nil
	}
	ch, err := inbox.New(inbox.Config{
		Path:            a.cfg.Inbox.Path,
		Sender:          a.cfg.Agent.Sender,
		Provider:        a.cfg.Agent.Provider,
		ThreadID:        a.cfg.Inbox.ThreadID,
		PollInterval:    a.cfg.Inbox.PollInterval,
		MaxMessages:     a.cfg.Inbox.MaxMessages,
		MaxAge:          a.cfg.Inbox.MaxAge,
		CleanupInterval: a.cfg.Inbox.CleanupInterval,
		CompactionWait:  a.cfg.Inbox.CompactionWait,
	})
	if err != nil {
		return err
	}
	a.channel = ch
	return nil
}

// initSpeaker builds the reply speaker. Without a TTS provider the agent
// stays functional but silent; replies still reach the inbox and history.
func (a *App) initSpeaker() {
	if a.speaker == nil {
		if a.providers.TTS == nil || a.providers.Sink == nil {
			slog.Warn("no tts provider configured, replies will not be spoken")
			a.speaker = noopSpeaker{}
		} else {
			a.speaker = speech.NewSinkSpeaker(a.providers.TTS, a.providers.Sink)
		}
	}

	// Playback must not retrigger the wake word or the VAD, so the
	// listening flag drops for the duration of every utterance.
	a.speaker = &gatedSpeaker{state: a.state, inner: a.speaker}
}

// initRouter picks the transcript route from config unless one was injected.
// With a mode file configured, both routes are built where possible and a
// dispatcher consults the file per turn.
func (a *App) initRouter() error {
	if a.router != nil {
		return nil
	}
	if a.cfg.Agent.ModeFile != "" {
		var inboxRoute, directRoute backend.Router
		if a.channel != nil {
			a.inboxRoute = backend.NewInboxRouter(a.channel,
				a.cfg.Inbox.ResponseWait, a.cfg.Inbox.FollowUpWait)
			inboxRoute = a.inboxRoute
		}
		if a.providers.LLM != nil {
			directRoute = backend.NewDirectRouter(a.providers.LLM)
		}
		router, err := backend.NewModeRouter(a.cfg.Agent.ModeFile, inboxRoute, directRoute)
		if err != nil {
			return err
		}
		a.router = router
		return nil
	}
	switch a.cfg.Agent.Route {
	case config.RouteInbox:
		if a.channel == nil {
			return fmt.Errorf("inbox route requires inbox.path")
		}
		a.inboxRoute = backend.NewInboxRouter(a.channel,
			a.cfg.Inbox.ResponseWait, a.cfg.Inbox.FollowUpWait)
		a.router = a.inboxRoute
	case config.RouteDirect:
		if a.providers.LLM == nil {
			return fmt.Errorf("direct route requires an llm provider")
		}
		a.router = backend.NewDirectRouter(a.providers.LLM)
	default:
		return fmt.Errorf("unknown route %q", a.cfg.Agent.Route)
	}
	return nil
}

func (a *App) initHistory() error {
	if a.cfg.History.Path == "" {
		return nil
	}
	store, err := history.Open(a.cfg.History.Path)
	if err != nil {
		return err
	}
	a.store = store
	a.closers = append(a.closers, store.Close)
	return nil
}

func (a *App) initBridge() error {
	if a.cfg.Bridge.ListenAddr == "" {
		return nil
	}
	srv, err := bridge.New(a.cfg.Bridge.ListenAddr,
		bridge.WithCommands(&interruptingRequests{state: a.state, speaker: a.speaker}))
	if err != nil {
		return err
	}
	a.events = srv
	return nil
}

func (a *App) initEngine() {
	// A neural detector judges follow-up speech with the same model it uses
	// while recording. The stricter follow-up threshold only applies to the
	// energy fallback, which would otherwise reopen the conversation window
	// on background noise.
	followUp := a.providers.VAD
	if _, ok := followUp.(vad.Energy); ok {
		followUp = vad.Energy{Threshold: a.cfg.VAD.FollowUpEnergyThreshold}
	}
	events := a.events
	notifyFn := func(ev capture.Event) {
		if events != nil {
			events.Publish(bridge.Event{
				Type:   string(ev.Kind),
				Source: string(ev.Source),
			})
		}
	}
	eopts := []capture.Option{capture.WithNotify(notifyFn)}
	a.engine = capture.NewEngine(a.state, a.providers.Wake, a.providers.VAD, followUp,
		capture.Config{
			SafetyValve: a.cfg.Agent.SafetyValve,
			PushToTalk:  a.cfg.Agent.PushToTalk,
		}, eopts...)
}

func (a *App) initOrchestrator() {
	oopts := []turn.Option{
		turn.WithPhrase(wake.NewPhrase(a.cfg.Wake.Phrase)),
	}
	if a.cfg.Dictation.Enabled {
		if a.injector == nil {
			a.injector = inject.New()
		}
		oopts = append(oopts, turn.WithInjector(a.injector))
	}
	if a.store != nil {
		oopts = append(oopts, turn.WithRecorder(a.store))
	}
	a.orch = turn.New(a.state, a.providers.STT, a.router, a.speaker,
		turn.Config{
			SilenceTimeout:     a.cfg.Agent.SilenceTimeout,
			MinUtterance:       a.cfg.Agent.MinUtterance,
			ConversationWindow: a.cfg.Agent.ConversationWindow,
			SampleRate:         a.cfg.Audio.SampleRate,
		}, oopts...)
}

func (a *App) initWatchers() error {
	if a.cfg.Trigger.Dir != "" {
		w, err := trigger.New(a.cfg.Trigger.Dir,
			&interruptingRequests{state: a.state, speaker: a.speaker},
			trigger.WithDebounce(a.cfg.Trigger.Debounce))
		if err != nil {
			return err
		}
		a.triggers = w
	}

	if a.cfg.Notify.Speak {
		if a.channel == nil {
			return fmt.Errorf("notify.speak requires inbox.path")
		}
		a.notifier = notify.New(a.channel, a.speaker, a.state,
			notify.WithPollInterval(a.cfg.Notify.PollInterval))
	}
	return nil
}

func (a *App) initObserve() error {
	if a.cfg.Observe.MetricsAddr == "" {
		return nil
	}
	var checkers []health.Checker
	if a.cfg.Inbox.Path != "" {
		dir := filepath.Dir(a.cfg.Inbox.Path)
		checkers = append(checkers, health.Checker{
			Name: "inbox",
			Check: func(context.Context) error {
				_, err := os.Stat(dir)
				return err
			},
		})
	}
	srv, err := observe.NewServer(a.cfg.Observe.MetricsAddr, observe.DefaultMetrics(), checkers...)
	if err != nil {
		return err
	}
	a.obs = srv
	return nil
}

// Run starts every subsystem and blocks until ctx is cancelled or one of
// them fails. A clean cancellation returns nil.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return a.engine.Run(ctx, a.providers.Source) })
	g.Go(func() error { return a.orch.Run(ctx) })

	if a.channel != nil {
		g.Go(func() error {
			a.channel.RunCleanup(ctx)
			return ctx.Err()
		})
	}
	if a.notifier != nil {
		g.Go(func() error { return a.notifier.Run(ctx) })
	}
	if a.triggers != nil {
		g.Go(func() error { return a.triggers.Run(ctx) })
	}
	if a.events != nil {
		g.Go(func() error { return a.events.Run(ctx) })
	}
	if a.obs != nil {
		g.Go(func() error { return a.obs.Run(ctx) })
	}

	slog.Info("agent running",
		"route", a.cfg.Agent.Route,
		"push_to_talk", a.cfg.Agent.PushToTalk,
		"dictation", a.cfg.Dictation.Enabled)

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// ApplyConfig applies the hot-reloadable parts of a config change to the
// running subsystems. Meant as the config watcher's onChange callback.
// Changes outside the supported set (providers, paths, audio device) are
// logged and need a restart.
func (a *App) ApplyConfig(level *slog.LevelVar) func(old, new *config.Config) {
	return func(old, new *config.Config) {
		d := config.Diff(old, new)
		if !d.Any() {
			return
		}
		if d.LogLevelChanged && level != nil {
			level.Set(slogLevel(d.NewLogLevel))
			slog.Info("log level changed", "level", d.NewLogLevel)
		}
		if d.TurnTakingChanged {
			a.orch.SetTiming(new.Agent.SilenceTimeout, new.Agent.MinUtterance,
				new.Agent.ConversationWindow)
			a.engine.SetControls(capture.Config{
				SafetyValve: new.Agent.SafetyValve,
				PushToTalk:  new.Agent.PushToTalk,
			})
			slog.Info("turn-taking settings reloaded")
		}
		if d.ThresholdsChanged {
			slog.Warn("wake/vad thresholds changed, restart to apply")
		}
		if d.NotifyChanged && a.notifier != nil {
			a.notifier.SetEnabled(new.Notify.Speak)
			slog.Info("notification speaking toggled", "on", new.Notify.Speak)
		}
		if d.ProviderChanged {
			if a.channel != nil {
				a.channel.SetProvider(d.NewProvider)
			}
			if a.inboxRoute != nil {
				a.inboxRoute.SetProviderName(backend.ProviderDisplayName(d.NewProvider))
			}
			slog.Info("assistant provider changed", "provider", d.NewProvider)
		}
	}
}

// Shutdown closes subsystem resources in reverse-init order. Run must have
// returned first.
func (a *App) Shutdown() {
	a.stopOnce.Do(func() {
		for i := len(a.closers) - 1; i >= 0; i-- {
			if err := a.closers[i](); err != nil {
				slog.Warn("closer failed", "index", i, "error", err)
			}
		}
	})
}

// slogLevel maps a config log level to a slog level.
func slogLevel(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// gatedSpeaker drops the listening flag for the duration of playback so the
// microphone does not pick the agent's own voice up as a wake phrase or a
// follow-up.
type gatedSpeaker struct {
	state *capture.State
	inner speech.Speaker

	mu     sync.Mutex
	cancel context.CancelFunc
}

func (g *gatedSpeaker) Speak(ctx context.Context, text string) error {
	ctx, cancel := context.WithCancel(ctx)
	g.mu.Lock()
	g.cancel = cancel
	g.mu.Unlock()
	defer func() {
		g.mu.Lock()
		g.cancel = nil
		g.mu.Unlock()
		cancel()
	}()

	// Restore whatever the flag was before playback: a notification spoken
	// while listening is deliberately off must not switch it back on.
	was := g.state.Listening()
	g.state.SetListening(false)
	defer g.state.SetListening(was)
	return g.inner.Speak(ctx, text)
}

// Interrupt cuts playback short. The user pressed push-to-talk or started
// dictating; whatever is being said, they want the floor.
func (g *gatedSpeaker) Interrupt() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.cancel != nil {
		g.cancel()
	}
}

// interruptingRequests forwards recording requests to the capture state and
// cuts any ongoing playback first. A push-to-talk press means the user wants
// the floor now, not after the reply finishes.
type interruptingRequests struct {
	state   *capture.State
	speaker speech.Speaker
}

func (r *interruptingRequests) interrupt() {
	if ib, ok := r.speaker.(interface{ Interrupt() }); ok {
		ib.Interrupt()
	}
}

func (r *interruptingRequests) RequestPTT()       { r.interrupt(); r.state.RequestPTT() }
func (r *interruptingRequests) RequestDictation() { r.interrupt(); r.state.RequestDictation() }
func (r *interruptingRequests) RequestStop()      { r.state.RequestStop() }

// noopSpeaker is the degraded mode when no TTS provider is configured.
type noopSpeaker struct{}

func (noopSpeaker) Speak(context.Context, string) error { return nil }
