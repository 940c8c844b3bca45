// Package inject types dictated text into the focused application. Typing
// goes through the clipboard: save what is there, place the text, send the
// platform paste chord, restore the old contents. Pasting is atomic from the
// application's point of view and orders of magnitude faster than emitting
// per-character key events.
package inject

import (
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"github.com/atotto/clipboard"
	"github.com/micmonay/keybd_event"
)

// DefaultRestoreDelay is how long the text stays on the clipboard before the
// previous contents are restored. The paste chord is asynchronous; restoring
// immediately races the target application's read.
const DefaultRestoreDelay = 300 * time.Millisecond

// board abstracts the system clipboard for tests.
type board interface {
	Read() (string, error)
	Write(text string) error
}

// paster abstracts the paste keystroke for tests.
type paster interface {
	Paste() error
}

type systemBoard struct{}

func (systemBoard) Read() (string, error) { return clipboard.ReadAll() }
func (systemBoard) Write(text string) error { return clipboard.WriteAll(text) }

type systemPaster struct{}

func (systemPaster) Paste() error {
	kb, err := keybd_event.NewKeyBonding()
	if err != nil {
		return fmt.Errorf("key bonding: %w", err)
	}
	kb.SetKeys(keybd_event.VK_V)
	if runtime.GOOS == "darwin" {
		kb.HasSuper(true)
	} else {
		kb.HasCTRL(true)
	}
	if err := kb.Launching(); err != nil {
		return fmt.Errorf("paste chord: %w", err)
	}
	return nil
}

// Injector places dictated text at the cursor of the focused application.
type Injector struct {
	board        board
	paster       paster
	restoreDelay time.Duration
	log          *slog.Logger
}

// Option configures an Injector.
type Option func(*Injector)

// WithRestoreDelay overrides the clipboard restore delay.
func WithRestoreDelay(d time.Duration) Option {
	return func(i *Injector) {
		if d > 0 {
			i.restoreDelay = d
		}
	}
}

// WithLogger overrides the default logger.
func WithLogger(log *slog.Logger) Option {
	return func(i *Injector) { i.log = log }
}

// withBoard and withPaster swap the system implementations in tests.
func withBoard(b board) Option {
	return func(i *Injector) { i.board = b }
}

func withPaster(p paster) Option {
	return func(i *Injector) { i.paster = p }
}

// New returns an Injector using the system clipboard and keyboard.
func New(opts ...Option) *Injector {
	i := &Injector{
		board:        systemBoard{},
		paster:       systemPaster{},
		restoreDelay: DefaultRestoreDelay,
		log:          slog.Default(),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Inject types text at the cursor. The previous clipboard contents are
// restored afterwards; if reading them failed the restore is skipped rather
// than clobbering the clipboard with an empty string.
func (i *Injector) Inject(text string) error {
	if text == "" {
		return nil
	}

	previous, prevErr := i.board.Read()
	if prevErr != nil {
		i.log.Warn("reading clipboard failed, skipping restore", "error", prevErr)
	}

	if err := i.board.Write(text); err != nil {
		return fmt.Errorf("place text on clipboard: %w", err)
	}
	if err := i.paster.Paste(); err != nil {
		return fmt.Errorf("send paste: %w", err)
	}

	time.Sleep(i.restoreDelay)
	if prevErr == nil {
		if err := i.board.Write(previous); err != nil {
			i.log.Warn("restoring clipboard failed", "error", err)
		}
	}
	i.log.Debug("dictation injected", "chars", len(text))
	return nil
}
