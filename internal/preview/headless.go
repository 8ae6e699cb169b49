package preview

import (
	"context"
	"time"

	"github.com/conneroisu/fxlab/internal/config"
	"github.com/conneroisu/fxlab/internal/console"
	"github.com/conneroisu/fxlab/internal/logging"
	"github.com/conneroisu/fxlab/internal/registry"
	"github.com/conneroisu/fxlab/internal/sandbox"
)

// Step is one simulated interaction applied after the document loads: an
// event dispatched at the first element matching Selector, or, with no
// Selector, Wait of virtual time passing.
type Step struct {
	Selector string        `json:"selector,omitempty"`
	Event    string        `json:"event,omitempty"`
	Wait     time.Duration `json:"wait,omitempty"`
}

// Result is what a headless run of an editor document produced.
type Result struct {
	Generation uint64          `json:"generation"`
	Entries    []console.Entry `json:"entries"`
	Visible    bool            `json:"visible"`
	// Native is the frame's own console: forwarded console calls and any
	// error no handler claimed.
	Native []console.Entry `json:"native"`
	Body   string          `json:"body"`
}

// SandboxConfig derives headless execution limits from the preview
// configuration.
func SandboxConfig(cfg config.PreviewConfig, logger logging.Logger) sandbox.Config {
	sc := sandbox.DefaultConfig()
	if cfg.RunTimeout > 0 {
		sc.Timeout = cfg.RunTimeout
	}
	if cfg.TimerHorizon > 0 {
		sc.TimerHorizon = cfg.TimerHorizon
	}
	if cfg.MaxTasks > 0 {
		sc.MaxTasks = cfg.MaxTasks
	}
	sc.Logger = logger
	return sc
}

// RunHeadless opens a session for effect, loads its editor document into a
// headless frame, applies steps in order and returns the console. A step
// that fails stops the run; the result so far is returned with the error.
func RunHeadless(ctx context.Context, effect registry.Effect, cfg sandbox.Config, steps ...Step) (Result, error) {
	editor, err := NewEditor(ctx, effect, WithDebounce(0), WithLogger(cfg.Logger), WithClock(cfg.Now))
	if err != nil {
		return Result{}, err
	}
	defer editor.Close()

	frame := NewFrame(editor, cfg)
	defer frame.Close()

	doc, gen := editor.Document()
	runErr := frame.Mount(ctx, gen, doc)
	for _, step := range steps {
		if runErr != nil {
			break
		}
		if step.Selector == "" {
			runErr = frame.Advance(ctx, step.Wait)
			continue
		}
		event := step.Event
		if event == "" {
			event = "click"
		}
		runErr = frame.Dispatch(ctx, step.Selector, event)
	}

	entries, visible := editor.Console()
	res := Result{Generation: gen, Entries: entries, Visible: visible}
	if sc := frame.Context(); sc != nil {
		res.Native = sc.Output()
		res.Body = sc.BodyHTML()
	}
	return res, runErr
}
