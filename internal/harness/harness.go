package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/roach88/gamesincommon/internal/app"
	"github.com/roach88/gamesincommon/internal/command"
	"github.com/roach88/gamesincommon/internal/config"
	"github.com/roach88/gamesincommon/internal/dispatch"
	"github.com/roach88/gamesincommon/internal/lifecycle"
	"github.com/roach88/gamesincommon/internal/library"
	"github.com/roach88/gamesincommon/internal/model"
	"github.com/roach88/gamesincommon/internal/queue"
	"github.com/roach88/gamesincommon/internal/scoring"
	"github.com/roach88/gamesincommon/internal/signal"
	"github.com/roach88/gamesincommon/internal/testutil"
)

// maxDrainRounds bounds how many runner passes one run step makes, so a
// handler that keeps rescheduling cannot hang a scenario.
const maxDrainRounds = 1000

// Harness is the test execution engine.
// It runs scenarios against a fully wired App with a fake clock, a recording
// chat client and a fake game library.
type Harness struct {
	app      *app.App
	clock    *testutil.FakeClock
	recorder *dispatch.Recorder
	library  *library.Fake
	logger   *slog.Logger

	edits     int
	reactions int
}

// Options tune a run.
type Options struct {
	// Logger receives component logs. Defaults to discarding them.
	Logger *slog.Logger
}

// Run executes a test scenario and returns the result.
//
// Each scenario runs in a fresh SQLite database for isolation, starting at
// testutil.Epoch. Task ids come from a sequence generator so runs are
// reproducible.
//
// Execution flow:
// 1. Create a fresh database and wire the App
// 2. Stock the fake library
// 3. Execute setup steps
// 4. Execute flow steps with expect validation
// 5. Evaluate assertions and return the result
func Run(scenario *Scenario) (*Result, error) {
	return RunWithOptions(context.Background(), scenario, Options{})
}

// RunWithOptions is Run with a caller context and options.
func RunWithOptions(ctx context.Context, scenario *Scenario, opts Options) (*Result, error) {
	dir, err := os.MkdirTemp("", "gamesincommon-scenario-")
	if err != nil {
		return nil, fmt.Errorf("failed to create scenario dir: %w", err)
	}
	defer os.RemoveAll(dir)

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	cfg := config.Default()
	cfg.Store.Path = filepath.Join(dir, "state.db")
	cfg.Engine.Presence = scenario.Presence
	cfg.Worker.Concurrency = 1

	clk := testutil.NewFakeClock(testutil.Epoch)
	rec := dispatch.NewRecorder(clk)
	fake := stock(scenario.Library)

	a, err := app.New(ctx, cfg,
		app.WithClock(clk),
		app.WithLogger(logger),
		app.WithChat(rec),
		app.WithSource(fake),
		app.WithIDGenerator(queue.NewSequenceGenerator("task")),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to wire app: %w", err)
	}
	defer a.Close()

	h := &Harness{app: a, clock: clk, recorder: rec, library: fake, logger: logger}
	result := NewResult()

	for i, step := range scenario.Setup {
		if err := h.execute(ctx, step, result); err != nil {
			return nil, fmt.Errorf("setup step %d (%s): %w", i, step.Action, err)
		}
	}

	for i, step := range scenario.Flow {
		err := h.execute(ctx, step, result)
		h.check(ctx, i, step, err, result)
	}

	for _, msg := range h.evaluate(ctx, scenario.Assertions, result) {
		result.AddError(msg)
	}
	return result, nil
}

// stock builds the fake library from a fixture.
func stock(f LibraryFixture) *library.Fake {
	fake := library.NewFake()
	totals := map[int]int{}
	for _, g := range f.Games {
		fake.Games[g.ID] = scoring.Game{
			ID:          g.ID,
			Name:        g.Name,
			Valid:       true,
			IsGame:      true,
			Multiplayer: !g.SinglePlayer,
			Available:   !g.ComingSoon,
			Rating:      g.Rating,
			StoreURL:    fmt.Sprintf("https://store.example/app/%d", g.ID),
		}
		totals[g.ID] = g.Achievements
	}
	for account, games := range f.Owned {
		lib := scoring.Library{}
		for id, p := range games {
			lib[id] = scoring.Playtime{TotalMinutes: p.Total, RecentMinutes: p.Recent}
		}
		fake.Libraries[account] = lib

		achieved := map[int]scoring.Achievements{}
		for id := range games {
			achieved[id] = scoring.Achievements{
				Total:    totals[id],
				Unlocked: append([]string(nil), f.Unlocked[account][id]...),
			}
		}
		fake.Achieved[account] = achieved
	}
	fake.Popular = append([]int(nil), f.Popular...)
	return fake
}

// execute performs one step and appends everything it caused to the trace.
func (h *Harness) execute(ctx context.Context, step Step, result *Result) error {
	result.add(TraceEvent{Type: EventStep, At: h.offset(), Action: step.Action, Token: step.Token})

	err := h.perform(ctx, step, result)
	h.collect(result)

	h.logger.Debug("scenario step", "action", step.Action, "token", step.Token, "error", err)
	return err
}

func (h *Harness) perform(ctx context.Context, step Step, result *Result) error {
	switch step.Action {
	case ActionAdmit:
		metric := model.DefaultMetric
		if step.Sort != "" {
			metric = model.SortMetric(step.Sort)
		}
		top := step.Top
		if top == 0 {
			top = model.DefaultTopN
		}
		participants := append([]string{step.User}, step.Users...)
		_, err := h.app.AdmitDescriptor(ctx, &command.Descriptor{
			Token:        step.Token,
			Requester:    model.User{ID: step.User, Name: step.User},
			Participants: participants,
			TopN:         top,
			Metric:       metric,
		})
		return err

	case ActionAuthorize:
		_, err := h.app.Signals.Authorized(ctx, signal.Authorization{UserID: step.User, AccountID: step.Account})
		return err

	case ActionRevoke:
		return h.app.Signals.Revoke(ctx, step.User)

	case ActionPresence:
		_, err := h.app.Signals.Presence(ctx, step.Users...)
		return err

	case ActionReact:
		emoji := step.Emoji
		if emoji == "" {
			emoji = lifecycle.DeleteEmoji
		}
		// The recorder names every message after its token.
		deleted, err := h.app.Signals.Reaction(ctx, "msg-"+step.Token, step.User, emoji)
		if err != nil {
			return err
		}
		if step.Expect != nil && step.Expect.Deleted != nil && *step.Expect.Deleted != deleted {
			result.AddError(fmt.Sprintf("react %s by %s: deleted=%t, want %t", step.Token, step.User, deleted, *step.Expect.Deleted))
		}
		return nil

	case ActionScript:
		h.recorder.Script(step.Token, dispatch.Scripted{Status: step.Status, RetryAfter: step.RetryAfter})
		return nil

	case ActionLibraryError:
		if step.Message == "" {
			h.library.SetErr(nil)
		} else {
			h.library.SetErr(errors.New(step.Message))
		}
		return nil

	case ActionAdvance:
		h.clock.Advance(step.Duration)
		return h.drain(ctx)

	case ActionRun:
		return h.drain(ctx)

	default:
		return fmt.Errorf("unknown action %q", step.Action)
	}
}

// drain runs due tasks until none are left.
func (h *Harness) drain(ctx context.Context) error {
	for i := 0; i < maxDrainRounds; i++ {
		n, err := h.app.Runner.RunOnce(ctx)
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
	}
	return fmt.Errorf("tasks still due after %d rounds", maxDrainRounds)
}

// collect appends edits and reactions recorded since the last call.
func (h *Harness) collect(result *Result) {
	edits := h.recorder.Edits()
	for _, e := range edits[h.edits:] {
		result.add(TraceEvent{
			Type:   EventEdit,
			At:     e.At.Sub(testutil.Epoch).String(),
			Token:  e.Token,
			Title:  title(e.Message),
			Status: e.Status,
		})
	}
	h.edits = len(edits)

	reactions := h.recorder.Reactions()
	for _, r := range reactions[h.reactions:] {
		result.add(TraceEvent{
			Type:  EventReaction,
			At:    h.offset(),
			Token: strings.TrimPrefix(r.MessageID, "msg-"),
			Op:    r.Op,
			Emoji: r.Emoji,
		})
	}
	h.reactions = len(reactions)
}

// check validates a flow step's expect clause.
func (h *Harness) check(ctx context.Context, index int, step Step, err error, result *Result) {
	expect := step.Expect
	if expect == nil || expect.Error == "" {
		if err != nil {
			result.AddError(fmt.Sprintf("flow[%d] %s: unexpected error: %v", index, step.Action, err))
		}
	} else {
		switch {
		case err == nil:
			result.AddError(fmt.Sprintf("flow[%d] %s: expected error containing %q, got none", index, step.Action, expect.Error))
		case !strings.Contains(err.Error(), expect.Error):
			result.AddError(fmt.Sprintf("flow[%d] %s: expected error containing %q, got %v", index, step.Action, expect.Error, err))
		}
	}

	if expect == nil || expect.Title == "" {
		return
	}
	token := expect.Token
	if token == "" {
		token = step.Token
	}
	if got := title(h.recorder.Last(token)); got != expect.Title {
		result.AddError(fmt.Sprintf("flow[%d] %s: %s shows %q, want %q", index, step.Action, token, got, expect.Title))
	}
}

// offset is the fake time elapsed since the scenario started.
func (h *Harness) offset() string {
	return h.clock.Now().Sub(testutil.Epoch).String()
}

// title names a message by its first embed, or its content when it has none.
func title(msg *model.Message) string {
	if msg == nil {
		return ""
	}
	if len(msg.Embeds) > 0 {
		return msg.Embeds[0].Title
	}
	return msg.Content
}
