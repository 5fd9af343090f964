package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/vmsync/internal/coerce"
	"github.com/roach88/vmsync/internal/ir"
	"github.com/roach88/vmsync/internal/mirror"
	"github.com/roach88/vmsync/internal/state"
	"github.com/roach88/vmsync/internal/store"
)

// ApplyOptions holds flags for the apply command.
type ApplyOptions struct {
	*RootOptions
	typedInput
	Initial  string
	Sets     []string
	Database string
	Session  string

	// SessionGenerator overrides the journal session id generator (for testing).
	// If nil, defaults to store.UUIDv7Generator.
	SessionGenerator store.SessionIDGenerator
}

// ApplyResult is the outcome of an apply run.
type ApplyResult struct {
	SessionID string          `json:"session_id,omitempty"`
	Seq       int64           `json:"seq"`
	Steps     int             `json:"steps"`
	Flushes   int             `json:"flushes"`
	State     json.RawMessage `json:"state"`
}

// NewApplyCommand creates the apply command.
func NewApplyCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ApplyOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "apply [patch.json...]",
		Short: "Drive a state container through a sequence of transitions",
		Long: `Create a state container and its mirror, then apply each patch file
(deep-merged into the snapshot) and each --set assignment (written through
the mirror observable at that path), in order, on the container's event
loop. Patches within a frame are coalesced into one flush; an assignment
first flushes pending changes so the mirror can resolve its path.

With --db every accepted transition is journaled. --session resumes a
journaled session from its latest snapshot.

Example:
  vmsync apply --types types.yaml --type Root --initial state.json patch1.json
  vmsync apply --types types.yaml --type Root --initial state.json --set Title='"renamed"'
  vmsync apply --db ./vmsync.db --session 0190a6f2-... --types types.yaml --type Root patch.json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApply(opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Config, "config", "", "config file (frame_interval, db_path, types)")
	cmd.Flags().StringVar(&opts.Types, "types", "", "descriptor file or directory (defaults to the config's types)")
	cmd.Flags().StringVar(&opts.Type, "type", "", "root type reference (required)")
	cmd.Flags().StringVar(&opts.Initial, "initial", "", "initial state (required unless resuming)")
	cmd.Flags().StringArrayVar(&opts.Sets, "set", nil, "assignment path=json applied after the patches, e.g. Items/0/Qty=3")
	cmd.Flags().StringVar(&opts.Database, "db", "", "journal transitions to this SQLite database")
	cmd.Flags().StringVar(&opts.Session, "session", "", "resume this journaled session")
	_ = cmd.MarkFlagRequired("type")

	return cmd
}

// step is one transition, run on the loop.
type step struct {
	name string
	run  func(c *state.Container, m *mirror.Mirror) error
}

func runApply(opts *ApplyOptions, patches []string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	cfg, err := loadConfig(formatter, opts.Config)
	if err != nil {
		return err
	}
	reg, t, err := opts.resolve(formatter, cfg)
	if err != nil {
		return err
	}

	steps, err := parseSteps(formatter, patches, opts.Sets)
	if err != nil {
		return err
	}

	var initial ir.Node
	if opts.Initial != "" {
		if initial, err = readNode(formatter, opts.Initial); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var containerOpts []state.Option
	var sessionID string
	dbPath := opts.Database
	if dbPath == "" {
		dbPath = cfg.DBPath
	}
	if opts.Session != "" && dbPath == "" {
		return formatter.Fail(ExitCommandError, ErrCodeNotFound, "--session needs a journal: pass --db or set db_path", nil)
	}
	if dbPath != "" {
		st, err := store.Open(dbPath)
		if err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeStore, "cannot open journal", err)
		}
		defer func() {
			if closeErr := st.Close(); closeErr != nil {
				slog.Error("error closing journal", "error", closeErr)
			}
		}()

		var journal *store.Journal
		if opts.Session != "" {
			var last int64
			var latest ir.Node
			journal, last, latest, err = store.ResumeJournal(ctx, st, opts.Session)
			if errors.Is(err, store.ErrNotFound) {
				return formatter.Fail(ExitCommandError, ErrCodeNotFound, "session not found", err)
			}
			if err != nil {
				return formatter.Fail(ExitCommandError, ErrCodeStore, "cannot resume session", err)
			}
			if initial == nil {
				initial = latest
			}
			containerOpts = append(containerOpts, state.WithClock(state.NewClockAt(last)))
		} else {
			gen := opts.SessionGenerator
			if gen == nil {
				gen = store.UUIDv7Generator{}
			}
			journal, err = store.NewJournal(ctx, st, t, gen)
			if err != nil {
				return formatter.Fail(ExitCommandError, ErrCodeStore, "cannot start session", err)
			}
		}
		sessionID = journal.SessionID()
		containerOpts = append(containerOpts, state.WithJournal(journal))
		formatter.VerboseLog("journaling to %s, session %s", dbPath, sessionID)
	}
	if initial == nil {
		return formatter.Fail(ExitCommandError, ErrCodeNotFound, "no initial state: pass --initial or resume a session with snapshots", nil)
	}

	loop := state.NewLoop()
	sched := state.NewLoopScheduler(loop, cfg.FrameInterval)
	c, err := state.New(coerce.New(reg), t, initial, sched, containerOpts...)
	if err != nil {
		return formatter.Fail(ExitFailure, ErrCodeCoercion, "initial state does not fit "+t.String(), err)
	}
	m := mirror.New(c)

	flushes := 0
	c.OnStateUpdate(func(ir.Node) { flushes++ })

	var stepErr error
	for _, s := range steps {
		loop.Post(func() {
			if stepErr != nil {
				return
			}
			if err := s.run(c, m); err != nil {
				stepErr = fmt.Errorf("%s: %w", s.name, err)
				return
			}
			slog.Debug("step applied", "step", s.name, "seq", c.Seq())
		})
	}
	loop.Post(func() {
		if c.IsDirty() {
			c.DoUpdateNow()
		}
		loop.Stop()
	})
	if err := loop.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return formatter.Fail(ExitCommandError, ErrCodeGeneric, "event loop failed", err)
	}
	if ctx.Err() != nil {
		return formatter.Fail(ExitCommandError, ErrCodeGeneric, "interrupted", ctx.Err())
	}
	if stepErr != nil {
		if coerce.IsCoercionError(stepErr) {
			return formatter.Fail(ExitFailure, ErrCodeCoercion, "transition rejected", stepErr)
		}
		return formatter.Fail(ExitFailure, ErrCodeGeneric, "transition failed", stepErr)
	}

	body, err := ir.MarshalCanonical(c.State())
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeGeneric, "cannot encode result", err)
	}
	result := ApplyResult{SessionID: sessionID, Seq: c.Seq(), Steps: len(steps), Flushes: flushes, State: body}

	if opts.Format == "json" {
		return formatter.Success(result)
	}
	fmt.Fprintln(formatter.Writer, string(body))
	if sessionID != "" {
		fmt.Fprintf(formatter.Writer, "session %s at seq %d\n", sessionID, result.Seq)
	}
	fmt.Fprintf(formatter.Writer, "%d step(s), %d flush(es)\n", result.Steps, result.Flushes)
	return nil
}

// parseSteps reads patch files and --set assignments, in that order.
func parseSteps(f *OutputFormatter, patches, sets []string) ([]step, error) {
	var steps []step
	for _, p := range patches {
		n, err := readNode(f, p)
		if err != nil {
			return nil, err
		}
		steps = append(steps, step{
			name: "patch " + p,
			run: func(c *state.Container, _ *mirror.Mirror) error {
				return c.PatchState(n)
			},
		})
	}
	for _, s := range sets {
		rawPath, rawValue, ok := strings.Cut(s, "=")
		if !ok {
			return nil, f.Fail(ExitCommandError, ErrCodeReadFailed, fmt.Sprintf("--set %q: want path=json", s), nil)
		}
		path, err := ir.ParsePath(rawPath)
		if err != nil {
			return nil, f.Fail(ExitCommandError, ErrCodeReadFailed, fmt.Sprintf("--set %q: bad path", s), err)
		}
		value, err := ir.DecodeJSON([]byte(rawValue))
		if err != nil {
			return nil, f.Fail(ExitCommandError, ErrCodeReadFailed, fmt.Sprintf("--set %q: value is not JSON", s), err)
		}
		steps = append(steps, step{
			name: "set " + path.String(),
			run: func(c *state.Container, m *mirror.Mirror) error {
				// The mirror must reflect earlier steps before it is navigated.
				if c.IsDirty() {
					c.DoUpdateNow()
				}
				o := m.Lookup(path)
				if o == nil {
					return fmt.Errorf("no observable at %s", path)
				}
				return o.Set(value)
			},
		})
	}
	return steps, nil
}
