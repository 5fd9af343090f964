package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/roach88/vmsync/internal/store"
)

// HistoryOptions holds flags for the history command.
type HistoryOptions struct {
	*RootOptions
	Config   string
	Database string
	Session  string
	CID      string
	Bodies   bool
}

// SnapshotEntry is one row of history output.
type SnapshotEntry struct {
	SessionID string          `json:"session_id"`
	Seq       int64           `json:"seq"`
	CID       string          `json:"cid"`
	TypeID    string          `json:"type_id,omitempty"`
	Body      json.RawMessage `json:"body,omitempty"`
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List journaled sessions and snapshots",
		Long: `Inspect the snapshot journal.

Without --session, lists every journaled session. With --session, lists its
snapshots in sequence order. With --cid, lists every snapshot with that
content address across sessions.

Example:
  vmsync history --db ./vmsync.db
  vmsync history --db ./vmsync.db --session 0190a6f2-... --bodies`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Config, "config", "", "config file (for db_path)")
	cmd.Flags().StringVar(&opts.Database, "db", "", "path to the SQLite journal (defaults to the config's db_path)")
	cmd.Flags().StringVar(&opts.Session, "session", "", "session id")
	cmd.Flags().StringVar(&opts.CID, "cid", "", "snapshot content address")
	cmd.Flags().BoolVar(&opts.Bodies, "bodies", false, "include snapshot bodies")
	cmd.MarkFlagsMutuallyExclusive("session", "cid")

	return cmd
}

func runHistory(opts *HistoryOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)
	ctx := cmd.Context()

	dbPath := opts.Database
	if dbPath == "" {
		cfg, err := loadConfig(formatter, opts.Config)
		if err != nil {
			return err
		}
		dbPath = cfg.DBPath
	}
	if dbPath == "" {
		return formatter.Fail(ExitCommandError, ErrCodeNotFound, "no journal: pass --db or set db_path", nil)
	}
	// Open would create an empty journal; history only reads existing ones.
	if _, err := os.Stat(dbPath); err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeNotFound, "journal not found", err)
	}
	st, err := store.Open(dbPath)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeStore, "cannot open journal", err)
	}
	defer st.Close()

	if opts.Session == "" && opts.CID == "" {
		sessions, err := st.ListSessions(ctx)
		if err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeStore, "cannot list sessions", err)
		}
		if opts.Format == "json" {
			return formatter.Success(sessions)
		}
		tw := tabwriter.NewWriter(formatter.Writer, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "SESSION\tROOT TYPE")
		for _, s := range sessions {
			fmt.Fprintf(tw, "%s\t%s\n", s.ID, s.RootType)
		}
		return tw.Flush()
	}

	var snaps []store.Snapshot
	if opts.Session != "" {
		if _, err := st.GetSession(ctx, opts.Session); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return formatter.Fail(ExitCommandError, ErrCodeNotFound, "session not found", err)
			}
			return formatter.Fail(ExitCommandError, ErrCodeStore, "cannot read session", err)
		}
		snaps, err = st.ReadSnapshots(ctx, opts.Session)
	} else {
		snaps, err = st.SnapshotsByCID(ctx, opts.CID)
	}
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeStore, "cannot read snapshots", err)
	}

	entries := make([]SnapshotEntry, 0, len(snaps))
	for _, s := range snaps {
		e := SnapshotEntry{SessionID: s.SessionID, Seq: s.Seq, CID: s.CID, TypeID: s.TypeID}
		if opts.Bodies {
			if _, err := s.Node(); err != nil {
				return formatter.Fail(ExitFailure, ErrCodeStore, "corrupt snapshot", err)
			}
			e.Body = s.Body
		}
		entries = append(entries, e)
	}

	if opts.Format == "json" {
		return formatter.Success(entries)
	}
	tw := tabwriter.NewWriter(formatter.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SESSION\tSEQ\tCID\tTYPE")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", e.SessionID, e.Seq, e.CID, e.TypeID)
		if opts.Bodies {
			fmt.Fprintf(tw, "\t\t%s\n", e.Body)
		}
	}
	return tw.Flush()
}
