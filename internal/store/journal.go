package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/vmsync/internal/ir"
)

// Journal records one container session into a Store.
// It satisfies state.Journal.
type Journal struct {
	store     *Store
	sessionID string
}

// NewJournal starts a new session for a container of rootType.
func NewJournal(ctx context.Context, s *Store, rootType ir.TypeRef, gen SessionIDGenerator) (*Journal, error) {
	sess := Session{ID: gen.Generate(), RootType: rootType.String()}
	if err := s.CreateSession(ctx, sess); err != nil {
		return nil, err
	}
	return &Journal{store: s, sessionID: sess.ID}, nil
}

// ResumeJournal reopens an existing session. It returns the session's last
// seq (0 when it has no snapshots) so the container clock can continue
// after it, and the latest snapshot if any.
func ResumeJournal(ctx context.Context, s *Store, sessionID string) (*Journal, int64, ir.Node, error) {
	if _, err := s.GetSession(ctx, sessionID); err != nil {
		return nil, 0, nil, err
	}
	j := &Journal{store: s, sessionID: sessionID}

	latest, err := s.LatestSnapshot(ctx, sessionID)
	if errors.Is(err, ErrNotFound) {
		return j, 0, nil, nil
	}
	if err != nil {
		return nil, 0, nil, err
	}
	n, err := latest.Node()
	if err != nil {
		return nil, 0, nil, fmt.Errorf("resume %s: %w", sessionID, err)
	}
	return j, latest.Seq, n, nil
}

// SessionID returns the id of the journaled session.
func (j *Journal) SessionID() string {
	return j.sessionID
}

// Record writes snapshot under seq.
func (j *Journal) Record(seq int64, snapshot ir.Node) error {
	return j.store.WriteSnapshot(context.Background(), j.sessionID, seq, snapshot)
}
