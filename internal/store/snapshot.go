package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"

	"github.com/roach88/vmsync/internal/ir"
)

// ErrNotFound is returned when a session or snapshot does not exist.
var ErrNotFound = errors.New("store: not found")

// SessionIDGenerator produces ids for new journal sessions.
type SessionIDGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable session ids.
//
// Thread-safety: stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// Generate returns a new hyphenated UUIDv7. Panics if the system random
// source fails.
func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// Session is one journaled container.
type Session struct {
	ID       string `json:"id"`
	RootType string `json:"root_type"`
}

// Snapshot is one journaled state.
type Snapshot struct {
	SessionID string
	Seq       int64
	CID       string
	TypeID    string
	Body      []byte // canonical JSON
}

// Node decodes the snapshot body after checking it against its CID.
func (s Snapshot) Node() (ir.Node, error) {
	got, err := SnapshotCID(s.Body)
	if err != nil {
		return nil, err
	}
	if got != s.CID {
		return nil, fmt.Errorf("snapshot %s/%d: body does not match cid %s", s.SessionID, s.Seq, s.CID)
	}
	return ir.DecodeJSON(s.Body)
}

// SnapshotCID returns the CIDv1 (raw codec, sha2-256) of a canonical body.
func SnapshotCID(body []byte) (string, error) {
	sum, err := multihash.Sum(body, multihash.SHA2_256, -1)
	if err != nil {
		return "", fmt.Errorf("multihash: %w", err)
	}
	return cid.NewCidV1(cid.Raw, sum).String(), nil
}

// CreateSession inserts a session row. Re-creating an existing id is ignored.
func (s *Store) CreateSession(ctx context.Context, sess Session) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, root_type)
		VALUES (?, ?)
		ON CONFLICT(id) DO NOTHING
	`, sess.ID, sess.RootType)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// GetSession returns the session with id, or ErrNotFound.
func (s *Store) GetSession(ctx context.Context, id string) (Session, error) {
	var sess Session
	err := s.db.QueryRowContext(ctx, `
		SELECT id, root_type FROM sessions WHERE id = ?
	`, id).Scan(&sess.ID, &sess.RootType)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Session{}, fmt.Errorf("get session: %w", err)
	}
	return sess, nil
}

// ListSessions returns every session ordered by id.
// Returns an empty slice (not nil) when there are none.
func (s *Store) ListSessions(ctx context.Context) ([]Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, root_type FROM sessions
		ORDER BY id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	sessions := []Session{}
	for rows.Next() {
		var sess Session
		if err := rows.Scan(&sess.ID, &sess.RootType); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return sessions, nil
}

// WriteSnapshot journals snapshot as canonical JSON under (sessionID, seq).
// Uses ON CONFLICT DO NOTHING: a replayed write is silently ignored.
func (s *Store) WriteSnapshot(ctx context.Context, sessionID string, seq int64, snapshot ir.Node) error {
	body, err := ir.MarshalCanonical(snapshot)
	if err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	id, err := SnapshotCID(body)
	if err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	typeID := ""
	if obj, ok := snapshot.(*ir.Object); ok {
		typeID = obj.TypeID()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO snapshots (session_id, seq, cid, type_id, body)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(session_id, seq) DO NOTHING
	`, sessionID, seq, id, typeID, body)
	if err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	return nil
}

const snapshotColumns = `session_id, seq, cid, type_id, body`

// ReadSnapshots returns a session's snapshots ordered by seq.
// Returns an empty slice (not nil) when there are none.
func (s *Store) ReadSnapshots(ctx context.Context, sessionID string) ([]Snapshot, error) {
	return s.querySnapshots(ctx, `
		SELECT `+snapshotColumns+` FROM snapshots
		WHERE session_id = ?
		ORDER BY seq ASC
	`, sessionID)
}

// SnapshotsByCID returns every snapshot with the given content address,
// ordered by session and seq.
func (s *Store) SnapshotsByCID(ctx context.Context, id string) ([]Snapshot, error) {
	return s.querySnapshots(ctx, `
		SELECT `+snapshotColumns+` FROM snapshots
		WHERE cid = ?
		ORDER BY session_id COLLATE BINARY ASC, seq ASC
	`, id)
}

// LatestSnapshot returns the highest-seq snapshot of a session, or ErrNotFound.
func (s *Store) LatestSnapshot(ctx context.Context, sessionID string) (Snapshot, error) {
	snaps, err := s.querySnapshots(ctx, `
		SELECT `+snapshotColumns+` FROM snapshots
		WHERE session_id = ?
		ORDER BY seq DESC
		LIMIT 1
	`, sessionID)
	if err != nil {
		return Snapshot{}, err
	}
	if len(snaps) == 0 {
		return Snapshot{}, fmt.Errorf("latest snapshot of %s: %w", sessionID, ErrNotFound)
	}
	return snaps[0], nil
}

func (s *Store) querySnapshots(ctx context.Context, query string, args ...any) ([]Snapshot, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query snapshots: %w", err)
	}
	defer rows.Close()

	snaps := []Snapshot{}
	for rows.Next() {
		var snap Snapshot
		if err := rows.Scan(&snap.SessionID, &snap.Seq, &snap.CID, &snap.TypeID, &snap.Body); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		snaps = append(snaps, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshots: %w", err)
	}
	return snaps, nil
}
