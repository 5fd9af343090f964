package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/vmsync/internal/coerce"
	"github.com/roach88/vmsync/internal/ir"
	"github.com/roach88/vmsync/internal/state"
	"github.com/roach88/vmsync/internal/testutil"
)

// createTestStore opens a fresh store in a temp dir.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	for i := 0; i < 3; i++ {
		s, err := Open(path)
		if err != nil {
			t.Fatalf("Open() iteration %d failed: %v", i, err)
		}
		s.Close()
	}
}

func TestOpen_Pragmas(t *testing.T) {
	s := createTestStore(t)
	require.NoError(t, s.verifyPragma("journal_mode", "wal"))
	require.NoError(t, s.verifyPragma("foreign_keys", "1"))
	require.NoError(t, s.verifyPragma("user_version", "1"))

	var name string
	err := s.db.QueryRow(`SELECT name FROM sqlite_master WHERE type = 'index' AND name = 'idx_snapshots_cid'`).Scan(&name)
	require.NoError(t, err)
}

func TestOpen_MigratesVersionZeroJournal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	require.NoError(t, err)
	_, err = s.db.Exec(`DROP INDEX idx_snapshots_cid`)
	require.NoError(t, err)
	_, err = s.db.Exec(`PRAGMA user_version = 0`)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.verifyPragma("user_version", "1"))

	var name string
	err = s.db.QueryRow(`SELECT name FROM sqlite_master WHERE type = 'index' AND name = 'idx_snapshots_cid'`).Scan(&name)
	require.NoError(t, err)
	assert.Equal(t, "idx_snapshots_cid", name)
}

func TestWriteSnapshot_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	require.NoError(t, s.CreateSession(ctx, Session{ID: "s1", RootType: testutil.RootType}))

	root := testutil.Root("title", testutil.Item("a", 1))
	require.NoError(t, s.WriteSnapshot(ctx, "s1", 1, root))

	snaps, err := s.ReadSnapshots(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, testutil.RootType, snaps[0].TypeID)
	assert.Equal(t, int64(1), snaps[0].Seq)

	want, err := ir.MarshalCanonical(root)
	require.NoError(t, err)
	assert.Equal(t, string(want), string(snaps[0].Body))

	n, err := snaps[0].Node()
	require.NoError(t, err)
	assert.Equal(t, testutil.RootType, n.(*ir.Object).TypeID())
	title, _ := n.(*ir.Object).Get("Title")
	assert.Equal(t, ir.String("title"), title)
}

func TestWriteSnapshot_Idempotent(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	require.NoError(t, s.CreateSession(ctx, Session{ID: "s1", RootType: testutil.RootType}))

	require.NoError(t, s.WriteSnapshot(ctx, "s1", 1, testutil.Root("first")))
	require.NoError(t, s.WriteSnapshot(ctx, "s1", 1, testutil.Root("second")))

	snaps, err := s.ReadSnapshots(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	n, err := snaps[0].Node()
	require.NoError(t, err)
	title, _ := n.(*ir.Object).Get("Title")
	assert.Equal(t, ir.String("first"), title, "the first write wins")
}

func TestWriteSnapshot_RequiresSession(t *testing.T) {
	s := createTestStore(t)
	err := s.WriteSnapshot(context.Background(), "missing", 1, testutil.Root("t"))
	assert.Error(t, err, "foreign key enforced")
}

func TestSnapshotCID_ContentAddressed(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	require.NoError(t, s.CreateSession(ctx, Session{ID: "a", RootType: testutil.RootType}))
	require.NoError(t, s.CreateSession(ctx, Session{ID: "b", RootType: testutil.RootType}))

	require.NoError(t, s.WriteSnapshot(ctx, "a", 1, testutil.Root("same")))
	require.NoError(t, s.WriteSnapshot(ctx, "b", 7, testutil.Root("same")))
	require.NoError(t, s.WriteSnapshot(ctx, "b", 8, testutil.Root("other")))

	latest, err := s.LatestSnapshot(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, int64(8), latest.Seq)

	first, err := s.ReadSnapshots(ctx, "a")
	require.NoError(t, err)
	assert.Regexp(t, `^baf`, first[0].CID, "CIDv1 base32")

	matches, err := s.SnapshotsByCID(ctx, first[0].CID)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "a", matches[0].SessionID)
	assert.Equal(t, "b", matches[1].SessionID)
	assert.Equal(t, int64(7), matches[1].Seq)
}

func TestSnapshot_NodeDetectsCorruption(t *testing.T) {
	body, err := ir.MarshalCanonical(testutil.Root("t"))
	require.NoError(t, err)
	id, err := SnapshotCID(body)
	require.NoError(t, err)

	snap := Snapshot{SessionID: "s", Seq: 1, CID: id, Body: []byte(`{"$type":"Root","Title":"x"}`)}
	_, err = snap.Node()
	assert.Error(t, err)
}

func TestReads_EmptyAndMissing(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)

	sessions, err := s.ListSessions(ctx)
	require.NoError(t, err)
	assert.NotNil(t, sessions)
	assert.Empty(t, sessions)

	snaps, err := s.ReadSnapshots(ctx, "none")
	require.NoError(t, err)
	assert.NotNil(t, snaps)

	_, err = s.LatestSnapshot(ctx, "none")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetSession(ctx, "none")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestJournal_RecordsContainerHistory(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	rootType := ir.ObjectOf(testutil.RootType)

	j, err := NewJournal(ctx, s, rootType, testutil.NewSequentialSessionGenerator())
	require.NoError(t, err)
	assert.Equal(t, "session-1", j.SessionID())

	c, err := state.New(coerce.New(testutil.Types()), rootType, testutil.Root("one"), state.NewManualScheduler(), state.WithJournal(j))
	require.NoError(t, err)
	require.NoError(t, c.SetState(testutil.Root("two")))
	require.NoError(t, c.SetState(c.State()))
	require.NoError(t, c.SetState(testutil.Root("three")))

	snaps, err := s.ReadSnapshots(ctx, "session-1")
	require.NoError(t, err)
	require.Len(t, snaps, 3)
	for i, snap := range snaps {
		assert.Equal(t, int64(i+1), snap.Seq)
	}

	sessions, err := s.ListSessions(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, testutil.RootType, sessions[0].RootType)

	resumed, last, latest, err := ResumeJournal(ctx, s, "session-1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), last)
	title, _ := latest.(*ir.Object).Get("Title")
	assert.Equal(t, ir.String("three"), title)

	c2, err := state.New(coerce.New(testutil.Types()), rootType, latest, state.NewManualScheduler(),
		state.WithJournal(resumed), state.WithClock(state.NewClockAt(last)))
	require.NoError(t, err)
	require.NoError(t, c2.SetState(testutil.Root("four")))

	snaps, err = s.ReadSnapshots(ctx, "session-1")
	require.NoError(t, err)
	assert.Len(t, snaps, 5, "resume records its initial state and continues the sequence")
	assert.Equal(t, int64(5), snaps[4].Seq)
}

func TestUUIDv7Generator(t *testing.T) {
	g := UUIDv7Generator{}
	a, b := g.Generate(), g.Generate()
	assert.Len(t, a, 36)
	assert.NotEqual(t, a, b)
	assert.Equal(t, "7", a[14:15], "version nibble")
}
