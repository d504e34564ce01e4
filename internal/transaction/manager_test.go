package transaction

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yashagw/cranekv/internal/log"
	"github.com/yashagw/cranekv/internal/redo"
	"github.com/yashagw/cranekv/internal/storage"
)

// testEnv wires a transaction manager to in-memory log and storage layers
// that outlive it, so a test can kill the manager and start a new one.
type testEnv struct {
	t        *testing.T
	strategy string
	lm       *log.Manager
	sm       *storage.Manager
	tm       *Manager
}

func newTestEnv(t *testing.T, strategy string) *testEnv {
	t.Helper()
	env := &testEnv{
		t:        t,
		strategy: strategy,
		lm:       log.NewManager(log.Options{Capacity: 1 << 24}),
		sm:       storage.NewManager(nil),
	}
	env.start()
	return env
}

func (env *testEnv) start() redo.RecoveryStats {
	env.t.Helper()
	env.tm = NewManager(Options{Strategy: env.strategy})
	env.sm.SetPersistFunc(env.tm.WritePersisted)
	stats, err := env.tm.InitAndRecover(env.sm, env.lm)
	require.NoError(env.t, err)
	return stats
}

// restart simulates a process crash: queued storage writes are lost, the log
// keeps what was appended and a fresh manager recovers from both.
func (env *testEnv) restart() redo.RecoveryStats {
	env.t.Helper()
	env.sm.Crash()
	env.lm.Resume()
	return env.start()
}

func (env *testEnv) commit(txID int64, kvs map[int64]string) {
	env.t.Helper()
	env.tm.Start(txID)
	for k, v := range kvs {
		env.tm.Write(txID, k, []byte(v))
	}
	require.NoError(env.t, env.tm.Commit(txID))
}

func (env *testEnv) assertValue(key int64, expected string) {
	env.t.Helper()
	v, ok := env.tm.Read(0, key)
	require.True(env.t, ok, "key %d missing", key)
	assert.Equal(env.t, expected, string(v), "key %d", key)
}

func (env *testEnv) assertMissing(key int64) {
	env.t.Helper()
	_, ok := env.tm.Read(0, key)
	assert.False(env.t, ok, "key %d", key)
}

func TestManager_NotInitialized(t *testing.T) {
	tm := NewManager(Options{})

	tm.Start(1)
	tm.Write(1, 1, []byte("abc"))
	assert.Equal(t, ErrNotInitialized, tm.Commit(1))
	assert.Equal(t, ErrNotInitialized, tm.WritePersisted(1, 0, []byte("abc")))
	_, ok := tm.Read(2, 1)
	assert.False(t, ok)
}

func TestManager_InitTwice(t *testing.T) {
	env := newTestEnv(t, redo.NameVariable)

	_, err := env.tm.InitAndRecover(env.sm, env.lm)
	assert.Equal(t, ErrAlreadyInitialized, err)
}

func TestManager_UnknownStrategy(t *testing.T) {
	tm := NewManager(Options{Strategy: "undo"})

	_, err := tm.InitAndRecover(storage.NewManager(nil), log.NewManager(log.Options{}))
	assert.Equal(t, redo.ErrUnknownStrategy, errors.Cause(err))

	assert.Equal(t, ErrNotInitialized, tm.Commit(1), "a failed init leaves the manager unusable")
}

func TestManager_CommitAndRestart(t *testing.T) {
	for _, name := range redo.Names() {
		t.Run(name, func(t *testing.T) {
			env := newTestEnv(t, name)

			env.tm.Start(1)
			env.tm.Write(1, 0, []byte("abc"))
			env.tm.Write(1, 1, []byte("xyz"))
			env.assertMissing(0)

			require.NoError(t, env.tm.Commit(1))
			env.assertValue(0, "abc")
			env.assertValue(1, "xyz")

			stats := env.restart()
			assert.Equal(t, 1, stats.Replayed)
			assert.Equal(t, 2, stats.Writes)
			env.assertValue(0, "abc")
			env.assertValue(1, "xyz")
			assert.Equal(t, 2, env.sm.Pending(), "recovered writes are queued again")
		})
	}
}

func TestManager_OwnWritesInvisibleBeforeCommit(t *testing.T) {
	env := newTestEnv(t, redo.NameVariable)
	env.commit(1, map[int64]string{7: "old"})

	env.tm.Start(2)
	env.tm.Write(2, 7, []byte("new"))
	v, ok := env.tm.Read(2, 7)
	require.True(t, ok)
	assert.Equal(t, "old", string(v))

	require.NoError(t, env.tm.Commit(2))
	env.assertValue(7, "new")
}

func TestManager_LastWriteWins(t *testing.T) {
	for _, name := range redo.Names() {
		t.Run(name, func(t *testing.T) {
			env := newTestEnv(t, name)

			env.tm.Start(1)
			env.tm.Write(1, 5, []byte("first"))
			env.tm.Write(1, 5, []byte("second"))
			require.NoError(t, env.tm.Commit(1))
			env.commit(2, map[int64]string{5: "third"})
			env.assertValue(5, "third")

			env.restart()
			env.assertValue(5, "third")

			_, err := env.sm.Flush(-1)
			require.NoError(t, err)
			tv, ok := env.sm.Get(5)
			require.True(t, ok)
			assert.Equal(t, "third", string(tv.Value))
		})
	}
}

func TestManager_Abort(t *testing.T) {
	env := newTestEnv(t, redo.NameTagged)
	end := env.lm.EndOffset()

	env.tm.Start(1)
	env.tm.Write(1, 3, []byte("never"))
	assert.Equal(t, 1, env.tm.Active())
	env.tm.Abort(1)
	assert.Equal(t, 0, env.tm.Active())

	env.assertMissing(3)
	assert.Equal(t, end, env.lm.EndOffset(), "an aborted transaction logs nothing")
	assert.Equal(t, 0, env.sm.Pending())

	require.NoError(t, env.tm.Commit(1), "writes of an aborted transaction are gone")
	env.assertMissing(3)
}

func TestManager_AbortKeepsCommittedValue(t *testing.T) {
	for _, name := range redo.Names() {
		t.Run(name, func(t *testing.T) {
			env := newTestEnv(t, name)
			env.commit(1, map[int64]string{5: "abc"})

			env.tm.Start(2)
			env.tm.Write(2, 5, []byte("xyz"))
			env.tm.Abort(2)
			env.assertValue(5, "abc")

			stats := env.restart()
			assert.Equal(t, 1, stats.Replayed)
			assert.Zero(t, stats.Discarded)
			env.assertValue(5, "abc")
		})
	}
}

func TestManager_EmptyCommit(t *testing.T) {
	env := newTestEnv(t, redo.NameFixed)

	env.tm.Start(1)
	require.NoError(t, env.tm.Commit(1))
	assert.Equal(t, int64(0), env.lm.EndOffset())
}

func TestManager_ValueIsCopied(t *testing.T) {
	env := newTestEnv(t, redo.NameVariable)

	value := []byte("abc")
	env.tm.Start(1)
	env.tm.Write(1, 1, value)
	value[0] = 'X'
	require.NoError(t, env.tm.Commit(1))

	read, _ := env.tm.Read(2, 1)
	read[1] = 'Y'
	env.assertValue(1, "abc")
}

func TestManager_LargeValue(t *testing.T) {
	large := make([]byte, 1000)
	for i := range large {
		large[i] = byte(i % 251)
	}

	for _, name := range redo.Names() {
		t.Run(name, func(t *testing.T) {
			env := newTestEnv(t, name)
			env.commit(1, map[int64]string{1: "small", 2: string(large)})
			env.commit(2, map[int64]string{3: ""})

			env.restart()
			env.assertValue(1, "small")
			env.assertValue(2, string(large))
			env.assertValue(3, "")
		})
	}
}

func TestManager_WritePersistedUnknownTag(t *testing.T) {
	env := newTestEnv(t, redo.NameVariable)
	env.commit(1, map[int64]string{1: "a"})

	require.NoError(t, env.tm.WritePersisted(1, 12345, []byte("a")))
	assert.Equal(t, 1, env.tm.PendingWrites())
	assert.Equal(t, int64(0), env.lm.TruncationOffset())
}
