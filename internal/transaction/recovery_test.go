package transaction

import (
	"bytes"
	"fmt"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yashagw/cranekv/internal/log"
	"github.com/yashagw/cranekv/internal/redo"
)

func TestRecovery_CrashBeforeCommitMarker(t *testing.T) {
	for _, name := range redo.Names() {
		t.Run(name, func(t *testing.T) {
			env := newTestEnv(t, name)
			env.commit(1, map[int64]string{1: "kept"})

			env.tm.Start(2)
			env.tm.Write(2, 1, []byte("lost"))
			env.tm.Write(2, 2, []byte("lost"))
			// PREPARE and both DATA records reach the log, COMMIT does not.
			env.lm.CrashAfter(3)
			err := env.tm.Commit(2)
			require.Error(t, err)
			assert.True(t, log.IsCrash(err))

			stats := env.restart()
			assert.Equal(t, 1, stats.Replayed)
			assert.Equal(t, 1, stats.Discarded)
			env.assertValue(1, "kept")
			env.assertMissing(2)
		})
	}
}

// encodedPrepare returns the bytes strategy name appends for the PREPARE of
// txID.
func encodedPrepare(t *testing.T, name string, txID int64) []byte {
	t.Helper()
	scratch := log.NewManager(log.Options{})
	s, err := redo.New(name, scratch, redo.Options{})
	require.NoError(t, err)
	_, err = s.Prepare(txID)
	require.NoError(t, err)
	raw, err := scratch.Read(0, int(scratch.EndOffset()))
	require.NoError(t, err)
	return raw
}

func TestRecovery_TornAppendThenRestartTwice(t *testing.T) {
	for _, name := range redo.Names() {
		t.Run(name, func(t *testing.T) {
			env := newTestEnv(t, name)
			env.commit(1, map[int64]string{1: "first"})

			prepare := encodedPrepare(t, name, 2)
			_, err := env.lm.AppendPartial(prepare, len(prepare)-3)
			require.True(t, log.IsCrash(err))

			stats := env.restart()
			assert.False(t, stats.Torn)
			assert.Equal(t, 1, stats.Replayed)
			env.commit(3, map[int64]string{2: "second"})

			// Crash in the middle of the next commit as well.
			env.tm.Start(4)
			env.tm.Write(4, 3, []byte("lost"))
			env.lm.CrashAfter(1)
			require.Error(t, env.tm.Commit(4))

			stats = env.restart()
			assert.Equal(t, 2, stats.Replayed)
			assert.Equal(t, 1, stats.Discarded)
			env.assertValue(1, "first")
			env.assertValue(2, "second")
			env.assertMissing(3)

			env.commit(5, map[int64]string{3: "third"})
			env.restart()
			env.assertValue(1, "first")
			env.assertValue(2, "second")
			env.assertValue(3, "third")
		})
	}
}

func TestRecovery_CrashDuringTruncation(t *testing.T) {
	for _, name := range redo.Names() {
		t.Run(name, func(t *testing.T) {
			env := newTestEnv(t, name)
			env.commit(1, map[int64]string{1: "a"})
			env.commit(2, map[int64]string{2: "b"})
			env.commit(3, map[int64]string{3: "c"})

			// The durability callback reads the log to find the COMMIT; the
			// log dies under it.
			env.lm.CrashAfter(0)
			done, err := env.sm.Flush(-1)
			require.Error(t, err)
			assert.True(t, log.IsCrash(err))
			assert.Equal(t, 1, done)
			assert.Equal(t, int64(0), env.lm.TruncationOffset())

			env.restart()
			env.assertValue(1, "a")
			env.assertValue(2, "b")
			env.assertValue(3, "c")

			_, err = env.sm.Flush(-1)
			require.NoError(t, err)
			tv, ok := env.tm.latestValues[3]
			require.True(t, ok)
			assert.Equal(t, tv.Tag, env.lm.TruncationOffset())

			env.restart()
			env.assertValue(1, "a")
			env.assertValue(2, "b")
			env.assertValue(3, "c")
		})
	}
}

func TestRecovery_CrashAfterCommitWithoutStorageFlush(t *testing.T) {
	for _, name := range redo.Names() {
		t.Run(name, func(t *testing.T) {
			env := newTestEnv(t, name)
			env.commit(1, map[int64]string{1: "a", 2: "b"})
			env.commit(2, map[int64]string{2: "c"})
			assert.Equal(t, 3, env.sm.Pending())

			env.restart()
			env.assertValue(1, "a")
			env.assertValue(2, "c")

			_, err := env.sm.Flush(-1)
			require.NoError(t, err)
			table, err := env.sm.ReadStoredTable()
			require.NoError(t, err)
			assert.Equal(t, "a", string(table[1].Value))
			assert.Equal(t, "c", string(table[2].Value))
		})
	}
}

func TestRecovery_TruncationFollowsDurability(t *testing.T) {
	for _, name := range redo.Names() {
		t.Run(name, func(t *testing.T) {
			env := newTestEnv(t, name)
			env.commit(1, map[int64]string{1: "a"})
			env.commit(2, map[int64]string{2: "b"})
			env.commit(3, map[int64]string{3: "c"})
			tag3, ok := env.tm.latestValues[3]
			require.True(t, ok)

			// Only the newest write is durable: nothing below the oldest
			// outstanding write may go.
			require.NoError(t, env.tm.WritePersisted(3, tag3.Tag, []byte("c")))
			assert.Equal(t, int64(0), env.lm.TruncationOffset())

			_, err := env.sm.Flush(-1)
			require.NoError(t, err)
			assert.Equal(t, 0, env.tm.PendingWrites())
			assert.Equal(t, tag3.Tag, env.lm.TruncationOffset(), "the newest transaction stays in the log")

			stats := env.restart()
			assert.Equal(t, tag3.Tag, stats.From)
			assert.Equal(t, 1, stats.Replayed)
			env.assertValue(1, "a")
			env.assertValue(2, "b")
			env.assertValue(3, "c")
		})
	}
}

func TestRecovery_TruncationIsMonotonic(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 7))
	for _, name := range redo.Names() {
		t.Run(name, func(t *testing.T) {
			env := newTestEnv(t, name)
			expected := make(map[int64]string)

			last := env.lm.TruncationOffset()
			for tx := int64(1); tx <= 200; tx++ {
				kvs := map[int64]string{}
				for range 1 + rng.IntN(3) {
					k := rng.Int64N(20)
					kvs[k] = fmt.Sprintf("v%d-%d", tx, k)
				}
				env.commit(tx, kvs)
				for k, v := range kvs {
					expected[k] = v
				}

				_, err := env.sm.FlushRandom(rng, rng.IntN(4))
				require.NoError(t, err)
				offset := env.lm.TruncationOffset()
				require.GreaterOrEqual(t, offset, last)
				last = offset
			}
			assert.Positive(t, last)

			env.restart()
			for k, v := range expected {
				env.assertValue(k, v)
			}
		})
	}
}

// TestRecovery_RandomCrashes runs a workload that crashes the log at random
// points and restarts after every crash. A commit that returned nil must
// survive; one that failed must leave no trace.
func TestRecovery_RandomCrashes(t *testing.T) {
	for _, name := range redo.Names() {
		t.Run(name, func(t *testing.T) {
			rng := rand.New(rand.NewPCG(42, 42))
			env := newTestEnv(t, name)
			committed := make(map[int64][]byte)
			crashes := 0
			var lastTruncation int64

			for tx := int64(1); tx <= 300; tx++ {
				env.tm.Start(tx)
				writes := make(map[int64][]byte)
				for range 1 + rng.IntN(4) {
					k := rng.Int64N(16)
					v := make([]byte, rng.IntN(300))
					for i := range v {
						v[i] = byte(rng.IntN(256))
					}
					env.tm.Write(tx, k, v)
					writes[k] = v
				}

				if rng.IntN(10) == 0 {
					env.tm.Abort(tx)
					continue
				}

				armed := rng.IntN(4) == 0
				if armed {
					env.lm.CrashAfter(rng.IntN(8))
				}
				err := env.tm.Commit(tx)
				if err != nil {
					require.True(t, log.IsCrash(err), "%+v", err)
					crashes++
					env.restart()
					verifyCommitted(t, env, committed)
					continue
				}
				if armed {
					env.lm.Resume()
				}
				for k, v := range writes {
					committed[k] = v
				}

				// Sometimes the log dies under the durability callback.
				armed = rng.IntN(6) == 0
				if armed {
					env.lm.CrashAfter(rng.IntN(3))
				}
				_, err = env.sm.FlushRandom(rng, rng.IntN(5))
				if err != nil {
					require.True(t, log.IsCrash(err), "%+v", err)
					crashes++
					truncation := env.lm.TruncationOffset()
					env.restart()
					assert.Equal(t, truncation, env.lm.TruncationOffset(), "restart keeps the truncation offset")
					verifyCommitted(t, env, committed)
					continue
				}
				if armed {
					env.lm.Resume()
				}
				require.GreaterOrEqual(t, env.lm.TruncationOffset(), lastTruncation)
				lastTruncation = env.lm.TruncationOffset()
			}
			assert.Positive(t, crashes)

			env.restart()
			verifyCommitted(t, env, committed)

			_, err := env.sm.Flush(-1)
			require.NoError(t, err)
			table, err := env.sm.ReadStoredTable()
			require.NoError(t, err)
			for k, v := range committed {
				assert.True(t, bytes.Equal(v, table[k].Value), "stored key %d", k)
			}
		})
	}
}

func verifyCommitted(t *testing.T, env *testEnv, committed map[int64][]byte) {
	t.Helper()
	for k, v := range committed {
		got, ok := env.tm.Read(0, k)
		require.True(t, ok, "key %d lost", k)
		require.True(t, bytes.Equal(v, got), "key %d", k)
	}
}
