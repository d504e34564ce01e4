// Package simulate drives the transaction manager with a random workload on
// top of the in-memory log and storage layers, crashing and restarting it
// along the way, and checks every recovery against a model of the committed
// state.
package simulate

import (
	"bytes"
	"context"
	"math/rand/v2"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/yashagw/cranekv/internal/config"
	"github.com/yashagw/cranekv/internal/log"
	"github.com/yashagw/cranekv/internal/redo"
	"github.com/yashagw/cranekv/internal/storage"
	"github.com/yashagw/cranekv/internal/transaction"
)

// ErrDivergence is returned when a recovered manager disagrees with the
// committed state.
var ErrDivergence = errors.New("recovered state diverges from committed state")

// Report summarizes a simulation run.
type Report struct {
	Strategy     string
	Transactions int
	Committed    int
	Aborted      int
	// Failed counts commits cut short by a crash.
	Failed  int
	Crashes int
	// Replayed, Discarded and Writes add up the recovery passes.
	Replayed  int
	Discarded int
	Writes    int
	// Keys is the number of keys with a committed value at the end.
	Keys       int
	LogEnd     int64
	Truncation int64
}

// Simulator owns the simulated services and the manager running on them.
type Simulator struct {
	cfg    *config.Config
	logger *zap.Logger
	rng    *rand.Rand

	lm *log.Manager
	sm *storage.Manager
	tm *transaction.Manager

	committed map[int64][]byte
	report    Report
}

// New creates a simulator for cfg. With cfg.Log.Dir set the log is written
// to disk, and the directory must not hold a log yet.
func New(cfg *config.Config, logger *zap.Logger) (*Simulator, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts := log.Options{
		Capacity:      cfg.Log.Capacity,
		MaxRecordSize: cfg.Log.MaxRecordSize,
		BlockSize:     cfg.Log.BlockSize,
		Logger:        logger,
	}
	lm := log.NewManager(opts)
	if cfg.Log.Dir != "" {
		var err error
		if lm, err = log.Open(cfg.Log.Dir, opts); err != nil {
			return nil, err
		}
		if lm.EndOffset() > 0 {
			lm.Close()
			return nil, errors.Errorf("%s already holds a log", cfg.Log.Dir)
		}
	}

	seed := cfg.Simulate.Seed
	return &Simulator{
		cfg:       cfg,
		logger:    logger,
		rng:       rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		lm:        lm,
		sm:        storage.NewManager(logger),
		committed: make(map[int64][]byte),
		report:    Report{Strategy: cfg.Strategy},
	}, nil
}

// Close releases the log files.
func (s *Simulator) Close() error {
	return s.lm.Close()
}

// Log returns the simulated log, for inspection after a run.
func (s *Simulator) Log() *log.Manager {
	return s.lm
}

// Strategy returns the redo strategy of the running manager.
func (s *Simulator) Strategy() redo.Strategy {
	return s.tm.Strategy()
}

// Run executes the workload. It stops early when ctx is canceled and
// returns the report of what ran so far.
func (s *Simulator) Run(ctx context.Context) (Report, error) {
	if err := s.start(); err != nil {
		return s.report, err
	}
	s.armCrash()

	for tx := int64(1); tx <= int64(s.cfg.Simulate.Transactions); tx++ {
		if err := ctx.Err(); err != nil {
			return s.report, err
		}
		s.report.Transactions++
		if err := s.step(tx); err != nil {
			if !log.IsCrash(err) {
				return s.report, err
			}
			if err := s.restart(); err != nil {
				return s.report, err
			}
		}
	}

	// Final restart without a crash budget: everything committed must come
	// back and reach the base table.
	s.sm.Crash()
	s.lm.Resume()
	if err := s.start(); err != nil {
		return s.report, err
	}
	if _, err := s.sm.Flush(-1); err != nil {
		return s.report, errors.Wrap(err, "final flush")
	}
	if err := s.verifyStored(); err != nil {
		return s.report, err
	}

	s.report.Keys = len(s.committed)
	s.report.LogEnd = s.lm.EndOffset()
	s.report.Truncation = s.lm.TruncationOffset()
	return s.report, nil
}

// step runs one transaction followed by a random storage flush.
func (s *Simulator) step(tx int64) error {
	s.tm.Start(tx)
	writes := make(map[int64][]byte)
	for range 1 + s.rng.IntN(4) {
		key := s.rng.Int64N(int64(s.cfg.Simulate.Keys))
		value := s.randomValue()
		s.tm.Write(tx, key, value)
		writes[key] = value
	}

	if s.rng.IntN(10) == 0 {
		s.tm.Abort(tx)
		s.report.Aborted++
		return nil
	}

	if err := s.tm.Commit(tx); err != nil {
		s.report.Failed++
		return err
	}
	s.report.Committed++
	for k, v := range writes {
		s.committed[k] = v
	}

	if s.cfg.Simulate.FlushBatch > 0 {
		if _, err := s.sm.FlushRandom(s.rng, s.rng.IntN(s.cfg.Simulate.FlushBatch+1)); err != nil {
			return errors.Wrapf(err, "flush after tx %d", tx)
		}
	}
	return nil
}

func (s *Simulator) randomValue() []byte {
	v := make([]byte, s.rng.IntN(s.cfg.Simulate.MaxValueSize+1))
	for i := range v {
		v[i] = byte(s.rng.IntN(256))
	}
	return v
}

// start brings up a fresh manager on the surviving log and storage.
func (s *Simulator) start() error {
	s.tm = transaction.NewManager(transaction.Options{
		Strategy:      s.cfg.Strategy,
		FixedSlotSize: s.cfg.Redo.FixedSlotSize,
		Logger:        s.logger,
	})
	s.sm.SetPersistFunc(s.tm.WritePersisted)

	stats, err := s.tm.InitAndRecover(s.sm, s.lm)
	if err != nil {
		return errors.Wrap(err, "init and recover")
	}
	s.report.Replayed += stats.Replayed
	s.report.Discarded += stats.Discarded
	s.report.Writes += stats.Writes
	return s.verify()
}

// restart models a process crash: queued storage writes are lost and a new
// manager recovers from the log.
func (s *Simulator) restart() error {
	s.report.Crashes++
	lost := s.sm.Crash()
	s.lm.Resume()
	s.logger.Info("restarting after crash",
		zap.Int("crash", s.report.Crashes),
		zap.Int("lost-writes", lost),
		zap.Int("log-ios", s.lm.IOCount()),
		zap.Int64("log-end", s.lm.EndOffset()),
		zap.Int64("truncation", s.lm.TruncationOffset()))
	if err := s.start(); err != nil {
		return err
	}
	s.armCrash()
	return nil
}

func (s *Simulator) armCrash() {
	if s.cfg.Simulate.CrashEvery > 0 {
		s.lm.CrashAfter(1 + s.rng.IntN(2*s.cfg.Simulate.CrashEvery))
	}
}

// verify checks the recovered manager against the committed model.
func (s *Simulator) verify() error {
	for key, expected := range s.committed {
		got, ok := s.tm.Read(0, key)
		if !ok {
			return errors.Wrapf(ErrDivergence, "key %d missing after recovery", key)
		}
		if !bytes.Equal(got, expected) {
			return errors.Wrapf(ErrDivergence, "key %d has %d bytes, expected %d", key, len(got), len(expected))
		}
	}
	for key := range int64(s.cfg.Simulate.Keys) {
		if _, ok := s.committed[key]; ok {
			continue
		}
		if _, ok := s.tm.Read(0, key); ok {
			return errors.Wrapf(ErrDivergence, "key %d was never committed", key)
		}
	}
	return nil
}

// verifyStored checks the base table once every queued write is durable.
func (s *Simulator) verifyStored() error {
	table, err := s.sm.ReadStoredTable()
	if err != nil {
		return err
	}
	if len(table) != len(s.committed) {
		return errors.Wrapf(ErrDivergence, "stored table has %d keys, expected %d", len(table), len(s.committed))
	}
	for key, expected := range s.committed {
		if !bytes.Equal(table[key].Value, expected) {
			return errors.Wrapf(ErrDivergence, "stored key %d differs", key)
		}
	}
	return nil
}
