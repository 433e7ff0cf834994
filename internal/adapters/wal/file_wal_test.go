package wal

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/matthiasnowak/villasnode/internal/domain"
	"github.com/matthiasnowak/villasnode/internal/ports"
)

func testSample(t *testing.T, pool *domain.Pool, seq uint64, v float64) *domain.Sample {
	t.Helper()
	s, err := pool.Allocate()
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	s.Sequence = seq
	s.Flags |= domain.HasSequence | domain.HasTSOrigin
	s.TS.Origin = time.Unix(1700000000, int64(seq))
	if err := s.Append(domain.FloatValue(v)); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.Append(domain.IntValue(int64(seq))); err != nil {
		t.Fatalf("append: %v", err)
	}
	return s
}

func TestFileWALAppendIterateAndReplay(t *testing.T) {
	dir := t.TempDir()
	pool, _ := domain.NewPool(4, 2)

	w, err := NewFileWAL(dir)
	if err != nil {
		t.Fatalf("new wal: %v", err)
	}

	s1 := testSample(t, pool, 1, 0.5)
	s2 := testSample(t, pool, 2, 1.5)

	id1, err := w.Append(s1)
	if err != nil || id1 == 0 {
		t.Fatalf("append sample 1: %v id=%d", err, id1)
	}
	id2, err := w.Append(s2)
	if err != nil || id2 == 0 {
		t.Fatalf("append sample 2: %v id=%d", err, id2)
	}

	var iterated []*ports.Record
	if err := w.Iterate(1, func(id ports.WALEntryID, rec *ports.Record) error {
		iterated = append(iterated, rec)
		return nil
	}); err != nil {
		t.Fatalf("iterate: %v", err)
	}
	if len(iterated) != 2 {
		t.Fatalf("expected 2 records, got %d", len(iterated))
	}

	out, _ := pool.Allocate()
	if err := iterated[1].Into(out); err != nil {
		t.Fatalf("into: %v", err)
	}
	if !domain.Equal(out, s2) {
		t.Fatalf("replayed sample differs from original")
	}

	if err := w.Commit(id1); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close wal: %v", err)
	}

	// Reopen and ensure committed metadata was persisted.
	w2, err := NewFileWAL(dir)
	if err != nil {
		t.Fatalf("reopen wal: %v", err)
	}

	stats := w2.Stats()
	if stats.LatestAppended != id2 {
		t.Fatalf("expected latest appended %d, got %d", id2, stats.LatestAppended)
	}
	if stats.OldestUncommitted != id2 {
		t.Fatalf("expected oldest uncommitted %d, got %d", id2, stats.OldestUncommitted)
	}

	// A torn tail must be cut off on the next open.
	if err := w2.Close(); err != nil {
		t.Fatalf("close wal2: %v", err)
	}
	if err := appendGarbage(filepath.Join(dir, "journal.log")); err != nil {
		t.Fatalf("append garbage: %v", err)
	}

	w3, err := NewFileWAL(dir)
	if err != nil {
		t.Fatalf("reopen after garbage: %v", err)
	}
	defer w3.Close()
	if got := w3.Stats().SizeBytes; got != stats.SizeBytes {
		t.Fatalf("expected torn tail to be truncated to %d bytes, got %d", stats.SizeBytes, got)
	}
	id3, err := w3.Append(testSample(t, pool, 3, 2.5))
	if err != nil || id3 != id2+1 {
		t.Fatalf("append after reopen: %v id=%d", err, id3)
	}
}

func TestFileWALTruncateCommitted(t *testing.T) {
	pool, _ := domain.NewPool(8, 2)
	w, err := NewFileWAL(t.TempDir())
	if err != nil {
		t.Fatalf("new wal: %v", err)
	}
	defer w.Close()

	for seq := uint64(1); seq <= 5; seq++ {
		s := testSample(t, pool, seq, float64(seq))
		if _, err := w.Append(s); err != nil {
			t.Fatalf("append: %v", err)
		}
		s.DecRef()
	}
	before := w.Stats().SizeBytes
	if err := w.Commit(3); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := w.TruncateCommitted(); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	if after := w.Stats().SizeBytes; after >= before {
		t.Fatalf("expected log to shrink, %d -> %d", before, after)
	}

	var seqs []uint64
	if err := w.Iterate(0, func(_ ports.WALEntryID, rec *ports.Record) error {
		seqs = append(seqs, rec.Sequence)
		return nil
	}); err != nil {
		t.Fatalf("iterate: %v", err)
	}
	if len(seqs) != 2 || seqs[0] != 4 || seqs[1] != 5 {
		t.Fatalf("expected uncommitted entries 4,5, got %v", seqs)
	}

	id, err := w.Append(testSample(t, pool, 6, 6))
	if err != nil || id != 6 {
		t.Fatalf("append after truncate: %v id=%d", err, id)
	}
}

func TestFileWALCommitClampsAndClose(t *testing.T) {
	w, err := NewFileWAL(t.TempDir())
	if err != nil {
		t.Fatalf("new wal: %v", err)
	}
	if err := w.Commit(10); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if got := w.Stats().OldestUncommitted; got != 1 {
		t.Fatalf("commit beyond the log must be clamped, got oldest uncommitted %d", got)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := w.Append(&domain.Sample{}); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func appendGarbage(path string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.Write([]byte{0xFF, 0xAA})
	return err
}
