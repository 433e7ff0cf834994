package timescale

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/matthiasnowak/villasnode/internal/domain"
	"github.com/matthiasnowak/villasnode/internal/ports"
)

var signals = domain.SignalList{
	{Name: "v", Type: domain.SignalFloat},
	{Name: "n", Type: domain.SignalInteger},
}

func sample(t *testing.T, pool *domain.Pool, seq uint64, ts time.Time, v float64, n int64) *domain.Sample {
	t.Helper()
	s, err := pool.Allocate()
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	s.Sequence = seq
	s.TS.Origin = ts
	s.TS.Received = ts
	s.Flags |= domain.HasSequence | domain.HasTSOrigin
	_ = s.Append(domain.FloatValue(v))
	_ = s.Append(domain.IntValue(n))
	return s
}

func TestTimescaleWrite(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	node := NewWithDB("db", signals, db, "samples")
	if err := node.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	pool, _ := domain.NewPool(2, 2)
	ts := time.Now()
	smps := []*domain.Sample{
		sample(t, pool, 1, ts, 1.5, 3),
		sample(t, pool, 2, ts, 2.5, 4),
	}

	expectedQuery := regexp.QuoteMeta("INSERT INTO samples (node, seq, ts_origin, ts_received, values) VALUES ($1,$2,$3,$4,$5),($6,$7,$8,$9,$10) ON CONFLICT (node, seq, ts_origin) DO NOTHING")
	mock.ExpectExec(expectedQuery).
		WithArgs("db", int64(1), ts, ts, []byte("[1.5,3]"), "db", int64(2), ts, ts, []byte("[2.5,4]")).
		WillReturnResult(sqlmock.NewResult(0, 2))

	written, release, err := node.Write(context.Background(), smps)
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if written != 2 || release != 2 {
		t.Fatalf("expected 2/2, got %d/%d", written, release)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
	if err := node.Stop(); err != nil {
		t.Fatalf("stop must not close a borrowed db: %v", err)
	}
}

func TestTimescaleWriteNoSamples(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	node := NewWithDB("db", signals, db, "samples")
	if n, _, err := node.Write(context.Background(), nil); err != nil || n != 0 {
		t.Fatalf("expected no-op for empty batch, got %d, %v", n, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestTimescaleWriteError(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	node := NewWithDB("db", signals, db, "samples")
	pool, _ := domain.NewPool(1, 2)
	boom := errors.New("connection reset")
	mock.ExpectExec("INSERT INTO samples").WillReturnError(boom)

	n, _, err := node.Write(context.Background(), []*domain.Sample{sample(t, pool, 1, time.Now(), 0, 0)})
	if !errors.Is(err, boom) || n != 0 {
		t.Fatalf("expected write error and nothing written, got %d, %v", n, err)
	}
}

func TestTimescaleCreateTable(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	node := NewWithDB("db", signals, db, "measurements")
	node.cfg.Create = true
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS measurements")).WillReturnResult(sqlmock.NewResult(0, 0))
	if err := node.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestTimescaleOptions(t *testing.T) {
	if _, err := New("db", signals, nil); err == nil {
		t.Fatal("expected error without dsn")
	}
	if _, err := New("db", signals, ports.Options{"dsn": "postgres://x", "table": "x; DROP"}); err == nil {
		t.Fatal("expected error for invalid table name")
	}
	node, err := New("db", signals, ports.Options{"dsn": "postgres://x"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if node.cfg.Table != "samples" || node.Capabilities() != ports.NodeWrite {
		t.Fatalf("unexpected defaults: %+v %s", node.cfg, node.Capabilities())
	}
	if _, err := node.Read(context.Background(), nil); !errors.Is(err, ports.ErrNotSupported) {
		t.Fatalf("expected ErrNotSupported, got %v", err)
	}
}
