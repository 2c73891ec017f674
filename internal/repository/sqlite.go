package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/url"
	"time"

	"sysmetrics-app/internal/domain"

	_ "github.com/mattn/go-sqlite3"
)

const defaultRecentLimit = 100

type SQLiteOptions struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	BusyTimeout     time.Duration
	OpTimeout       time.Duration
}

func DefaultSQLiteOptions() SQLiteOptions {
	return SQLiteOptions{
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
		BusyTimeout:     5 * time.Second,
		OpTimeout:       3 * time.Second,
	}
}

// SQLiteStore persists samples in one append-only table with the cpu, ram and
// process families side by side. database/sql bounds the pool at
// MaxOpenConns and makes extra callers wait for a free connection.
type SQLiteStore struct {
	db     *sql.DB
	dbPath string
	opts   SQLiteOptions
}

func NewSQLiteStore(path string, opts SQLiteOptions) *SQLiteStore {
	return &SQLiteStore{dbPath: path, opts: opts}
}

func (s *SQLiteStore) dsn() string {
	q := url.Values{}
	q.Set("_busy_timeout", fmt.Sprint(s.opts.BusyTimeout.Milliseconds()))
	q.Set("_journal_mode", "WAL")
	return "file:" + s.dbPath + "?" + q.Encode()
}

func (s *SQLiteStore) Init() error {
	var err error

	s.db, err = sql.Open("sqlite3", s.dsn())
	if err != nil {
		return fmt.Errorf("error opening database: %w", err)
	}
	s.db.SetMaxOpenConns(s.opts.MaxOpenConns)
	s.db.SetMaxIdleConns(s.opts.MaxIdleConns)
	s.db.SetConnMaxLifetime(s.opts.ConnMaxLifetime)

	if err = s.db.Ping(); err != nil {
		return fmt.Errorf("error connecting to database: %w", err)
	}

	createTableSQL := `
	CREATE TABLE IF NOT EXISTS metric_samples (
		id                INTEGER PRIMARY KEY AUTOINCREMENT,
		collected_at      INTEGER NOT NULL,
		received_at       INTEGER NOT NULL,
		cpu_usage_percent REAL    NOT NULL,
		mem_total_kb      INTEGER NOT NULL,
		mem_free_kb       INTEGER NOT NULL,
		mem_used_kb       INTEGER NOT NULL,
		mem_usage_percent REAL    NOT NULL,
		has_processes     INTEGER NOT NULL DEFAULT 0,
		proc_running      INTEGER,
		proc_sleeping     INTEGER,
		proc_zombie       INTEGER,
		proc_stopped      INTEGER,
		proc_total        INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_metric_samples_collected_at ON metric_samples(collected_at, id);`

	_, err = s.db.Exec(createTableSQL)
	if err != nil {
		return fmt.Errorf("error creating table: %w", err)
	}

	log.Println("SQLiteStore initialized.")
	return nil
}

func (s *SQLiteStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opts.OpTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.opts.OpTimeout)
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", domain.ErrStorageUnavailable, op, err)
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if err := s.db.PingContext(ctx); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

func (s *SQLiteStore) Append(ctx context.Context, sample domain.MetricSample) (int64, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var (
		hasProcs                                   int
		running, sleeping, zombie, stopped, totalP sql.NullInt64
	)
	if p := sample.Processes; p != nil {
		hasProcs = 1
		running = sql.NullInt64{Int64: int64(p.Running), Valid: true}
		sleeping = sql.NullInt64{Int64: int64(p.Sleeping), Valid: true}
		zombie = sql.NullInt64{Int64: int64(p.Zombie), Valid: true}
		stopped = sql.NullInt64{Int64: int64(p.Stopped), Valid: true}
		totalP = sql.NullInt64{Int64: int64(p.Total), Valid: true}
	}

	res, err := s.db.ExecContext(ctx, `INSERT INTO metric_samples(
		collected_at, received_at, cpu_usage_percent,
		mem_total_kb, mem_free_kb, mem_used_kb, mem_usage_percent,
		has_processes, proc_running, proc_sleeping, proc_zombie, proc_stopped, proc_total)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sample.CollectedAt, time.Now().UnixMilli(), sample.CPU.UsagePercent,
		int64(sample.Memory.TotalKB), int64(sample.Memory.FreeKB), int64(sample.Memory.UsedKB), sample.Memory.UsagePercent,
		hasProcs, running, sleeping, zombie, stopped, totalP,
	)
	if err != nil {
		return 0, unavailable("inserting sample", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, unavailable("reading row id", err)
	}
	return id, nil
}

const selectColumns = `SELECT id, collected_at, received_at, cpu_usage_percent,
	mem_total_kb, mem_free_kb, mem_used_kb, mem_usage_percent,
	has_processes, proc_running, proc_sleeping, proc_zombie, proc_stopped, proc_total
	FROM metric_samples`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSample(row rowScanner) (domain.PersistedSample, error) {
	var (
		p                                          domain.PersistedSample
		receivedAt                                 int64
		cpu                                        domain.CPU
		mem                                        domain.Memory
		total, free, used                          int64
		hasProcs                                   int
		running, sleeping, zombie, stopped, totalP sql.NullInt64
	)
	err := row.Scan(&p.ID, &p.Sample.CollectedAt, &receivedAt, &cpu.UsagePercent,
		&total, &free, &used, &mem.UsagePercent,
		&hasProcs, &running, &sleeping, &zombie, &stopped, &totalP)
	if err != nil {
		return p, err
	}
	mem.TotalKB, mem.FreeKB, mem.UsedKB = uint64(total), uint64(free), uint64(used)
	p.ReceivedAt = time.UnixMilli(receivedAt)
	p.Sample.CPU = &cpu
	p.Sample.Memory = &mem
	if hasProcs == 1 {
		p.Sample.Processes = &domain.ProcessCounts{
			Running:  uint64(running.Int64),
			Sleeping: uint64(sleeping.Int64),
			Zombie:   uint64(zombie.Int64),
			Stopped:  uint64(stopped.Int64),
			Total:    uint64(totalP.Int64),
		}
	}
	return p, nil
}

func (s *SQLiteStore) Latest(ctx context.Context) (domain.MetricSample, bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	row := s.db.QueryRowContext(ctx, selectColumns+" ORDER BY collected_at DESC, id DESC LIMIT 1")
	p, err := scanSample(row)
	if err == sql.ErrNoRows {
		return domain.MetricSample{}, false, nil
	}
	if err != nil {
		return domain.MetricSample{}, false, unavailable("querying latest sample", err)
	}
	return p.Sample, true, nil
}

func (s *SQLiteStore) Recent(ctx context.Context, limit int) ([]domain.PersistedSample, error) {
	if limit <= 0 {
		limit = defaultRecentLimit
	}
	return s.query(ctx, "querying recent samples",
		selectColumns+" ORDER BY collected_at DESC, id DESC LIMIT ?", limit)
}

func (s *SQLiteStore) Range(ctx context.Context, since int64) ([]domain.PersistedSample, error) {
	return s.query(ctx, "querying sample range",
		selectColumns+" WHERE collected_at >= ? ORDER BY collected_at ASC, id ASC", since)
}

func (s *SQLiteStore) query(ctx context.Context, op, query string, args ...any) ([]domain.PersistedSample, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, unavailable(op, err)
	}
	defer rows.Close()

	fetched := make([]domain.PersistedSample, 0)
	for rows.Next() {
		p, err := scanSample(rows)
		if err != nil {
			log.Printf("Error scanning row: %v", err)
			continue
		}
		fetched = append(fetched, p)
	}

	if err = rows.Err(); err != nil {
		return nil, unavailable(op, err)
	}
	return fetched, nil
}

func (s *SQLiteStore) Stats(ctx context.Context, since int64) (domain.Stats, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	stats := domain.Stats{Since: since}
	var cpuAvg, cpuMax, cpuMin, ramAvg, ramMax, ramMin sql.NullFloat64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*),
		AVG(cpu_usage_percent), MAX(cpu_usage_percent), MIN(cpu_usage_percent),
		AVG(mem_usage_percent), MAX(mem_usage_percent), MIN(mem_usage_percent)
		FROM metric_samples WHERE collected_at >= ?`, since).
		Scan(&stats.Samples, &cpuAvg, &cpuMax, &cpuMin, &ramAvg, &ramMax, &ramMin)
	if err != nil {
		return domain.Stats{}, unavailable("aggregating samples", err)
	}
	stats.CPU = domain.WindowStats{Average: cpuAvg.Float64, Max: cpuMax.Float64, Min: cpuMin.Float64}
	stats.RAM = domain.WindowStats{Average: ramAvg.Float64, Max: ramMax.Float64, Min: ramMin.Float64}

	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM metric_samples").Scan(&stats.TotalRecords); err != nil {
		return domain.Stats{}, unavailable("counting samples", err)
	}
	return stats, nil
}

func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
