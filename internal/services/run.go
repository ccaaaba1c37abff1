package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/HerbHall/netcorrelate/internal/store"
	"github.com/HerbHall/netcorrelate/pkg/models"
)

// RunRepository persists correlation run summaries and the run lock.
type RunRepository interface {
	// Create records a run that has just started.
	Create(ctx context.Context, res *models.CorrelationResult) error

	// Finish stores the final counters, phases and status of a run.
	Finish(ctx context.Context, res *models.CorrelationResult) error

	// Get returns a run by ID.
	Get(ctx context.Context, id string) (*models.CorrelationResult, error)

	// List returns runs newest first by default.
	List(ctx context.Context, opts ListOptions) (*ListResult[models.CorrelationResult], error)

	// AcquireLock takes the named lock for holder. A lock older than
	// staleAfter is taken over; otherwise ErrLocked is returned.
	AcquireLock(ctx context.Context, name, holder string, now time.Time, staleAfter time.Duration) error

	// ReleaseLock drops the lock if holder still owns it.
	ReleaseLock(ctx context.Context, name, holder string) error
}

// Compile-time interface guard.
var _ RunRepository = (*SQLiteRunRepository)(nil)

// SQLiteRunRepository implements RunRepository using SQLite.
type SQLiteRunRepository struct {
	db DBTX
}

// NewSQLiteRunRepository creates a RunRepository over db.
func NewSQLiteRunRepository(db DBTX) *SQLiteRunRepository {
	return &SQLiteRunRepository{db: db}
}

const runColumns = `id, status, started_at, finished_at, hosts_merged, conflicts_detected,
	device_identities, conflicts_auto_resolved, phases, errors`

func (r *SQLiteRunRepository) Create(ctx context.Context, res *models.CorrelationResult) error {
	if res.Status == "" {
		res.Status = models.RunRunning
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO correlation_runs (id, status, started_at) VALUES (?, ?, ?)`,
		res.RunID, string(res.Status), res.StartedAt.UTC(),
	)
	if err != nil {
		if store.IsUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

func (r *SQLiteRunRepository) Finish(ctx context.Context, res *models.CorrelationResult) error {
	phases, err := json.Marshal(res.Phases)
	if err != nil {
		return fmt.Errorf("marshal phases: %w", err)
	}
	result, err := r.db.ExecContext(ctx, `
		UPDATE correlation_runs SET
			status = ?, finished_at = ?, hosts_merged = ?, conflicts_detected = ?,
			device_identities = ?, conflicts_auto_resolved = ?, phases = ?, errors = ?
		WHERE id = ?`,
		string(res.Status), res.FinishedAt.UTC(), res.HostsMerged, res.ConflictsDetected,
		res.DeviceIdentitiesCreated, res.ConflictsAutoResolved, string(phases),
		marshalStrings(res.Errors), res.RunID,
	)
	if err != nil {
		return fmt.Errorf("finish run %q: %w", res.RunID, err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *SQLiteRunRepository) Get(ctx context.Context, id string) (*models.CorrelationResult, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM correlation_runs WHERE id = ?`, id)
	res, err := scanRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get run %q: %w", id, err)
	}
	return res, nil
}

func (r *SQLiteRunRepository) List(ctx context.Context, opts ListOptions) (*ListResult[models.CorrelationResult], error) {
	opts = normalizeListOptions(opts)

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM correlation_runs`).Scan(&total); err != nil {
		return nil, fmt.Errorf("count runs: %w", err)
	}

	rows, err := r.db.QueryContext(ctx,
		"SELECT "+runColumns+" FROM correlation_runs ORDER BY started_at "+
			orderDirection(opts)+", id ASC LIMIT ? OFFSET ?", opts.Limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	runs := []models.CorrelationResult{}
	for rows.Next() {
		res, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, *res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return &ListResult[models.CorrelationResult]{Items: runs, Total: total}, nil
}

func (r *SQLiteRunRepository) AcquireLock(ctx context.Context, name, holder string, now time.Time, staleAfter time.Duration) error {
	cutoff := now.Add(-staleAfter).UTC()
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO correlation_lock (name, holder, acquired_at) VALUES (?, ?, ?)
		ON CONFLICT (name) DO UPDATE SET holder = excluded.holder, acquired_at = excluded.acquired_at
		WHERE correlation_lock.acquired_at < ?`,
		name, holder, now.UTC(), cutoff,
	)
	if err != nil {
		return fmt.Errorf("acquire lock %q: %w", name, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrLocked
	}
	return nil
}

func (r *SQLiteRunRepository) ReleaseLock(ctx context.Context, name, holder string) error {
	if _, err := r.db.ExecContext(ctx,
		`DELETE FROM correlation_lock WHERE name = ? AND holder = ?`, name, holder); err != nil {
		return fmt.Errorf("release lock %q: %w", name, err)
	}
	return nil
}

func scanRun(row rowScanner) (*models.CorrelationResult, error) {
	var res models.CorrelationResult
	var status, phasesJSON, errorsJSON string
	var finished sql.NullTime
	if err := row.Scan(&res.RunID, &status, &res.StartedAt, &finished, &res.HostsMerged,
		&res.ConflictsDetected, &res.DeviceIdentitiesCreated, &res.ConflictsAutoResolved,
		&phasesJSON, &errorsJSON); err != nil {
		return nil, err
	}
	res.Status = models.RunStatus(status)
	res.StartedAt = res.StartedAt.UTC()
	if finished.Valid {
		res.FinishedAt = finished.Time.UTC()
	}
	if err := json.Unmarshal([]byte(phasesJSON), &res.Phases); err != nil {
		return nil, fmt.Errorf("decode phases of run %q: %w", res.RunID, err)
	}
	if res.Phases == nil {
		res.Phases = []models.PhaseStats{}
	}
	res.Errors = unmarshalStrings(errorsJSON)
	return &res, nil
}
