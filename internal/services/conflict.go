package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/HerbHall/netcorrelate/internal/store"
	"github.com/HerbHall/netcorrelate/pkg/models"
	"github.com/google/uuid"
)

// ConflictFilter controls which conflicts are returned by List.
type ConflictFilter struct {
	Status   models.ConflictStatus // Empty returns every status.
	Reason   models.ConflictReason // Empty returns every reason.
	HostGUID string                // Conflicts that reference this host.
}

// ConflictRepository provides access to recorded merge conflicts.
type ConflictRepository interface {
	// Create inserts a conflict. A second conflict with the same reason and
	// host set returns ErrAlreadyExists.
	Create(ctx context.Context, c *models.Conflict) error

	// Get returns a conflict by ID.
	Get(ctx context.Context, id string) (*models.Conflict, error)

	// FindByPair returns the conflict for reason over exactly the given hosts.
	FindByPair(ctx context.Context, reason models.ConflictReason, guids []string) (*models.Conflict, error)

	// List returns a filtered, paginated list ordered by detected_at.
	List(ctx context.Context, filter ConflictFilter, opts ListOptions) (*ListResult[models.Conflict], error)

	// ListUnresolved returns every unresolved conflict, oldest first.
	ListUnresolved(ctx context.Context) ([]models.Conflict, error)

	// Resolve closes an unresolved conflict. It returns ErrNotFound when no
	// unresolved conflict with that ID exists.
	Resolve(ctx context.Context, id, resolution string, method models.ResolutionMethod, resolvedBy string, at time.Time) error
}

// Compile-time interface guard.
var _ ConflictRepository = (*SQLiteConflictRepository)(nil)

// SQLiteConflictRepository implements ConflictRepository using SQLite.
type SQLiteConflictRepository struct {
	db DBTX
}

// NewSQLiteConflictRepository creates a ConflictRepository over db.
func NewSQLiteConflictRepository(db DBTX) *SQLiteConflictRepository {
	return &SQLiteConflictRepository{db: db}
}

// PairKey is the order-independent identity of a host set.
func PairKey(guids []string) string {
	sorted := append([]string(nil), guids...)
	sort.Strings(sorted)
	return strings.Join(sorted, ",")
}

const conflictColumns = `id, reason, match_key, detected_at, status, resolution,
	resolution_method, resolved_by, resolved_at`

func (r *SQLiteConflictRepository) Create(ctx context.Context, c *models.Conflict) error {
	if len(c.HostGUIDs) < 2 {
		return fmt.Errorf("create conflict: need at least two hosts, got %d", len(c.HostGUIDs))
	}
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.DetectedAt.IsZero() {
		c.DetectedAt = time.Now().UTC()
	}
	if c.Status == "" {
		c.Status = models.ConflictUnresolved
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO conflicts (id, reason, match_key, pair_key, detected_at, status)
		VALUES (?, ?, ?, ?, ?, ?)`,
		c.ID, string(c.Reason), c.MatchKey, PairKey(c.HostGUIDs), c.DetectedAt.UTC(), string(c.Status),
	)
	if err != nil {
		if store.IsUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("insert conflict: %w", err)
	}
	for i, guid := range c.HostGUIDs {
		if _, err := r.db.ExecContext(ctx, `
			INSERT INTO conflict_hosts (conflict_id, host_guid, position) VALUES (?, ?, ?)`,
			c.ID, guid, i); err != nil {
			return fmt.Errorf("insert conflict host: %w", err)
		}
	}
	return nil
}

func (r *SQLiteConflictRepository) Get(ctx context.Context, id string) (*models.Conflict, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+conflictColumns+` FROM conflicts WHERE id = ?`, id)
	c, err := scanConflict(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get conflict %q: %w", id, err)
	}
	if err := r.loadHosts(ctx, []*models.Conflict{c}); err != nil {
		return nil, err
	}
	return c, nil
}

func (r *SQLiteConflictRepository) FindByPair(ctx context.Context, reason models.ConflictReason, guids []string) (*models.Conflict, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+conflictColumns+` FROM conflicts WHERE reason = ? AND pair_key = ?`,
		string(reason), PairKey(guids))
	c, err := scanConflict(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find conflict: %w", err)
	}
	if err := r.loadHosts(ctx, []*models.Conflict{c}); err != nil {
		return nil, err
	}
	return c, nil
}

func (r *SQLiteConflictRepository) List(ctx context.Context, filter ConflictFilter, opts ListOptions) (*ListResult[models.Conflict], error) {
	opts = normalizeListOptions(opts)

	where := []string{"1=1"}
	var args []any
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.Reason != "" {
		where = append(where, "reason = ?")
		args = append(args, string(filter.Reason))
	}
	if filter.HostGUID != "" {
		where = append(where, "id IN (SELECT conflict_id FROM conflict_hosts WHERE host_guid = ?)")
		args = append(args, filter.HostGUID)
	}
	clause := strings.Join(where, " AND ")

	var total int
	if err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM conflicts WHERE "+clause, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count conflicts: %w", err)
	}

	//nolint:gosec // clause is built from constant fragments
	query := "SELECT " + conflictColumns + " FROM conflicts WHERE " + clause +
		" ORDER BY detected_at " + orderDirection(opts) + ", id ASC LIMIT ? OFFSET ?"
	items, err := r.query(ctx, query, append(args, opts.Limit, opts.Offset)...)
	if err != nil {
		return nil, err
	}
	return &ListResult[models.Conflict]{Items: items, Total: total}, nil
}

func (r *SQLiteConflictRepository) ListUnresolved(ctx context.Context) ([]models.Conflict, error) {
	return r.query(ctx,
		"SELECT "+conflictColumns+" FROM conflicts WHERE status = ? ORDER BY detected_at ASC, id ASC",
		string(models.ConflictUnresolved))
}

func (r *SQLiteConflictRepository) Resolve(ctx context.Context, id, resolution string, method models.ResolutionMethod, resolvedBy string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE conflicts SET
			status = ?, resolution = ?, resolution_method = ?, resolved_by = ?, resolved_at = ?
		WHERE id = ? AND status = ?`,
		string(models.ConflictResolved), resolution, string(method), resolvedBy, at.UTC(),
		id, string(models.ConflictUnresolved),
	)
	if err != nil {
		return fmt.Errorf("resolve conflict %q: %w", id, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *SQLiteConflictRepository) query(ctx context.Context, query string, args ...any) ([]models.Conflict, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query conflicts: %w", err)
	}
	var ptrs []*models.Conflict
	for rows.Next() {
		c, err := scanConflict(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan conflict: %w", err)
		}
		ptrs = append(ptrs, c)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterate conflicts: %w", err)
	}
	rows.Close()

	if err := r.loadHosts(ctx, ptrs); err != nil {
		return nil, err
	}
	out := make([]models.Conflict, 0, len(ptrs))
	for _, c := range ptrs {
		out = append(out, *c)
	}
	return out, nil
}

// loadHosts fills HostGUIDs in recorded order. The conflict rows must be
// fully read before calling, since the store has a single connection.
func (r *SQLiteConflictRepository) loadHosts(ctx context.Context, conflicts []*models.Conflict) error {
	if len(conflicts) == 0 {
		return nil
	}
	byID := make(map[string]*models.Conflict, len(conflicts))
	args := make([]any, 0, len(conflicts))
	for _, c := range conflicts {
		c.HostGUIDs = []string{}
		byID[c.ID] = c
		args = append(args, c.ID)
	}

	//nolint:gosec // placeholders only
	rows, err := r.db.QueryContext(ctx,
		"SELECT conflict_id, host_guid FROM conflict_hosts WHERE conflict_id IN ("+
			placeholders(len(args))+") ORDER BY conflict_id, position", args...)
	if err != nil {
		return fmt.Errorf("load conflict hosts: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id, guid string
		if err := rows.Scan(&id, &guid); err != nil {
			return fmt.Errorf("scan conflict host: %w", err)
		}
		if c, ok := byID[id]; ok {
			c.HostGUIDs = append(c.HostGUIDs, guid)
		}
	}
	return rows.Err()
}

func scanConflict(row rowScanner) (*models.Conflict, error) {
	var c models.Conflict
	var reason, status, method string
	var resolvedAt sql.NullTime
	if err := row.Scan(&c.ID, &reason, &c.MatchKey, &c.DetectedAt, &status,
		&c.Resolution, &method, &c.ResolvedBy, &resolvedAt); err != nil {
		return nil, err
	}
	c.Reason = models.ConflictReason(reason)
	c.Status = models.ConflictStatus(status)
	c.ResolutionMethod = models.ResolutionMethod(method)
	c.DetectedAt = c.DetectedAt.UTC()
	if resolvedAt.Valid {
		t := resolvedAt.Time.UTC()
		c.ResolvedAt = &t
	}
	return &c, nil
}
