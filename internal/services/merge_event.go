package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/HerbHall/netcorrelate/pkg/models"
	"github.com/google/uuid"
)

// MergeEventFilter controls which merge events are returned by List.
type MergeEventFilter struct {
	HostGUID string             // Events where this host survived or was merged away.
	Method   models.MergeMethod // Empty returns every method.
}

// MergeEventRepository stores the merge audit trail.
type MergeEventRepository interface {
	// Insert appends an audit record.
	Insert(ctx context.Context, ev *models.MergeEvent) error

	// List returns matching events, newest first by default.
	List(ctx context.Context, filter MergeEventFilter, opts ListOptions) (*ListResult[models.MergeEvent], error)
}

// Compile-time interface guard.
var _ MergeEventRepository = (*SQLiteMergeEventRepository)(nil)

// SQLiteMergeEventRepository implements MergeEventRepository using SQLite.
type SQLiteMergeEventRepository struct {
	db DBTX
}

// NewSQLiteMergeEventRepository creates a MergeEventRepository over db.
func NewSQLiteMergeEventRepository(db DBTX) *SQLiteMergeEventRepository {
	return &SQLiteMergeEventRepository{db: db}
}

func (r *SQLiteMergeEventRepository) Insert(ctx context.Context, ev *models.MergeEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO merge_events (id, survivor_guid, donor_guid, method, match_key, actor, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.SurvivorGUID, ev.DonorGUID, string(ev.Method), ev.MatchKey, ev.Actor, ev.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert merge event: %w", err)
	}
	return nil
}

func (r *SQLiteMergeEventRepository) List(ctx context.Context, filter MergeEventFilter, opts ListOptions) (*ListResult[models.MergeEvent], error) {
	opts = normalizeListOptions(opts)

	where := []string{"1=1"}
	var args []any
	if filter.HostGUID != "" {
		where = append(where, "(survivor_guid = ? OR donor_guid = ?)")
		args = append(args, filter.HostGUID, filter.HostGUID)
	}
	if filter.Method != "" {
		where = append(where, "method = ?")
		args = append(args, string(filter.Method))
	}
	clause := strings.Join(where, " AND ")

	var total int
	if err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM merge_events WHERE "+clause, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count merge events: %w", err)
	}

	//nolint:gosec // clause is built from constant fragments
	rows, err := r.db.QueryContext(ctx,
		"SELECT id, survivor_guid, donor_guid, method, match_key, actor, created_at FROM merge_events WHERE "+
			clause+" ORDER BY created_at "+orderDirection(opts)+", id ASC LIMIT ? OFFSET ?",
		append(args, opts.Limit, opts.Offset)...)
	if err != nil {
		return nil, fmt.Errorf("list merge events: %w", err)
	}
	defer rows.Close()

	events := []models.MergeEvent{}
	for rows.Next() {
		var ev models.MergeEvent
		var method string
		if err := rows.Scan(&ev.ID, &ev.SurvivorGUID, &ev.DonorGUID, &method,
			&ev.MatchKey, &ev.Actor, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan merge event: %w", err)
		}
		ev.Method = models.MergeMethod(method)
		ev.CreatedAt = ev.CreatedAt.UTC()
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate merge events: %w", err)
	}
	return &ListResult[models.MergeEvent]{Items: events, Total: total}, nil
}
