package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/HerbHall/netcorrelate/internal/store"
	"github.com/HerbHall/netcorrelate/pkg/models"
	"github.com/google/uuid"
)

// IdentityRepository provides access to device identities and their members.
type IdentityRepository interface {
	// Get returns an identity by ID with its members.
	Get(ctx context.Context, id string) (*models.DeviceIdentity, error)

	// GetByMAC returns the identity keyed by a normalized MAC address.
	GetByMAC(ctx context.Context, mac string) (*models.DeviceIdentity, error)

	// Create inserts an identity and its initial members.
	Create(ctx context.Context, ident *models.DeviceIdentity) error

	// AddMembers adds GUIDs that are not yet members and returns how many
	// were added.
	AddMembers(ctx context.Context, id string, guids []string) (int, error)

	// ReplaceMember moves every membership of oldGUID to newGUID. Identities
	// that already contain newGUID simply drop oldGUID.
	ReplaceMember(ctx context.Context, oldGUID, newGUID string) error

	// ListForHost returns the identities that contain guid.
	ListForHost(ctx context.Context, guid string) ([]models.DeviceIdentity, error)

	// List returns a paginated list ordered by created_at.
	List(ctx context.Context, opts ListOptions) (*ListResult[models.DeviceIdentity], error)
}

// Compile-time interface guard.
var _ IdentityRepository = (*SQLiteIdentityRepository)(nil)

// SQLiteIdentityRepository implements IdentityRepository using SQLite.
type SQLiteIdentityRepository struct {
	db DBTX
}

// NewSQLiteIdentityRepository creates an IdentityRepository over db.
func NewSQLiteIdentityRepository(db DBTX) *SQLiteIdentityRepository {
	return &SQLiteIdentityRepository{db: db}
}

func (r *SQLiteIdentityRepository) Get(ctx context.Context, id string) (*models.DeviceIdentity, error) {
	return r.getOne(ctx, `SELECT id, mac_address, created_at, updated_at FROM device_identities WHERE id = ?`, id)
}

func (r *SQLiteIdentityRepository) GetByMAC(ctx context.Context, mac string) (*models.DeviceIdentity, error) {
	return r.getOne(ctx, `SELECT id, mac_address, created_at, updated_at FROM device_identities WHERE mac_address = ?`, mac)
}

func (r *SQLiteIdentityRepository) getOne(ctx context.Context, query string, arg any) (*models.DeviceIdentity, error) {
	var ident models.DeviceIdentity
	err := r.db.QueryRowContext(ctx, query, arg).Scan(
		&ident.ID, &ident.MACAddress, &ident.CreatedAt, &ident.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get identity: %w", err)
	}
	ident.CreatedAt = ident.CreatedAt.UTC()
	ident.UpdatedAt = ident.UpdatedAt.UTC()
	if err := r.loadMembers(ctx, []*models.DeviceIdentity{&ident}); err != nil {
		return nil, err
	}
	return &ident, nil
}

func (r *SQLiteIdentityRepository) Create(ctx context.Context, ident *models.DeviceIdentity) error {
	if ident.ID == "" {
		ident.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if ident.CreatedAt.IsZero() {
		ident.CreatedAt = now
	}
	ident.CreatedAt = ident.CreatedAt.UTC()
	ident.UpdatedAt = ident.CreatedAt

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO device_identities (id, mac_address, created_at, updated_at)
		VALUES (?, ?, ?, ?)`,
		ident.ID, ident.MACAddress, ident.CreatedAt, ident.UpdatedAt,
	)
	if err != nil {
		if store.IsUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("insert identity: %w", err)
	}

	members := ident.MemberGUIDs
	ident.MemberGUIDs = nil
	if _, err := r.insertMembers(ctx, ident.ID, members, now); err != nil {
		return err
	}
	ident.MemberGUIDs = append([]string{}, members...)
	return nil
}

func (r *SQLiteIdentityRepository) AddMembers(ctx context.Context, id string, guids []string) (int, error) {
	now := time.Now().UTC()
	added, err := r.insertMembers(ctx, id, guids, now)
	if err != nil {
		return added, err
	}
	if added > 0 {
		if _, err := r.db.ExecContext(ctx,
			`UPDATE device_identities SET updated_at = ? WHERE id = ?`, now, id); err != nil {
			return added, fmt.Errorf("touch identity: %w", err)
		}
	}
	return added, nil
}

func (r *SQLiteIdentityRepository) insertMembers(ctx context.Context, id string, guids []string, at time.Time) (int, error) {
	added := 0
	for _, guid := range guids {
		res, err := r.db.ExecContext(ctx, `
			INSERT INTO device_identity_members (identity_id, host_guid, added_at)
			VALUES (?, ?, ?) ON CONFLICT DO NOTHING`, id, guid, at)
		if err != nil {
			return added, fmt.Errorf("insert identity member: %w", err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			added++
		}
	}
	return added, nil
}

func (r *SQLiteIdentityRepository) ReplaceMember(ctx context.Context, oldGUID, newGUID string) error {
	if oldGUID == newGUID {
		return nil
	}
	if _, err := r.db.ExecContext(ctx, `
		UPDATE OR IGNORE device_identity_members SET host_guid = ? WHERE host_guid = ?`,
		newGUID, oldGUID); err != nil {
		return fmt.Errorf("replace identity member: %w", err)
	}
	// Rows left behind were already shared with newGUID.
	if _, err := r.db.ExecContext(ctx,
		`DELETE FROM device_identity_members WHERE host_guid = ?`, oldGUID); err != nil {
		return fmt.Errorf("drop identity member: %w", err)
	}
	return nil
}

func (r *SQLiteIdentityRepository) ListForHost(ctx context.Context, guid string) ([]models.DeviceIdentity, error) {
	return r.query(ctx, `
		SELECT id, mac_address, created_at, updated_at FROM device_identities
		WHERE id IN (SELECT identity_id FROM device_identity_members WHERE host_guid = ?)
		ORDER BY created_at ASC, id ASC`, guid)
}

func (r *SQLiteIdentityRepository) List(ctx context.Context, opts ListOptions) (*ListResult[models.DeviceIdentity], error) {
	opts = normalizeListOptions(opts)

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM device_identities`).Scan(&total); err != nil {
		return nil, fmt.Errorf("count identities: %w", err)
	}
	items, err := r.query(ctx,
		"SELECT id, mac_address, created_at, updated_at FROM device_identities ORDER BY created_at "+
			orderDirection(opts)+", id ASC LIMIT ? OFFSET ?", opts.Limit, opts.Offset)
	if err != nil {
		return nil, err
	}
	return &ListResult[models.DeviceIdentity]{Items: items, Total: total}, nil
}

func (r *SQLiteIdentityRepository) query(ctx context.Context, query string, args ...any) ([]models.DeviceIdentity, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query identities: %w", err)
	}
	var ptrs []*models.DeviceIdentity
	for rows.Next() {
		var ident models.DeviceIdentity
		if err := rows.Scan(&ident.ID, &ident.MACAddress, &ident.CreatedAt, &ident.UpdatedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan identity: %w", err)
		}
		ident.CreatedAt = ident.CreatedAt.UTC()
		ident.UpdatedAt = ident.UpdatedAt.UTC()
		ptrs = append(ptrs, &ident)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterate identities: %w", err)
	}
	rows.Close()

	if err := r.loadMembers(ctx, ptrs); err != nil {
		return nil, err
	}
	out := make([]models.DeviceIdentity, 0, len(ptrs))
	for _, p := range ptrs {
		out = append(out, *p)
	}
	return out, nil
}

func (r *SQLiteIdentityRepository) loadMembers(ctx context.Context, idents []*models.DeviceIdentity) error {
	if len(idents) == 0 {
		return nil
	}
	byID := make(map[string]*models.DeviceIdentity, len(idents))
	args := make([]any, 0, len(idents))
	for _, ident := range idents {
		ident.MemberGUIDs = []string{}
		byID[ident.ID] = ident
		args = append(args, ident.ID)
	}

	//nolint:gosec // placeholders only
	rows, err := r.db.QueryContext(ctx,
		"SELECT identity_id, host_guid FROM device_identity_members WHERE identity_id IN ("+
			placeholders(len(args))+") ORDER BY identity_id, added_at, host_guid", args...)
	if err != nil {
		return fmt.Errorf("load identity members: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id, guid string
		if err := rows.Scan(&id, &guid); err != nil {
			return fmt.Errorf("scan identity member: %w", err)
		}
		if ident, ok := byID[id]; ok {
			ident.MemberGUIDs = append(ident.MemberGUIDs, guid)
		}
	}
	return rows.Err()
}
