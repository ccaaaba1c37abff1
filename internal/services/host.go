package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/HerbHall/netcorrelate/pkg/models"
	"github.com/google/uuid"
)

// HostFilter controls which hosts are returned by List.
type HostFilter struct {
	IPAddress  string // Exact match on ip_address.
	MACAddress string // Exact match on normalized mac_address.
	Search     string // Search hostname, fqdn, IP, or MAC.
	SourceType string // Hosts contributed to by this import format.
}

// HostRepository provides access to canonical host rows.
type HostRepository interface {
	// Get returns a single host by GUID.
	Get(ctx context.Context, guid string) (*models.Host, error)

	// GetByIP returns the oldest host at ip (earliest first_seen, then lowest id).
	GetByIP(ctx context.Context, ip string) (*models.Host, error)

	// List returns a filtered, paginated list of hosts.
	List(ctx context.Context, filter HostFilter, opts ListOptions) (*ListResult[models.Host], error)

	// ListAll returns every host ordered by first_seen, then id.
	ListAll(ctx context.Context) ([]models.Host, error)

	// ListByGUIDs returns the hosts whose GUIDs are given, ordered by ip_address.
	ListByGUIDs(ctx context.Context, guids []string) ([]models.Host, error)

	// Create inserts a new host. If host.GUID is empty, a UUID is generated.
	Create(ctx context.Context, host *models.Host) error

	// Update modifies an existing host's mutable fields. The GUID is never written.
	Update(ctx context.Context, host *models.Host) error

	// Delete removes a host row by internal id.
	Delete(ctx context.Context, id int64) error
}

// Compile-time interface guard.
var _ HostRepository = (*SQLiteHostRepository)(nil)

// SQLiteHostRepository implements HostRepository using SQLite.
type SQLiteHostRepository struct {
	db DBTX
}

// NewSQLiteHostRepository creates a HostRepository over db.
// The hosts table must already exist (see Migrations).
func NewSQLiteHostRepository(db DBTX) *SQLiteHostRepository {
	return &SQLiteHostRepository{db: db}
}

// hostColumns is the shared column list for host queries.
const hostColumns = `id, guid, ip_address, ip_v6_address, mac_address, hostname, fqdn,
	os_name, os_family, os_confidence, vendor, device_type, criticality,
	is_active, is_verified, first_seen, last_seen, source_types, tags`

func (r *SQLiteHostRepository) Get(ctx context.Context, guid string) (*models.Host, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+hostColumns+` FROM hosts WHERE guid = ?`, guid)
	h, err := scanHost(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get host %q: %w", guid, err)
	}
	return h, nil
}

func (r *SQLiteHostRepository) GetByIP(ctx context.Context, ip string) (*models.Host, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+hostColumns+` FROM hosts WHERE ip_address = ?
		ORDER BY first_seen ASC, id ASC LIMIT 1`, ip)
	h, err := scanHost(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get host by ip %q: %w", ip, err)
	}
	return h, nil
}

func (r *SQLiteHostRepository) List(ctx context.Context, filter HostFilter, opts ListOptions) (*ListResult[models.Host], error) {
	opts = normalizeListOptions(opts)

	sortCol := "last_seen"
	allowedSorts := map[string]string{
		"ip_address": "ip_address",
		"hostname":   "hostname",
		"first_seen": "first_seen",
		"last_seen":  "last_seen",
	}
	if opts.SortBy != "" {
		if col, ok := allowedSorts[opts.SortBy]; ok {
			sortCol = col
		}
	}

	where := "1=1"
	var args []any

	if filter.IPAddress != "" {
		where += " AND ip_address = ?"
		args = append(args, filter.IPAddress)
	}
	if filter.MACAddress != "" {
		where += " AND mac_address = ?"
		args = append(args, filter.MACAddress)
	}
	if filter.Search != "" {
		where += " AND (hostname LIKE ? OR fqdn LIKE ? OR ip_address LIKE ? OR mac_address LIKE ?)"
		pattern := "%" + filter.Search + "%"
		args = append(args, pattern, pattern, pattern, pattern)
	}
	if filter.SourceType != "" {
		where += " AND EXISTS (SELECT 1 FROM json_each(hosts.source_types) WHERE json_each.value = ?)"
		args = append(args, filter.SourceType)
	}

	var total int
	//nolint:gosec // where uses parameterized placeholders only
	err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM hosts WHERE "+where, args...,
	).Scan(&total)
	if err != nil {
		return nil, fmt.Errorf("count hosts: %w", err)
	}

	queryArgs := make([]any, 0, len(args)+2)
	queryArgs = append(queryArgs, args...)
	queryArgs = append(queryArgs, opts.Limit, opts.Offset)

	//nolint:gosec // where and sortCol are validated above, not user input
	query := fmt.Sprintf(
		"SELECT %s FROM hosts WHERE %s ORDER BY %s %s, id ASC LIMIT ? OFFSET ?",
		hostColumns, where, sortCol, orderDirection(opts),
	)

	hosts, err := r.query(ctx, query, queryArgs...)
	if err != nil {
		return nil, fmt.Errorf("list hosts: %w", err)
	}
	return &ListResult[models.Host]{Items: hosts, Total: total}, nil
}

func (r *SQLiteHostRepository) ListAll(ctx context.Context) ([]models.Host, error) {
	hosts, err := r.query(ctx,
		`SELECT `+hostColumns+` FROM hosts ORDER BY first_seen ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list all hosts: %w", err)
	}
	return hosts, nil
}

func (r *SQLiteHostRepository) ListByGUIDs(ctx context.Context, guids []string) ([]models.Host, error) {
	if len(guids) == 0 {
		return []models.Host{}, nil
	}
	args := make([]any, len(guids))
	for i, g := range guids {
		args[i] = g
	}
	//nolint:gosec // placeholders only
	hosts, err := r.query(ctx,
		`SELECT `+hostColumns+` FROM hosts WHERE guid IN (`+placeholders(len(guids))+`)
		ORDER BY ip_address ASC, id ASC`, args...)
	if err != nil {
		return nil, fmt.Errorf("list hosts by guid: %w", err)
	}
	return hosts, nil
}

func (r *SQLiteHostRepository) Create(ctx context.Context, host *models.Host) error {
	if host.GUID == "" {
		host.GUID = uuid.New().String()
	}
	now := time.Now().UTC()
	if host.FirstSeen.IsZero() {
		host.FirstSeen = now
	}
	if host.LastSeen.IsZero() {
		host.LastSeen = host.FirstSeen
	}
	if host.SourceTypes == nil {
		host.SourceTypes = []string{}
	}
	if host.Tags == nil {
		host.Tags = []string{}
	}

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO hosts (
			guid, ip_address, ip_v6_address, mac_address, hostname, fqdn,
			os_name, os_family, os_confidence, vendor, device_type, criticality,
			is_active, is_verified, first_seen, last_seen, source_types, tags
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		host.GUID, host.IPAddress, host.IPv6Address, host.MACAddress, host.Hostname, host.FQDN,
		host.OSName, host.OSFamily, host.OSConfidence, host.Vendor, host.DeviceType, string(host.Criticality),
		host.IsActive, host.IsVerified, host.FirstSeen.UTC(), host.LastSeen.UTC(),
		marshalStrings(host.SourceTypes), marshalStrings(host.Tags),
	)
	if err != nil {
		return fmt.Errorf("create host: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("create host: last insert id: %w", err)
	}
	host.ID = id
	return nil
}

func (r *SQLiteHostRepository) Update(ctx context.Context, host *models.Host) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE hosts SET
			ip_address = ?, ip_v6_address = ?, mac_address = ?, hostname = ?, fqdn = ?,
			os_name = ?, os_family = ?, os_confidence = ?, vendor = ?, device_type = ?,
			criticality = ?, is_active = ?, is_verified = ?, first_seen = ?, last_seen = ?,
			source_types = ?, tags = ?
		WHERE guid = ?`,
		host.IPAddress, host.IPv6Address, host.MACAddress, host.Hostname, host.FQDN,
		host.OSName, host.OSFamily, host.OSConfidence, host.Vendor, host.DeviceType,
		string(host.Criticality), host.IsActive, host.IsVerified, host.FirstSeen.UTC(), host.LastSeen.UTC(),
		marshalStrings(host.SourceTypes), marshalStrings(host.Tags),
		host.GUID,
	)
	if err != nil {
		return fmt.Errorf("update host: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *SQLiteHostRepository) Delete(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM hosts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete host: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *SQLiteHostRepository) query(ctx context.Context, query string, args ...any) ([]models.Host, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	hosts := []models.Host{}
	for rows.Next() {
		h, err := scanHost(rows)
		if err != nil {
			return nil, err
		}
		hosts = append(hosts, *h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate hosts: %w", err)
	}
	return hosts, nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanHost(row rowScanner) (*models.Host, error) {
	var h models.Host
	var criticality, sourcesJSON, tagsJSON string
	err := row.Scan(
		&h.ID, &h.GUID, &h.IPAddress, &h.IPv6Address, &h.MACAddress, &h.Hostname, &h.FQDN,
		&h.OSName, &h.OSFamily, &h.OSConfidence, &h.Vendor, &h.DeviceType, &criticality,
		&h.IsActive, &h.IsVerified, &h.FirstSeen, &h.LastSeen, &sourcesJSON, &tagsJSON,
	)
	if err != nil {
		return nil, err
	}
	h.Criticality = models.Criticality(criticality)
	h.SourceTypes = unmarshalStrings(sourcesJSON)
	h.Tags = unmarshalStrings(tagsJSON)
	h.FirstSeen = h.FirstSeen.UTC()
	h.LastSeen = h.LastSeen.UTC()
	return &h, nil
}
