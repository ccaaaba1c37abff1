package services

import (
	"context"
	"fmt"
	"time"

	"github.com/HerbHall/netcorrelate/pkg/models"
)

// ObservationRepository provides access to the records owned by or linked
// to a host: ports, connections, ARP entries, and traceroute hops.
type ObservationRepository interface {
	// UpsertPort inserts a port or refreshes the existing (host, number, protocol) row.
	UpsertPort(ctx context.Context, port *models.Port) error

	// UpdatePort rewrites a port's descriptive fields.
	UpdatePort(ctx context.Context, port *models.Port) error

	// MovePort reassigns a single port to another host.
	MovePort(ctx context.Context, portID, hostID int64) error

	// DeletePort removes a port row.
	DeletePort(ctx context.Context, portID int64) error

	// ListPorts returns a host's ports ordered by protocol and number.
	ListPorts(ctx context.Context, hostID int64) ([]models.Port, error)

	// InsertConnection records a connection owned by connection.HostID.
	InsertConnection(ctx context.Context, conn *models.Connection) error

	// ListConnections returns a host's connections.
	ListConnections(ctx context.Context, hostID int64) ([]models.Connection, error)

	// InsertArpEntry records an ARP observation; HostID zero means unlinked.
	InsertArpEntry(ctx context.Context, entry *models.ArpEntry) error

	// ListArpEntries returns the ARP entries linked to a host.
	ListArpEntries(ctx context.Context, hostID int64) ([]models.ArpEntry, error)

	// LinkArpEntries attaches unlinked ARP entries for ip to hostID.
	LinkArpEntries(ctx context.Context, ip string, hostID int64) (int64, error)

	// InsertRouteHop records a traceroute hop; HostID zero means unlinked.
	InsertRouteHop(ctx context.Context, hop *models.RouteHop) error

	// ListRouteHops returns the hops linked to a host.
	ListRouteHops(ctx context.Context, hostID int64) ([]models.RouteHop, error)

	// ReassignChildren moves connections, ARP entries and route hops from one
	// host to another and reports how many rows moved.
	ReassignChildren(ctx context.Context, fromHostID, toHostID int64) (int64, error)
}

// Compile-time interface guard.
var _ ObservationRepository = (*SQLiteObservationRepository)(nil)

// SQLiteObservationRepository implements ObservationRepository using SQLite.
type SQLiteObservationRepository struct {
	db DBTX
}

// NewSQLiteObservationRepository creates an ObservationRepository over db.
func NewSQLiteObservationRepository(db DBTX) *SQLiteObservationRepository {
	return &SQLiteObservationRepository{db: db}
}

func (r *SQLiteObservationRepository) UpsertPort(ctx context.Context, port *models.Port) error {
	if port.LastSeen.IsZero() {
		port.LastSeen = time.Now().UTC()
	}
	// Empty incoming descriptive fields never erase known values.
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO ports (
			host_id, port_number, protocol, state, service_name, service_version,
			service_product, confidence, tags, last_seen
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (host_id, port_number, protocol) DO UPDATE SET
			state           = COALESCE(NULLIF(excluded.state, ''), ports.state),
			service_name    = COALESCE(NULLIF(excluded.service_name, ''), ports.service_name),
			service_version = COALESCE(NULLIF(excluded.service_version, ''), ports.service_version),
			service_product = COALESCE(NULLIF(excluded.service_product, ''), ports.service_product),
			confidence      = MAX(excluded.confidence, ports.confidence),
			tags            = excluded.tags,
			last_seen       = MAX(excluded.last_seen, ports.last_seen)
		RETURNING id`,
		port.HostID, port.PortNumber, port.Protocol, port.State, port.ServiceName,
		port.ServiceVersion, port.ServiceProduct, port.Confidence,
		marshalStrings(port.Tags), port.LastSeen.UTC(),
	).Scan(&port.ID)
	if err != nil {
		return fmt.Errorf("upsert port %d/%s: %w", port.PortNumber, port.Protocol, err)
	}
	return nil
}

func (r *SQLiteObservationRepository) UpdatePort(ctx context.Context, port *models.Port) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE ports SET
			state = ?, service_name = ?, service_version = ?, service_product = ?,
			confidence = ?, tags = ?, last_seen = ?
		WHERE id = ?`,
		port.State, port.ServiceName, port.ServiceVersion, port.ServiceProduct,
		port.Confidence, marshalStrings(port.Tags), port.LastSeen.UTC(), port.ID,
	)
	if err != nil {
		return fmt.Errorf("update port %d: %w", port.ID, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *SQLiteObservationRepository) MovePort(ctx context.Context, portID, hostID int64) error {
	res, err := r.db.ExecContext(ctx, `UPDATE ports SET host_id = ? WHERE id = ?`, hostID, portID)
	if err != nil {
		return fmt.Errorf("move port %d: %w", portID, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *SQLiteObservationRepository) DeletePort(ctx context.Context, portID int64) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM ports WHERE id = ?`, portID); err != nil {
		return fmt.Errorf("delete port %d: %w", portID, err)
	}
	return nil
}

func (r *SQLiteObservationRepository) ListPorts(ctx context.Context, hostID int64) ([]models.Port, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, host_id, port_number, protocol, state, service_name, service_version,
			service_product, confidence, tags, last_seen
		FROM ports WHERE host_id = ? ORDER BY protocol ASC, port_number ASC`, hostID)
	if err != nil {
		return nil, fmt.Errorf("list ports: %w", err)
	}
	defer rows.Close()

	ports := []models.Port{}
	for rows.Next() {
		var p models.Port
		var tagsJSON string
		if err := rows.Scan(&p.ID, &p.HostID, &p.PortNumber, &p.Protocol, &p.State,
			&p.ServiceName, &p.ServiceVersion, &p.ServiceProduct, &p.Confidence,
			&tagsJSON, &p.LastSeen); err != nil {
			return nil, fmt.Errorf("scan port: %w", err)
		}
		p.Tags = unmarshalStrings(tagsJSON)
		ports = append(ports, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ports: %w", err)
	}
	return ports, nil
}

func (r *SQLiteObservationRepository) InsertConnection(ctx context.Context, conn *models.Connection) error {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO connections (
			host_id, local_ip, local_port, remote_ip, remote_port, protocol, state, process, tags
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		conn.HostID, conn.LocalIP, conn.LocalPort, conn.RemoteIP, conn.RemotePort,
		conn.Protocol, conn.State, conn.Process, marshalStrings(conn.Tags),
	)
	if err != nil {
		return fmt.Errorf("insert connection: %w", err)
	}
	conn.ID, _ = res.LastInsertId()
	return nil
}

func (r *SQLiteObservationRepository) ListConnections(ctx context.Context, hostID int64) ([]models.Connection, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, host_id, local_ip, local_port, remote_ip, remote_port, protocol, state, process, tags
		FROM connections WHERE host_id = ? ORDER BY id ASC`, hostID)
	if err != nil {
		return nil, fmt.Errorf("list connections: %w", err)
	}
	defer rows.Close()

	conns := []models.Connection{}
	for rows.Next() {
		var c models.Connection
		var tagsJSON string
		if err := rows.Scan(&c.ID, &c.HostID, &c.LocalIP, &c.LocalPort, &c.RemoteIP,
			&c.RemotePort, &c.Protocol, &c.State, &c.Process, &tagsJSON); err != nil {
			return nil, fmt.Errorf("scan connection: %w", err)
		}
		c.Tags = unmarshalStrings(tagsJSON)
		conns = append(conns, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate connections: %w", err)
	}
	return conns, nil
}

func (r *SQLiteObservationRepository) InsertArpEntry(ctx context.Context, entry *models.ArpEntry) error {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO arp_entries (host_id, ip_address, mac_address, interface, entry_type, vendor, tags)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		nullableID(entry.HostID), entry.IPAddress, entry.MACAddress, entry.Interface,
		string(entry.EntryType), entry.Vendor, marshalStrings(entry.Tags),
	)
	if err != nil {
		return fmt.Errorf("insert arp entry: %w", err)
	}
	entry.ID, _ = res.LastInsertId()
	return nil
}

func (r *SQLiteObservationRepository) ListArpEntries(ctx context.Context, hostID int64) ([]models.ArpEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, host_id, ip_address, mac_address, interface, entry_type, vendor, tags
		FROM arp_entries WHERE host_id = ? ORDER BY id ASC`, hostID)
	if err != nil {
		return nil, fmt.Errorf("list arp entries: %w", err)
	}
	defer rows.Close()

	entries := []models.ArpEntry{}
	for rows.Next() {
		var a models.ArpEntry
		var entryType, tagsJSON string
		if err := rows.Scan(&a.ID, &a.HostID, &a.IPAddress, &a.MACAddress, &a.Interface,
			&entryType, &a.Vendor, &tagsJSON); err != nil {
			return nil, fmt.Errorf("scan arp entry: %w", err)
		}
		a.EntryType = models.ArpEntryType(entryType)
		a.Tags = unmarshalStrings(tagsJSON)
		entries = append(entries, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate arp entries: %w", err)
	}
	return entries, nil
}

func (r *SQLiteObservationRepository) LinkArpEntries(ctx context.Context, ip string, hostID int64) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE arp_entries SET host_id = ? WHERE host_id IS NULL AND ip_address = ?`, hostID, ip)
	if err != nil {
		return 0, fmt.Errorf("link arp entries: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (r *SQLiteObservationRepository) InsertRouteHop(ctx context.Context, hop *models.RouteHop) error {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO route_hops (host_id, trace_id, hop_number, ip_address, hostname, rtt_ms, tags)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		nullableID(hop.HostID), hop.TraceID, hop.HopNumber, hop.IPAddress, hop.Hostname,
		hop.RTTMs, marshalStrings(hop.Tags),
	)
	if err != nil {
		return fmt.Errorf("insert route hop: %w", err)
	}
	hop.ID, _ = res.LastInsertId()
	return nil
}

func (r *SQLiteObservationRepository) ListRouteHops(ctx context.Context, hostID int64) ([]models.RouteHop, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, host_id, trace_id, hop_number, ip_address, hostname, rtt_ms, tags
		FROM route_hops WHERE host_id = ? ORDER BY trace_id ASC, hop_number ASC`, hostID)
	if err != nil {
		return nil, fmt.Errorf("list route hops: %w", err)
	}
	defer rows.Close()

	hops := []models.RouteHop{}
	for rows.Next() {
		var h models.RouteHop
		var tagsJSON string
		if err := rows.Scan(&h.ID, &h.HostID, &h.TraceID, &h.HopNumber, &h.IPAddress,
			&h.Hostname, &h.RTTMs, &tagsJSON); err != nil {
			return nil, fmt.Errorf("scan route hop: %w", err)
		}
		h.Tags = unmarshalStrings(tagsJSON)
		hops = append(hops, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate route hops: %w", err)
	}
	return hops, nil
}

func (r *SQLiteObservationRepository) ReassignChildren(ctx context.Context, fromHostID, toHostID int64) (int64, error) {
	var moved int64
	for _, table := range []string{"connections", "arp_entries", "route_hops"} {
		//nolint:gosec // table names are constants
		res, err := r.db.ExecContext(ctx,
			"UPDATE "+table+" SET host_id = ? WHERE host_id = ?", toHostID, fromHostID)
		if err != nil {
			return moved, fmt.Errorf("reassign %s: %w", table, err)
		}
		n, _ := res.RowsAffected()
		moved += n
	}
	return moved, nil
}

// nullableID maps the zero id to SQL NULL.
func nullableID(id int64) any {
	if id == 0 {
		return nil
	}
	return id
}
