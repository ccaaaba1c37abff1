package services

import (
	"database/sql"

	"github.com/HerbHall/netcorrelate/pkg/plugin"
)

// PluginName owns the inventory schema in the shared _migrations table.
const PluginName = "inventory"

// Migrations returns the inventory schema in ascending version order.
func Migrations() []plugin.Migration {
	return []plugin.Migration{
		{
			Version:     1,
			Description: "create host inventory tables",
			Up:          execAll(inventorySchema),
		},
		{
			Version:     2,
			Description: "create correlation bookkeeping tables",
			Up:          execAll(correlationSchema),
		},
	}
}

func execAll(stmts []string) func(tx *sql.Tx) error {
	return func(tx *sql.Tx) error {
		for _, stmt := range stmts {
			if _, err := tx.Exec(stmt); err != nil {
				return err
			}
		}
		return nil
	}
}

// Host children reference hosts(id) without ON DELETE CASCADE so that a host
// row cannot be deleted while it still owns ports or connections.
var inventorySchema = []string{
	`CREATE TABLE hosts (
		id            INTEGER PRIMARY KEY AUTOINCREMENT,
		guid          TEXT    NOT NULL UNIQUE,
		ip_address    TEXT    NOT NULL,
		ip_v6_address TEXT    NOT NULL DEFAULT '',
		mac_address   TEXT    NOT NULL DEFAULT '',
		hostname      TEXT    NOT NULL DEFAULT '',
		fqdn          TEXT    NOT NULL DEFAULT '',
		os_name       TEXT    NOT NULL DEFAULT '',
		os_family     TEXT    NOT NULL DEFAULT '',
		os_confidence INTEGER NOT NULL DEFAULT 0,
		vendor        TEXT    NOT NULL DEFAULT '',
		device_type   TEXT    NOT NULL DEFAULT '',
		criticality   TEXT    NOT NULL DEFAULT '',
		is_active     INTEGER NOT NULL DEFAULT 1,
		is_verified   INTEGER NOT NULL DEFAULT 0,
		first_seen    DATETIME NOT NULL,
		last_seen     DATETIME NOT NULL,
		source_types  TEXT    NOT NULL DEFAULT '[]',
		tags          TEXT    NOT NULL DEFAULT '[]'
	)`,
	`CREATE INDEX idx_hosts_ip ON hosts(ip_address)`,
	`CREATE INDEX idx_hosts_mac ON hosts(mac_address)`,
	`CREATE INDEX idx_hosts_first_seen ON hosts(first_seen, id)`,
	`CREATE TABLE ports (
		id              INTEGER PRIMARY KEY AUTOINCREMENT,
		host_id         INTEGER NOT NULL REFERENCES hosts(id),
		port_number     INTEGER NOT NULL,
		protocol        TEXT    NOT NULL,
		state           TEXT    NOT NULL DEFAULT '',
		service_name    TEXT    NOT NULL DEFAULT '',
		service_version TEXT    NOT NULL DEFAULT '',
		service_product TEXT    NOT NULL DEFAULT '',
		confidence      INTEGER NOT NULL DEFAULT 0,
		tags            TEXT    NOT NULL DEFAULT '[]',
		last_seen       DATETIME NOT NULL,
		UNIQUE (host_id, port_number, protocol)
	)`,
	`CREATE TABLE connections (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		host_id     INTEGER NOT NULL REFERENCES hosts(id),
		local_ip    TEXT    NOT NULL,
		local_port  INTEGER NOT NULL DEFAULT 0,
		remote_ip   TEXT    NOT NULL DEFAULT '',
		remote_port INTEGER NOT NULL DEFAULT 0,
		protocol    TEXT    NOT NULL DEFAULT '',
		state       TEXT    NOT NULL DEFAULT '',
		process     TEXT    NOT NULL DEFAULT '',
		tags        TEXT    NOT NULL DEFAULT '[]'
	)`,
	`CREATE INDEX idx_connections_host ON connections(host_id)`,
	`CREATE TABLE arp_entries (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		host_id     INTEGER REFERENCES hosts(id) ON DELETE SET NULL,
		ip_address  TEXT    NOT NULL,
		mac_address TEXT    NOT NULL,
		interface   TEXT    NOT NULL DEFAULT '',
		entry_type  TEXT    NOT NULL DEFAULT '',
		vendor      TEXT    NOT NULL DEFAULT '',
		tags        TEXT    NOT NULL DEFAULT '[]'
	)`,
	`CREATE INDEX idx_arp_entries_host ON arp_entries(host_id)`,
	`CREATE INDEX idx_arp_entries_ip ON arp_entries(ip_address)`,
	`CREATE TABLE route_hops (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		host_id     INTEGER REFERENCES hosts(id) ON DELETE SET NULL,
		trace_id    TEXT    NOT NULL,
		hop_number  INTEGER NOT NULL,
		ip_address  TEXT    NOT NULL DEFAULT '',
		hostname    TEXT    NOT NULL DEFAULT '',
		rtt_ms      REAL    NOT NULL DEFAULT 0,
		tags        TEXT    NOT NULL DEFAULT '[]'
	)`,
	`CREATE INDEX idx_route_hops_host ON route_hops(host_id)`,
}

// Correlation tables reference hosts by GUID, never by internal id.
var correlationSchema = []string{
	`CREATE TABLE device_identities (
		id          TEXT PRIMARY KEY,
		mac_address TEXT NOT NULL UNIQUE,
		created_at  DATETIME NOT NULL,
		updated_at  DATETIME NOT NULL
	)`,
	`CREATE TABLE device_identity_members (
		identity_id TEXT NOT NULL REFERENCES device_identities(id) ON DELETE CASCADE,
		host_guid   TEXT NOT NULL,
		added_at    DATETIME NOT NULL,
		PRIMARY KEY (identity_id, host_guid)
	)`,
	`CREATE INDEX idx_identity_members_guid ON device_identity_members(host_guid)`,
	`CREATE TABLE conflicts (
		id                TEXT PRIMARY KEY,
		reason            TEXT NOT NULL,
		match_key         TEXT NOT NULL DEFAULT '',
		pair_key          TEXT NOT NULL,
		detected_at       DATETIME NOT NULL,
		status            TEXT NOT NULL DEFAULT 'unresolved',
		resolution        TEXT NOT NULL DEFAULT '',
		resolution_method TEXT NOT NULL DEFAULT '',
		resolved_by       TEXT NOT NULL DEFAULT '',
		resolved_at       DATETIME,
		UNIQUE (reason, pair_key)
	)`,
	`CREATE INDEX idx_conflicts_status ON conflicts(status)`,
	`CREATE TABLE conflict_hosts (
		conflict_id TEXT    NOT NULL REFERENCES conflicts(id) ON DELETE CASCADE,
		host_guid   TEXT    NOT NULL,
		position    INTEGER NOT NULL,
		PRIMARY KEY (conflict_id, host_guid)
	)`,
	`CREATE INDEX idx_conflict_hosts_guid ON conflict_hosts(host_guid)`,
	`CREATE TABLE merge_events (
		id            TEXT PRIMARY KEY,
		survivor_guid TEXT NOT NULL,
		donor_guid    TEXT NOT NULL,
		method        TEXT NOT NULL,
		match_key     TEXT NOT NULL DEFAULT '',
		actor         TEXT NOT NULL DEFAULT '',
		created_at    DATETIME NOT NULL
	)`,
	`CREATE INDEX idx_merge_events_survivor ON merge_events(survivor_guid)`,
	`CREATE TABLE correlation_runs (
		id                      TEXT PRIMARY KEY,
		status                  TEXT    NOT NULL,
		started_at              DATETIME NOT NULL,
		finished_at             DATETIME,
		hosts_merged            INTEGER NOT NULL DEFAULT 0,
		conflicts_detected      INTEGER NOT NULL DEFAULT 0,
		device_identities       INTEGER NOT NULL DEFAULT 0,
		conflicts_auto_resolved INTEGER NOT NULL DEFAULT 0,
		phases                  TEXT    NOT NULL DEFAULT '[]',
		errors                  TEXT    NOT NULL DEFAULT '[]'
	)`,
	`CREATE TABLE correlation_lock (
		name        TEXT PRIMARY KEY,
		holder      TEXT NOT NULL,
		acquired_at DATETIME NOT NULL
	)`,
}
