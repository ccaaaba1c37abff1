// Package ingest loads normalized discovery records into the host inventory.
// It is the boundary between format parsers and the correlation engine: every
// record that enters the inventory passes through Importer so that tags and
// source types are derived the same way regardless of origin.
package ingest

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/HerbHall/netcorrelate/pkg/models"
	"gopkg.in/yaml.v3"
)

// Batch is one import: the records produced by a single collection run.
type Batch struct {
	Source models.SourceType `json:"source" yaml:"source"`
	SeenAt time.Time         `json:"seen_at,omitempty" yaml:"seen_at,omitempty"`

	// AllowDuplicates creates a new host for every record instead of
	// refreshing the existing host at that IP. This reproduces the result of
	// concurrent imports racing on first sighting.
	AllowDuplicates bool `json:"allow_duplicates,omitempty" yaml:"allow_duplicates,omitempty"`

	Hosts       []models.ParsedHost       `json:"hosts,omitempty" yaml:"hosts,omitempty"`
	Connections []models.ParsedConnection `json:"connections,omitempty" yaml:"connections,omitempty"`
	ArpEntries  []models.ParsedArpEntry   `json:"arp_entries,omitempty" yaml:"arp_entries,omitempty"`
	RouteHops   []models.ParsedRouteHop   `json:"route_hops,omitempty" yaml:"route_hops,omitempty"`
}

// Snapshot is a file holding one or more batches.
type Snapshot struct {
	Batches []Batch `json:"batches" yaml:"batches"`
}

// LoadSnapshot decodes a YAML or JSON snapshot. A document without a
// top-level "batches" key is read as a single batch.
func LoadSnapshot(r io.Reader) (*Snapshot, error) {
	data, err := io.ReadAll(bufio.NewReader(r))
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return &Snapshot{}, nil
	}

	var doc struct {
		Batches []Batch `json:"batches" yaml:"batches"`
	}
	var single Batch
	if trimmed[0] == '{' {
		if err := json.Unmarshal(trimmed, &doc); err != nil {
			return nil, fmt.Errorf("parse json snapshot: %w", err)
		}
		if doc.Batches == nil {
			if err := json.Unmarshal(trimmed, &single); err != nil {
				return nil, fmt.Errorf("parse json batch: %w", err)
			}
		}
	} else {
		if err := yaml.Unmarshal(trimmed, &doc); err != nil {
			return nil, fmt.Errorf("parse yaml snapshot: %w", err)
		}
		if doc.Batches == nil {
			if err := yaml.Unmarshal(trimmed, &single); err != nil {
				return nil, fmt.Errorf("parse yaml batch: %w", err)
			}
		}
	}

	if doc.Batches != nil {
		return &Snapshot{Batches: doc.Batches}, nil
	}
	return &Snapshot{Batches: []Batch{single}}, nil
}
