package correlation

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/HerbHall/netcorrelate/internal/services"
	"github.com/HerbHall/netcorrelate/internal/tags"
	"github.com/HerbHall/netcorrelate/pkg/models"
	"github.com/HerbHall/netcorrelate/pkg/plugin"
)

// MergeOptions describes why a merge happens, for the audit trail.
type MergeOptions struct {
	Method   models.MergeMethod
	MatchKey string
	Actor    string

	// InTx runs inside the merge transaction once the survivor is updated.
	// An error rolls the whole merge back.
	InTx func(ctx context.Context, tx services.DBTX) error
}

// Merger folds donor hosts into a survivor.
type Merger interface {
	// Merge moves everything the donors own onto the survivor and deletes
	// the donors. It is all-or-nothing and returns the updated survivor.
	Merge(ctx context.Context, survivorGUID string, donorGUIDs []string, opts MergeOptions) (*models.Host, error)
}

// Compile-time interface guard.
var _ Merger = (*TxMerger)(nil)

// TxMerger implements Merger with one store transaction per call.
type TxMerger struct {
	store plugin.Store
	now   func() time.Time
}

// NewMerger creates a TxMerger. A nil now uses the wall clock.
func NewMerger(store plugin.Store, now func() time.Time) *TxMerger {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &TxMerger{store: store, now: now}
}

type portKey struct {
	number int
	proto  string
}

func (m *TxMerger) Merge(ctx context.Context, survivorGUID string, donorGUIDs []string, opts MergeOptions) (*models.Host, error) {
	donors, err := validateMerge(survivorGUID, donorGUIDs)
	if err != nil {
		return nil, err
	}

	var survivor *models.Host
	err = m.store.Tx(ctx, func(tx *sql.Tx) error {
		hosts := services.NewSQLiteHostRepository(tx)
		obs := services.NewSQLiteObservationRepository(tx)
		identities := services.NewSQLiteIdentityRepository(tx)
		events := services.NewSQLiteMergeEventRepository(tx)

		s, err := hosts.Get(ctx, survivorGUID)
		if err != nil {
			return fmt.Errorf("survivor %s: %w", survivorGUID, err)
		}
		donorHosts := make([]*models.Host, 0, len(donors))
		for _, guid := range donors {
			d, err := hosts.Get(ctx, guid)
			if err != nil {
				return fmt.Errorf("donor %s: %w", guid, err)
			}
			donorHosts = append(donorHosts, d)
		}

		ports, err := obs.ListPorts(ctx, s.ID)
		if err != nil {
			return err
		}
		owned := make(map[portKey]*models.Port, len(ports))
		for i := range ports {
			owned[portKey{ports[i].PortNumber, ports[i].Protocol}] = &ports[i]
		}
		dirty := make(map[int64]*models.Port)

		now := m.now()
		for _, d := range donorHosts {
			donorPorts, err := obs.ListPorts(ctx, d.ID)
			if err != nil {
				return err
			}
			for i := range donorPorts {
				dp := &donorPorts[i]
				key := portKey{dp.PortNumber, dp.Protocol}
				if sp, ok := owned[key]; ok {
					foldPort(sp, dp)
					dirty[sp.ID] = sp
					if err := obs.DeletePort(ctx, dp.ID); err != nil {
						return err
					}
					continue
				}
				if err := obs.MovePort(ctx, dp.ID, s.ID); err != nil {
					return fmt.Errorf("move port %d/%s: %w", dp.PortNumber, dp.Protocol, err)
				}
				dp.HostID = s.ID
				owned[key] = dp
			}

			if _, err := obs.ReassignChildren(ctx, d.ID, s.ID); err != nil {
				return err
			}
			foldHost(s, d)

			if err := identities.ReplaceMember(ctx, d.GUID, s.GUID); err != nil {
				return err
			}
			if err := events.Insert(ctx, &models.MergeEvent{
				SurvivorGUID: s.GUID,
				DonorGUID:    d.GUID,
				Method:       opts.Method,
				MatchKey:     opts.MatchKey,
				Actor:        opts.Actor,
				CreatedAt:    now,
			}); err != nil {
				return err
			}
			if err := hosts.Delete(ctx, d.ID); err != nil {
				return fmt.Errorf("delete donor %s: %w", d.GUID, err)
			}
		}

		for _, p := range dirty {
			if err := obs.UpdatePort(ctx, p); err != nil {
				return err
			}
		}
		if err := hosts.Update(ctx, s); err != nil {
			return fmt.Errorf("update survivor %s: %w", s.GUID, err)
		}
		if opts.InTx != nil {
			if err := opts.InTx(ctx, tx); err != nil {
				return err
			}
		}
		survivor = s
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("merge into %s: %w", survivorGUID, err)
	}
	return survivor, nil
}

// validateMerge returns the de-duplicated donor list.
func validateMerge(survivor string, donors []string) ([]string, error) {
	if survivor == "" {
		return nil, fmt.Errorf("%w: survivor GUID is required", ErrInvalidMerge)
	}
	if len(donors) == 0 {
		return nil, fmt.Errorf("%w: no donors given", ErrInvalidMerge)
	}
	seen := make(map[string]struct{}, len(donors))
	out := make([]string, 0, len(donors))
	for _, d := range donors {
		if d == survivor {
			return nil, fmt.Errorf("%w: survivor %s listed as donor", ErrInvalidMerge, survivor)
		}
		if d == "" {
			return nil, fmt.Errorf("%w: empty donor GUID", ErrInvalidMerge)
		}
		if _, dup := seen[d]; dup {
			continue
		}
		seen[d] = struct{}{}
		out = append(out, d)
	}
	return out, nil
}

// foldHost applies the field rules for one donor. The survivor's non-empty
// scalars win; otherwise the first donor that has a value supplies it.
func foldHost(s, d *models.Host) {
	fill := func(dst *string, v string) {
		if *dst == "" {
			*dst = v
		}
	}
	fill(&s.IPv6Address, d.IPv6Address)
	fill(&s.MACAddress, d.MACAddress)
	fill(&s.Hostname, d.Hostname)
	fill(&s.FQDN, d.FQDN)
	fill(&s.OSName, d.OSName)
	fill(&s.OSFamily, d.OSFamily)
	fill(&s.Vendor, d.Vendor)
	fill(&s.DeviceType, d.DeviceType)
	if s.Criticality == "" {
		s.Criticality = d.Criticality
	}
	if s.OSConfidence == 0 {
		s.OSConfidence = d.OSConfidence
	}
	s.IsActive = s.IsActive || d.IsActive
	s.IsVerified = s.IsVerified || d.IsVerified
	if d.FirstSeen.Before(s.FirstSeen) {
		s.FirstSeen = d.FirstSeen
	}
	if d.LastSeen.After(s.LastSeen) {
		s.LastSeen = d.LastSeen
	}
	s.SourceTypes = tags.Union(s.SourceTypes, d.SourceTypes)
	s.Tags = tags.Union(s.Tags, d.Tags)
}

// foldPort fills the survivor port's empty fields from a colliding donor port.
func foldPort(s, d *models.Port) {
	fill := func(dst *string, v string) {
		if *dst == "" {
			*dst = v
		}
	}
	fill(&s.State, d.State)
	fill(&s.ServiceName, d.ServiceName)
	fill(&s.ServiceVersion, d.ServiceVersion)
	fill(&s.ServiceProduct, d.ServiceProduct)
	if s.Confidence == 0 {
		s.Confidence = d.Confidence
	}
	if d.LastSeen.After(s.LastSeen) {
		s.LastSeen = d.LastSeen
	}
	s.Tags = tags.Union(s.Tags, d.Tags)
}
