package correlation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/HerbHall/netcorrelate/internal/services"
	"github.com/HerbHall/netcorrelate/pkg/models"
	"go.uber.org/zap"
)

// Service is the operator-facing facade over the correlation engine and its
// bookkeeping tables.
type Service struct {
	engine *Engine
}

// NewService wraps engine.
func NewService(engine *Engine) *Service {
	return &Service{engine: engine}
}

// Engine returns the underlying engine.
func (s *Service) Engine() *Engine { return s.engine }

// RunCorrelation performs one correlation run.
func (s *Service) RunCorrelation(ctx context.Context) (*models.CorrelationResult, error) {
	return s.engine.Run(ctx)
}

func (s *Service) conflicts() *services.SQLiteConflictRepository {
	return services.NewSQLiteConflictRepository(s.engine.store.DB())
}

// ListConflicts returns conflicts matching filter.
func (s *Service) ListConflicts(ctx context.Context, filter services.ConflictFilter, opts services.ListOptions) (*services.ListResult[models.Conflict], error) {
	switch filter.Status {
	case "", models.ConflictUnresolved, models.ConflictResolved:
	default:
		return nil, fmt.Errorf("%w: unknown status %q", ErrValidation, filter.Status)
	}
	return s.conflicts().List(ctx, filter, opts)
}

// GetConflict returns one conflict.
func (s *Service) GetConflict(ctx context.Context, id string) (*models.Conflict, error) {
	return s.conflicts().Get(ctx, id)
}

// ResolveConflict closes a conflict without merging anything.
func (s *Service) ResolveConflict(ctx context.Context, id, resolution, resolvedBy string) (*models.Conflict, error) {
	resolvedBy = strings.TrimSpace(resolvedBy)
	if resolvedBy == "" {
		return nil, fmt.Errorf("%w: resolved_by is required", ErrValidation)
	}

	repo := s.conflicts()
	c, err := repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.IsResolved() {
		return nil, ErrAlreadyResolved
	}

	e := s.engine
	if err := repo.Resolve(ctx, id, resolution, models.ResolutionManual, resolvedBy, e.now()); err != nil {
		if errors.Is(err, services.ErrNotFound) {
			return nil, ErrAlreadyResolved
		}
		return nil, err
	}
	c, err = repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	e.metrics.ConflictsResolved.WithLabelValues(string(models.ResolutionManual)).Inc()
	e.events.publish(ctx, TopicConflictResolved, *c)
	e.logger.Info("conflict resolved",
		zap.String("conflict_id", id),
		zap.String("resolved_by", resolvedBy),
	)
	return c, nil
}

// MergeHosts merges secondary into primary regardless of MAC evidence and
// resolves every open conflict that references both hosts.
func (s *Service) MergeHosts(ctx context.Context, primaryGUID, secondaryGUID, resolvedBy string) (*models.Host, error) {
	primaryGUID = strings.TrimSpace(primaryGUID)
	secondaryGUID = strings.TrimSpace(secondaryGUID)
	resolvedBy = strings.TrimSpace(resolvedBy)
	switch {
	case primaryGUID == "" || secondaryGUID == "":
		return nil, fmt.Errorf("%w: both host GUIDs are required", ErrValidation)
	case primaryGUID == secondaryGUID:
		return nil, fmt.Errorf("%w: cannot merge a host into itself", ErrValidation)
	case resolvedBy == "":
		return nil, fmt.Errorf("%w: resolved_by is required", ErrValidation)
	}

	e := s.engine
	hosts := services.NewSQLiteHostRepository(e.store.DB())
	for _, guid := range []string{primaryGUID, secondaryGUID} {
		if _, err := hosts.Get(ctx, guid); err != nil {
			if errors.Is(err, services.ErrNotFound) {
				return nil, fmt.Errorf("host %s: %w", guid, services.ErrNotFound)
			}
			return nil, err
		}
	}

	const resolution = "hosts merged manually"
	var resolved []models.Conflict
	var now time.Time
	merged, err := e.merger.Merge(ctx, primaryGUID, []string{secondaryGUID}, MergeOptions{
		Method: models.MergeManual,
		Actor:  resolvedBy,
		InTx: func(ctx context.Context, tx services.DBTX) error {
			repo := services.NewSQLiteConflictRepository(tx)
			open, err := repo.ListUnresolved(ctx)
			if err != nil {
				return fmt.Errorf("list conflicts: %w", err)
			}
			now = e.now()
			resolved = resolved[:0]
			for i := range open {
				c := open[i]
				if !references(&c, primaryGUID) || !references(&c, secondaryGUID) {
					continue
				}
				if err := repo.Resolve(ctx, c.ID, resolution, models.ResolutionManualMerge, resolvedBy, now); err != nil {
					return fmt.Errorf("resolve conflict %s: %w", c.ID, err)
				}
				resolved = append(resolved, c)
			}
			return nil
		},
	})
	if err != nil {
		return nil, err
	}
	e.metrics.HostsMerged.WithLabelValues(string(models.MergeManual)).Inc()
	e.events.publish(ctx, TopicHostMerged, HostMergedEvent{
		SurvivorGUID: primaryGUID,
		DonorGUIDs:   []string{secondaryGUID},
		Method:       models.MergeManual,
	})

	for i := range resolved {
		c := &resolved[i]
		e.metrics.ConflictsResolved.WithLabelValues(string(models.ResolutionManualMerge)).Inc()
		c.Status = models.ConflictResolved
		c.Resolution = resolution
		c.ResolutionMethod = models.ResolutionManualMerge
		c.ResolvedBy = resolvedBy
		c.ResolvedAt = &now
		e.events.publish(ctx, TopicConflictResolved, *c)
	}

	e.logger.Info("hosts merged manually",
		zap.String("primary", primaryGUID),
		zap.String("secondary", secondaryGUID),
		zap.String("resolved_by", resolvedBy),
	)
	return merged, nil
}

func references(c *models.Conflict, guid string) bool {
	for _, g := range c.HostGUIDs {
		if g == guid {
			return true
		}
	}
	return false
}

// GetUnifiedHostView returns guid together with every sibling host linked
// to it through a device identity.
func (s *Service) GetUnifiedHostView(ctx context.Context, guid string) (*models.UnifiedHostView, error) {
	db := s.engine.store.DB()
	hosts := services.NewSQLiteHostRepository(db)
	h, err := hosts.Get(ctx, guid)
	if err != nil {
		return nil, err
	}

	idents, err := services.NewSQLiteIdentityRepository(db).ListForHost(ctx, guid)
	if err != nil {
		return nil, err
	}

	seen := map[string]struct{}{guid: {}}
	var siblings []string
	for _, ident := range idents {
		for _, m := range ident.MemberGUIDs {
			if _, ok := seen[m]; ok {
				continue
			}
			seen[m] = struct{}{}
			siblings = append(siblings, m)
		}
	}

	view := &models.UnifiedHostView{
		Host:          *h,
		LinkedDevices: []models.Host{},
		Identities:    idents,
	}
	if view.Identities == nil {
		view.Identities = []models.DeviceIdentity{}
	}
	if len(siblings) > 0 {
		linked, err := hosts.ListByGUIDs(ctx, siblings)
		if err != nil {
			return nil, err
		}
		view.LinkedDevices = linked
	}
	return view, nil
}

// ListDeviceIdentities returns device identities by creation time.
func (s *Service) ListDeviceIdentities(ctx context.Context, opts services.ListOptions) (*services.ListResult[models.DeviceIdentity], error) {
	return services.NewSQLiteIdentityRepository(s.engine.store.DB()).List(ctx, opts)
}

// GetRun returns a persisted run summary.
func (s *Service) GetRun(ctx context.Context, id string) (*models.CorrelationResult, error) {
	return services.NewSQLiteRunRepository(s.engine.store.DB()).Get(ctx, id)
}

// ListRuns returns persisted run summaries.
func (s *Service) ListRuns(ctx context.Context, opts services.ListOptions) (*services.ListResult[models.CorrelationResult], error) {
	return services.NewSQLiteRunRepository(s.engine.store.DB()).List(ctx, opts)
}

// ListMergeEvents returns the merge audit trail.
func (s *Service) ListMergeEvents(ctx context.Context, filter services.MergeEventFilter, opts services.ListOptions) (*services.ListResult[models.MergeEvent], error) {
	return services.NewSQLiteMergeEventRepository(s.engine.store.DB()).List(ctx, filter, opts)
}
