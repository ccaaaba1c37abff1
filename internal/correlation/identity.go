package correlation

import (
	"context"
	"database/sql"
	"errors"

	"github.com/HerbHall/netcorrelate/internal/services"
	"github.com/HerbHall/netcorrelate/pkg/models"
	"go.uber.org/zap"
)

// linkIdentity creates the DeviceIdentity for mac or adds guids to the
// existing one. It reports whether anything changed.
func (e *Engine) linkIdentity(ctx context.Context, mac string, guids []string) (bool, error) {
	var (
		ident   *models.DeviceIdentity
		created bool
		added   int
	)
	err := e.store.Tx(ctx, func(tx *sql.Tx) error {
		repo := services.NewSQLiteIdentityRepository(tx)
		existing, err := repo.GetByMAC(ctx, mac)
		switch {
		case err == nil:
			n, err := repo.AddMembers(ctx, existing.ID, guids)
			if err != nil {
				return err
			}
			added = n
			ident, err = repo.Get(ctx, existing.ID)
			return err
		case errors.Is(err, services.ErrNotFound):
			now := e.now()
			ident = &models.DeviceIdentity{
				MACAddress:  mac,
				MemberGUIDs: guids,
				CreatedAt:   now,
				UpdatedAt:   now,
			}
			if err := repo.Create(ctx, ident); err != nil {
				return err
			}
			created = true
			added = len(guids)
			return nil
		default:
			return err
		}
	})
	if err != nil {
		return false, err
	}
	if !created && added == 0 {
		return false, nil
	}

	e.events.publish(ctx, TopicIdentityLinked, IdentityLinkedEvent{
		IdentityID:  ident.ID,
		MACAddress:  ident.MACAddress,
		MemberGUIDs: ident.MemberGUIDs,
		Created:     created,
	})
	e.logger.Info("device identity linked",
		zap.String("identity_id", ident.ID),
		zap.String("mac", mac),
		zap.Bool("created", created),
		zap.Int("added", added),
	)
	return true, nil
}
