package correlation

import (
	"context"
	"time"

	"github.com/HerbHall/netcorrelate/pkg/models"
	"github.com/HerbHall/netcorrelate/pkg/plugin"
)

// Event topics published by the correlation module.
const (
	TopicRunCompleted     = "correlation.run.completed"
	TopicHostMerged       = "correlation.host.merged"
	TopicConflictDetected = "correlation.conflict.detected"
	TopicConflictResolved = "correlation.conflict.resolved"
	TopicIdentityLinked   = "correlation.identity.linked"
)

// HostMergedEvent is the payload of TopicHostMerged.
type HostMergedEvent struct {
	SurvivorGUID string             `json:"survivor_guid"`
	DonorGUIDs   []string           `json:"donor_guids"`
	Method       models.MergeMethod `json:"method"`
	MatchKey     string             `json:"match_key,omitempty"`
}

// IdentityLinkedEvent is the payload of TopicIdentityLinked.
type IdentityLinkedEvent struct {
	IdentityID  string   `json:"identity_id"`
	MACAddress  string   `json:"mac_address"`
	MemberGUIDs []string `json:"member_guids"`
	Created     bool     `json:"created"`
}

// publisher wraps an optional event bus.
type publisher struct {
	bus plugin.EventBus
	now func() time.Time
}

func (p publisher) publish(ctx context.Context, topic string, payload any) {
	if p.bus == nil {
		return
	}
	p.bus.PublishAsync(ctx, plugin.Event{
		Topic:     topic,
		Source:    PluginName,
		Timestamp: p.now(),
		Payload:   payload,
	})
}
