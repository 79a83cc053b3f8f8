package event

import (
	"github.com/google/uuid"
	"github.com/l1jgo/worldtick/internal/core/entity"
)

// PlayerEvicted is emitted when a player leaves the registry, whether by
// logout, session timeout or a failed update phase.
type PlayerEvicted struct {
	EntityID entity.ID
	Key      uuid.UUID
	Name     string
	Reason   string
}

// NpcRemoved is emitted when an npc leaves the registry.
type NpcRemoved struct {
	EntityID   entity.ID
	TemplateID int32
	Reason     string
}

// TickAbandoned is emitted after a tick failed as a whole and the emergency
// save ran.
type TickAbandoned struct {
	Tick  uint64
	Cause string
}
