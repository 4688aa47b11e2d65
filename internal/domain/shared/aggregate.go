package shared

import (
	"time"

	"github.com/google/uuid"
)

// BaseEntity carries identity and timestamps
type BaseEntity struct {
	ID        uuid.UUID `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewBaseEntity creates a base entity with a generated ID
func NewBaseEntity() BaseEntity {
	now := time.Now()
	return BaseEntity{
		ID:        uuid.New(),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// BaseAggregateRoot adds an optimistic-lock version and the events raised
// since the aggregate was loaded. Stores write a row only when its version
// still equals StoredVersion.
type BaseAggregateRoot struct {
	BaseEntity
	Version      int `json:"version"`
	stored       int
	domainEvents []DomainEvent
}

// NewBaseAggregateRoot creates an aggregate at version 1
func NewBaseAggregateRoot() BaseAggregateRoot {
	return BaseAggregateRoot{
		BaseEntity: NewBaseEntity(),
		Version:    1,
	}
}

// LoadAggregateRoot rebuilds an aggregate read from a store at version
func LoadAggregateRoot(entity BaseEntity, version int) BaseAggregateRoot {
	return BaseAggregateRoot{BaseEntity: entity, Version: version, stored: version}
}

// StoredVersion is the version the store held when the aggregate was loaded
// or last written. Zero means it has never been stored.
func (a *BaseAggregateRoot) StoredVersion() int {
	return a.stored
}

// MarkStored records that the store now holds Version
func (a *BaseAggregateRoot) MarkStored() {
	a.stored = a.Version
}

// Touch records a modification: it bumps the version and UpdatedAt
func (a *BaseAggregateRoot) Touch() {
	a.UpdatedAt = time.Now()
	a.Version++
}

// AddDomainEvent queues an event to publish after the next successful write
func (a *BaseAggregateRoot) AddDomainEvent(event DomainEvent) {
	a.domainEvents = append(a.domainEvents, event)
}

// GetDomainEvents returns the queued events
func (a *BaseAggregateRoot) GetDomainEvents() []DomainEvent {
	return a.domainEvents
}

// ClearDomainEvents drops the queued events
func (a *BaseAggregateRoot) ClearDomainEvents() {
	a.domainEvents = nil
}
