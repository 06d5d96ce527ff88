package shared

// AggregateRoot is the base interface for all aggregate roots
type AggregateRoot interface {
	Entity
	GetVersion() int
	IncrementVersion()
	AddDomainEvent(event DomainEvent)
	GetDomainEvents() []DomainEvent
	ClearDomainEvents()
}

// BaseAggregateRoot provides common fields for aggregate roots. The version
// column backs optimistic locking on balance updates; domain events are
// buffered in memory until the owning transaction commits.
type BaseAggregateRoot struct {
	BaseEntity
	Version      int           `gorm:"not null;default:1"`
	domainEvents []DomainEvent `gorm:"-"`
}

// NewBaseAggregateRoot creates a new base aggregate root at version 1
func NewBaseAggregateRoot() BaseAggregateRoot {
	return BaseAggregateRoot{
		BaseEntity:   NewBaseEntity(),
		Version:      1,
		domainEvents: make([]DomainEvent, 0),
	}
}

func (a *BaseAggregateRoot) GetVersion() int { return a.Version }

func (a *BaseAggregateRoot) IncrementVersion() { a.Version++ }

// AddDomainEvent buffers a domain event for publication after commit
func (a *BaseAggregateRoot) AddDomainEvent(event DomainEvent) {
	a.domainEvents = append(a.domainEvents, event)
}

func (a *BaseAggregateRoot) GetDomainEvents() []DomainEvent { return a.domainEvents }

// ClearDomainEvents drops the buffered events once they are published
func (a *BaseAggregateRoot) ClearDomainEvents() { a.domainEvents = nil }
