// Package feed carries row-level change notifications for the silos table.
package feed

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/guruprasath0306/Silo-Monitor/internal/modules/silos/types"
)

// SilosTable is the only table the feed reports on.
const SilosTable = "silos"

type EventType string

const (
	Insert EventType = "INSERT"
	Update EventType = "UPDATE"
	Delete EventType = "DELETE"
)

var ErrInvalidEvent = errors.New("invalid change event")

// Event is one committed change. Insert and Update carry the new row; Delete
// carries the old one.
type Event struct {
	Type            EventType  `json:"eventType"`
	Table           string     `json:"table"`
	New             *types.Row `json:"new,omitempty"`
	Old             *types.Row `json:"old,omitempty"`
	CommitTimestamp time.Time  `json:"commit_timestamp"`
}

func NewInsert(row types.Row, at time.Time) Event {
	return Event{Type: Insert, Table: SilosTable, New: &row, CommitTimestamp: at.UTC()}
}

func NewUpdate(row types.Row, at time.Time) Event {
	return Event{Type: Update, Table: SilosTable, New: &row, CommitTimestamp: at.UTC()}
}

func NewDelete(old types.Row, at time.Time) Event {
	return Event{Type: Delete, Table: SilosTable, Old: &old, CommitTimestamp: at.UTC()}
}

// RowID is the identifier the event refers to.
func (e Event) RowID() string {
	switch e.Type {
	case Delete:
		if e.Old != nil {
			return e.Old.ID
		}
	default:
		if e.New != nil {
			return e.New.ID
		}
	}
	return ""
}

func (e Event) Validate() error {
	switch e.Type {
	case Insert, Update:
		if e.New == nil {
			return fmt.Errorf("%w: %s without new row", ErrInvalidEvent, e.Type)
		}
	case Delete:
		if e.Old == nil {
			return fmt.Errorf("%w: DELETE without old row", ErrInvalidEvent)
		}
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidEvent, e.Type)
	}
	if e.Table != SilosTable {
		return fmt.Errorf("%w: table %q", ErrInvalidEvent, e.Table)
	}
	if e.RowID() == "" {
		return fmt.Errorf("%w: row without id", ErrInvalidEvent)
	}
	return nil
}

// Decode parses and validates one JSON-encoded event.
func Decode(b []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(b, &e); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	if err := e.Validate(); err != nil {
		return Event{}, err
	}
	return e, nil
}

// Handler receives events in delivery order.
type Handler func(Event)

// Subscription is a live registration with a change feed.
type Subscription interface {
	Close() error
}
