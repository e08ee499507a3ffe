package registry

import (
	"fmt"

	"github.com/guruprasath0306/Silo-Monitor/internal/feed"
	"github.com/guruprasath0306/Silo-Monitor/internal/modules/silos/types"
)

// Collection is an ordered set of silos keyed by id. It never holds two silos
// with the same id. It is not safe for concurrent use; the registry confines it
// to its event loop.
type Collection struct {
	items []types.Silo
	index map[string]int
}

// NewCollection keeps the first silo for each id.
func NewCollection(silos []types.Silo) *Collection {
	c := &Collection{
		items: make([]types.Silo, 0, len(silos)),
		index: make(map[string]int, len(silos)),
	}
	for _, s := range silos {
		c.Insert(s)
	}
	return c
}

func (c *Collection) Len() int { return len(c.items) }

func (c *Collection) Get(id string) (types.Silo, bool) {
	i, ok := c.index[id]
	if !ok {
		return types.Silo{}, false
	}
	return c.items[i], true
}

// Insert appends s unless a silo with its id is already present.
func (c *Collection) Insert(s types.Silo) bool {
	if _, ok := c.index[s.ID]; ok {
		return false
	}
	c.index[s.ID] = len(c.items)
	c.items = append(c.items, s)
	return true
}

// Update replaces the silo with s's id in place. Absent ids are ignored.
func (c *Collection) Update(s types.Silo) bool {
	i, ok := c.index[s.ID]
	if !ok {
		return false
	}
	c.items[i] = s
	return true
}

func (c *Collection) Remove(id string) (types.Silo, bool) {
	i, ok := c.index[id]
	if !ok {
		return types.Silo{}, false
	}
	old := c.items[i]
	c.items = append(c.items[:i], c.items[i+1:]...)
	delete(c.index, id)
	for j := i; j < len(c.items); j++ {
		c.index[c.items[j].ID] = j
	}
	return old, true
}

// Snapshot returns a copy of the silos in collection order.
func (c *Collection) Snapshot() []types.Silo {
	return append([]types.Silo(nil), c.items...)
}

// Apply reconciles one change event: inserts of a present id are discarded,
// updates and deletes of an absent id are no-ops. It reports whether the
// collection changed.
func (c *Collection) Apply(ev feed.Event) (bool, error) {
	if err := ev.Validate(); err != nil {
		return false, err
	}
	switch ev.Type {
	case feed.Insert:
		s, err := types.DecodeRow(*ev.New)
		if err != nil {
			return false, err
		}
		return c.Insert(s), nil
	case feed.Update:
		s, err := types.DecodeRow(*ev.New)
		if err != nil {
			return false, err
		}
		return c.Update(s), nil
	case feed.Delete:
		_, ok := c.Remove(ev.Old.ID)
		return ok, nil
	}
	return false, fmt.Errorf("%w: %s", feed.ErrInvalidEvent, ev.Type)
}
