// Package catalog holds the static loot box table.
package catalog

import (
	"errors"
	"fmt"

	"github.com/okian/lootbox/internal/domain/model"
)

var (
	ErrInvalidConfiguration = errors.New("invalid catalog configuration")
	ErrDuplicateBox         = errors.New("duplicate box id")
)

// Catalog is an immutable box-id -> box mapping built once at startup.
type Catalog struct {
	boxes map[string]model.LootBox
	order []string
}

// New validates boxes and builds the table. Item slices are copied so later
// changes to the input cannot leak in.
func New(boxes []model.LootBox) (*Catalog, error) {
	c := &Catalog{
		boxes: make(map[string]model.LootBox, len(boxes)),
		order: make([]string, 0, len(boxes)),
	}
	for _, b := range boxes {
		if err := b.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidConfiguration, err)
		}
		if _, dup := c.boxes[b.ID]; dup {
			return nil, fmt.Errorf("%w: %w: %q", ErrInvalidConfiguration, ErrDuplicateBox, b.ID)
		}
		b.Items = append([]model.LootItem(nil), b.Items...)
		c.boxes[b.ID] = b
		c.order = append(c.order, b.ID)
	}
	return c, nil
}

// LookupBox returns the box with id. The returned box owns its own item slice.
func (c *Catalog) LookupBox(id string) (model.LootBox, bool) {
	b, ok := c.boxes[id]
	if !ok {
		return model.LootBox{}, false
	}
	b.Items = append([]model.LootItem(nil), b.Items...)
	return b, true
}

// Boxes lists all boxes in definition order.
func (c *Catalog) Boxes() []model.LootBox {
	out := make([]model.LootBox, 0, len(c.order))
	for _, id := range c.order {
		b, _ := c.LookupBox(id)
		out = append(out, b)
	}
	return out
}

// Len returns the number of boxes.
func (c *Catalog) Len() int {
	return len(c.order)
}
