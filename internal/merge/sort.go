// ABOUTME: List orderings for merged item snapshots
// ABOUTME: Manual index, due date, creation time, priority, and title sorts with stable tiebreaks

package merge

import (
	"sort"
	"strings"

	"github.com/harper/sharelist/internal/models"
)

// Order selects how a snapshot is sorted.
type Order string

const (
	OrderManual   Order = "manual"
	OrderDue      Order = "due"
	OrderCreated  Order = "created"
	OrderPriority Order = "priority"
	OrderTitle    Order = "title"
)

// ParseOrder maps a config or flag value to an Order, defaulting to manual.
func ParseOrder(s string) Order {
	switch Order(s) {
	case OrderDue, OrderCreated, OrderPriority, OrderTitle:
		return Order(s)
	default:
		return OrderManual
	}
}

// SortItems sorts items in place by the given order. Ties break by
// creation time then ID, so equal inputs always produce equal output.
func SortItems(items []models.Item, order Order) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := &items[i], &items[j]
		switch order {
		case OrderDue:
			// Items without a due date sort last.
			switch {
			case a.DueDate == nil && b.DueDate == nil:
			case a.DueDate == nil:
				return false
			case b.DueDate == nil:
				return true
			case !a.DueDate.Equal(*b.DueDate):
				return a.DueDate.Before(*b.DueDate)
			}
		case OrderCreated:
			if !a.CreatedAt.Equal(b.CreatedAt) {
				return a.CreatedAt.Before(b.CreatedAt)
			}
		case OrderPriority:
			// Highest priority first.
			if a.Priority != b.Priority {
				return a.Priority > b.Priority
			}
		case OrderTitle:
			an, bn := strings.ToLower(a.Name), strings.ToLower(b.Name)
			if an != bn {
				return an < bn
			}
		default:
			if a.OrderIndex != b.OrderIndex {
				return a.OrderIndex < b.OrderIndex
			}
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}
