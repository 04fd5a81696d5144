// ABOUTME: Tests for snapshot orderings
// ABOUTME: Each ordering plus nil due dates and deterministic tiebreaks

package merge

import (
	"testing"
	"time"

	"github.com/harper/sharelist/internal/models"
)

func mkItem(id, name string, idx, prio int, created time.Time, due *time.Time) models.Item {
	return models.Item{
		ID:         id,
		OwnerID:    "u1",
		Name:       name,
		OrderIndex: idx,
		Priority:   prio,
		CreatedAt:  created,
		DueDate:    due,
	}
}

func ids(items []models.Item) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.ID
	}
	return out
}

func TestParseOrder(t *testing.T) {
	if ParseOrder("due") != OrderDue {
		t.Error("due not recognized")
	}
	if ParseOrder("garbage") != OrderManual {
		t.Error("unknown order should fall back to manual")
	}
	if ParseOrder("") != OrderManual {
		t.Error("empty order should fall back to manual")
	}
}

func TestSortOrders(t *testing.T) {
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	d1 := base.Add(24 * time.Hour)
	d2 := base.Add(48 * time.Hour)

	items := []models.Item{
		mkItem("a", "zebra", 2, 1, base.Add(2*time.Hour), &d2),
		mkItem("b", "apple", 0, 3, base.Add(time.Hour), nil),
		mkItem("c", "Mango", 1, 2, base, &d1),
	}

	tests := []struct {
		order Order
		want  []string
	}{
		{OrderManual, []string{"b", "c", "a"}},
		{OrderDue, []string{"c", "a", "b"}}, // nil due date last
		{OrderCreated, []string{"c", "b", "a"}},
		{OrderPriority, []string{"b", "c", "a"}},
		{OrderTitle, []string{"b", "c", "a"}}, // case-insensitive
	}
	for _, tt := range tests {
		t.Run(string(tt.order), func(t *testing.T) {
			in := append([]models.Item(nil), items...)
			SortItems(in, tt.order)
			got := ids(in)
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Fatalf("order %s: got %v, want %v", tt.order, got, tt.want)
				}
			}
		})
	}
}

func TestSortTiebreakIsDeterministic(t *testing.T) {
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	a := mkItem("a", "same", 0, 0, base, nil)
	b := mkItem("b", "same", 0, 0, base, nil)

	first := []models.Item{b, a}
	second := []models.Item{a, b}
	SortItems(first, OrderTitle)
	SortItems(second, OrderTitle)

	if first[0].ID != second[0].ID || first[1].ID != second[1].ID {
		t.Errorf("tiebreak unstable: %v vs %v", ids(first), ids(second))
	}
	if first[0].ID != "a" {
		t.Errorf("ID tiebreak: got %v", ids(first))
	}
}
