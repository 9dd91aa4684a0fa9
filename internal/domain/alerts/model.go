package alerts

import (
	"time"

	"github.com/google/uuid"
)

// Category buckets alerts for the notification feed. The set is closed;
// anything the type table does not recognize lands in administrative.
type Category string

const (
	CategoryMedical        Category = "medical"
	CategoryAdministrative Category = "administrative"
	CategoryPayment        Category = "payment"
)

func (c Category) Valid() bool {
	switch c {
	case CategoryMedical, CategoryAdministrative, CategoryPayment:
		return true
	}
	return false
}

// Categories lists all categories in feed display order.
func Categories() []Category {
	return []Category{CategoryMedical, CategoryAdministrative, CategoryPayment}
}

// categoryByType is the fixed alert type to category table. Kept in one
// place so feed grouping stays consistent across the codebase.
var categoryByType = map[string]Category{
	"prescription": CategoryMedical,
	"appointment":  CategoryMedical,
	"lab-result":   CategoryMedical,
	"anamnesis":    CategoryMedical,
	"payment":      CategoryPayment,
	"invoice":      CategoryPayment,
	"refund":       CategoryPayment,
}

// CategoryForType maps an alert type to its category. Unknown types are
// administrative.
func CategoryForType(alertType string) Category {
	if c, ok := categoryByType[alertType]; ok {
		return c
	}
	return CategoryAdministrative
}

// Alert is a single notification for one recipient. Read is monotonic: once
// set it never clears.
type Alert struct {
	ID          uuid.UUID `db:"id" json:"id"`
	RecipientID string    `db:"recipient_id" json:"recipient_id"`
	Type        string    `db:"alert_type" json:"type"`
	Category    Category  `db:"category" json:"category"`
	Title       string    `db:"title" json:"title"`
	Body        string    `db:"body" json:"body"`
	Source      string    `db:"source" json:"source,omitempty"`
	IsUrgent    bool      `db:"is_urgent" json:"is_urgent"`
	Read        bool      `db:"read" json:"read"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// Group is one category's slice of a feed snapshot, newest first.
type Group struct {
	Category Category `json:"category"`
	Alerts   []*Alert `json:"alerts"`
}

// Feed is a grouped snapshot of a recipient's alerts, pushed to subscribers
// whenever the underlying set changes.
type Feed struct {
	RecipientID string    `json:"recipient_id"`
	Groups      []Group   `json:"groups"`
	UnreadCount int64     `json:"unread_count"`
	GeneratedAt time.Time `json:"generated_at"`
}

// GroupAlerts buckets alerts into the fixed category order. Input order is
// preserved within each group, so newest-first input stays newest-first.
func GroupAlerts(items []*Alert) []Group {
	byCategory := make(map[Category][]*Alert, 3)
	for _, a := range items {
		byCategory[a.Category] = append(byCategory[a.Category], a)
	}

	groups := make([]Group, 0, 3)
	for _, c := range Categories() {
		groups = append(groups, Group{Category: c, Alerts: byCategory[c]})
	}
	return groups
}
