package notify

import (
	"context"
	"sync"
	"time"
)

// InMemoryRepository is a map-backed Repository for tests and local
// development.
type InMemoryRepository struct {
	mu           sync.RWMutex
	events       map[string]*Event
	deliveries   []*Delivery
	suppressions map[string]*Suppression
	rules        []Rule
	recipients   []Recipient
	settings     map[string]*SiteSettings
}

var _ Repository = (*InMemoryRepository)(nil)

// NewInMemoryRepository creates an empty in-memory repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		events:       make(map[string]*Event),
		suppressions: make(map[string]*Suppression),
		settings:     make(map[string]*SiteSettings),
	}
}

func suppressionKey(websiteID, dedupKey string) string {
	return websiteID + "\x00" + dedupKey
}

// SaveEvent stores a copy of the event.
func (r *InMemoryRepository) SaveEvent(_ context.Context, event *Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored := *event
	r.events[event.ID] = &stored
	return nil
}

// CreateDelivery appends a copy of the delivery.
func (r *InMemoryRepository) CreateDelivery(_ context.Context, delivery *Delivery) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored := *delivery
	r.deliveries = append(r.deliveries, &stored)
	return nil
}

// ActiveSuppression returns the unexpired suppression or nil.
func (r *InMemoryRepository) ActiveSuppression(_ context.Context, websiteID, dedupKey string, now time.Time) (*Suppression, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	suppression, ok := r.suppressions[suppressionKey(websiteID, dedupKey)]
	if !ok || !suppression.SuppressedUntil.After(now) {
		return nil, nil
	}
	copied := *suppression
	return &copied, nil
}

// CreateSuppression stores or replaces the suppression for its key.
func (r *InMemoryRepository) CreateSuppression(_ context.Context, suppression *Suppression) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored := *suppression
	r.suppressions[suppressionKey(suppression.WebsiteID, suppression.DedupKey)] = &stored
	return nil
}

// ListRules returns rules matching the website and event type.
func (r *InMemoryRepository) ListRules(_ context.Context, websiteID, eventType string) ([]Rule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var matched []Rule
	for _, rule := range r.rules {
		if rule.WebsiteID == websiteID && rule.EventType == eventType {
			matched = append(matched, rule)
		}
	}
	return matched, nil
}

// ListRecipients returns the enabled recipients for a website.
func (r *InMemoryRepository) ListRecipients(_ context.Context, websiteID string) ([]Recipient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var matched []Recipient
	for _, recipient := range r.recipients {
		if recipient.WebsiteID == websiteID && recipient.Enabled {
			matched = append(matched, recipient)
		}
	}
	return matched, nil
}

// SiteSettings returns the site's settings or nil.
func (r *InMemoryRepository) SiteSettings(_ context.Context, websiteID string) (*SiteSettings, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	settings, ok := r.settings[websiteID]
	if !ok {
		return nil, nil
	}
	copied := *settings
	return &copied, nil
}

// AddRule registers a rule. Test helper.
func (r *InMemoryRepository) AddRule(rule Rule) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rules = append(r.rules, rule)
}

// AddRecipient registers a recipient. Test helper.
func (r *InMemoryRepository) AddRecipient(recipient Recipient) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recipients = append(r.recipients, recipient)
}

// SetSiteSettings registers site settings. Test helper.
func (r *InMemoryRepository) SetSiteSettings(settings SiteSettings) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.settings[settings.WebsiteID] = &settings
}

// Deliveries returns a snapshot of all recorded deliveries.
func (r *InMemoryRepository) Deliveries() []Delivery {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Delivery, 0, len(r.deliveries))
	for _, delivery := range r.deliveries {
		out = append(out, *delivery)
	}
	return out
}

// EventCount returns the number of persisted events.
func (r *InMemoryRepository) EventCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.events)
}
