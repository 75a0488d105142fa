// Package models provides data model definitions for the PlateShare sync core.
package models

import "time"

// CachedListing is the locally cached copy of a food listing.
//
// Merge policy:
//   - title, description, category, pickup_notes, image_url: preferred side,
//     falling back to the other side when the preferred value is empty
//   - quantity: preferred side
//   - view_count, interest_count: max of both sides (monotonic counters)
//   - is_arranged: OR of both sides (a pickup arranged on either device sticks)
//   - is_active: AND of both sides (a delisting on either device sticks)
type CachedListing struct {
	ID            UUID   `db:"id" json:"id"`
	Title         string `db:"title" json:"title"`
	Description   string `db:"description" json:"description,omitempty"`
	Category      string `db:"category" json:"category"`
	Quantity      int    `db:"quantity" json:"quantity"`
	PickupNotes   string `db:"pickup_notes" json:"pickup_notes,omitempty"`
	ImageURL      string `db:"image_url" json:"image_url,omitempty"`
	ViewCount     int    `db:"view_count" json:"view_count"`
	InterestCount int    `db:"interest_count" json:"interest_count"`
	IsArranged    bool   `db:"is_arranged" json:"is_arranged"`
	IsActive      bool   `db:"is_active" json:"is_active"`
	UpdatedAt     int64  `db:"updated_at" json:"updated_at"`
	Version       int    `db:"version" json:"version"`
}

// TableName returns the table name for CachedListing.
func (CachedListing) TableName() string {
	return "cached_listings"
}

// SyncID returns the stable sync identity.
func (l *CachedListing) SyncID() string {
	return string(l.ID)
}

// EntityType returns the entity-type tag.
func (l *CachedListing) EntityType() string {
	return "listing"
}

// LastModified returns the last-modified unix timestamp.
func (l *CachedListing) LastModified() int64 {
	return l.UpdatedAt
}

// SyncVersion returns the sync version.
func (l *CachedListing) SyncVersion() int {
	return l.Version
}

// UpdatedAtTime returns UpdatedAt as time.Time.
func (l *CachedListing) UpdatedAtTime() time.Time {
	return time.Unix(l.UpdatedAt, 0)
}

// DiffFields returns the names of data fields that differ from other.
// Version and timestamp drift alone does not count as a difference.
func (l *CachedListing) DiffFields(other CachedEntity) []string {
	o, ok := other.(*CachedListing)
	if !ok {
		return nil
	}

	var fields []string
	if l.Title != o.Title {
		fields = append(fields, "title")
	}
	if l.Description != o.Description {
		fields = append(fields, "description")
	}
	if l.Category != o.Category {
		fields = append(fields, "category")
	}
	if l.Quantity != o.Quantity {
		fields = append(fields, "quantity")
	}
	if l.PickupNotes != o.PickupNotes {
		fields = append(fields, "pickup_notes")
	}
	if l.ImageURL != o.ImageURL {
		fields = append(fields, "image_url")
	}
	if l.ViewCount != o.ViewCount {
		fields = append(fields, "view_count")
	}
	if l.InterestCount != o.InterestCount {
		fields = append(fields, "interest_count")
	}
	if l.IsArranged != o.IsArranged {
		fields = append(fields, "is_arranged")
	}
	if l.IsActive != o.IsActive {
		fields = append(fields, "is_active")
	}
	return fields
}

// Merge combines the local listing with the remote copy.
func (l *CachedListing) Merge(remote CachedEntity, prefer MergePreference) (CachedEntity, []string) {
	r, ok := remote.(*CachedListing)
	if !ok {
		return l, nil
	}

	merged := &CachedListing{
		ID:            l.ID,
		Title:         preferString(prefer, l.Title, r.Title),
		Description:   preferString(prefer, l.Description, r.Description),
		Category:      preferString(prefer, l.Category, r.Category),
		Quantity:      preferInt(prefer, l.Quantity, r.Quantity),
		PickupNotes:   preferString(prefer, l.PickupNotes, r.PickupNotes),
		ImageURL:      preferString(prefer, l.ImageURL, r.ImageURL),
		ViewCount:     max(l.ViewCount, r.ViewCount),
		InterestCount: max(l.InterestCount, r.InterestCount),
		IsArranged:    l.IsArranged || r.IsArranged,
		IsActive:      l.IsActive && r.IsActive,
		UpdatedAt:     max(l.UpdatedAt, r.UpdatedAt),
		Version:       max(l.Version, r.Version) + 1,
	}

	return merged, l.DiffFields(r)
}
