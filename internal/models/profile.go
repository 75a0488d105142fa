// Package models provides data model definitions for the PlateShare sync core.
package models

import "time"

// CachedProfile is the locally cached copy of a member profile.
//
// Merge policy:
//   - display_name, bio, avatar_url, neighborhood: preferred side, falling
//     back when empty
//   - shares_completed, rating_count: max of both sides (monotonic counters)
//   - is_verified: OR of both sides (verification is never revoked by a merge)
type CachedProfile struct {
	ID              UUID   `db:"id" json:"id"`
	DisplayName     string `db:"display_name" json:"display_name"`
	Bio             string `db:"bio" json:"bio,omitempty"`
	AvatarURL       string `db:"avatar_url" json:"avatar_url,omitempty"`
	Neighborhood    string `db:"neighborhood" json:"neighborhood,omitempty"`
	SharesCompleted int    `db:"shares_completed" json:"shares_completed"`
	RatingCount     int    `db:"rating_count" json:"rating_count"`
	IsVerified      bool   `db:"is_verified" json:"is_verified"`
	UpdatedAt       int64  `db:"updated_at" json:"updated_at"`
	Version         int    `db:"version" json:"version"`
}

// TableName returns the table name for CachedProfile.
func (CachedProfile) TableName() string {
	return "cached_profiles"
}

// SyncID returns the stable sync identity.
func (p *CachedProfile) SyncID() string {
	return string(p.ID)
}

// EntityType returns the entity-type tag.
func (p *CachedProfile) EntityType() string {
	return "profile"
}

// LastModified returns the last-modified unix timestamp.
func (p *CachedProfile) LastModified() int64 {
	return p.UpdatedAt
}

// SyncVersion returns the sync version.
func (p *CachedProfile) SyncVersion() int {
	return p.Version
}

// UpdatedAtTime returns UpdatedAt as time.Time.
func (p *CachedProfile) UpdatedAtTime() time.Time {
	return time.Unix(p.UpdatedAt, 0)
}

// DiffFields returns the names of data fields that differ from other.
func (p *CachedProfile) DiffFields(other CachedEntity) []string {
	o, ok := other.(*CachedProfile)
	if !ok {
		return nil
	}

	var fields []string
	if p.DisplayName != o.DisplayName {
		fields = append(fields, "display_name")
	}
	if p.Bio != o.Bio {
		fields = append(fields, "bio")
	}
	if p.AvatarURL != o.AvatarURL {
		fields = append(fields, "avatar_url")
	}
	if p.Neighborhood != o.Neighborhood {
		fields = append(fields, "neighborhood")
	}
	if p.SharesCompleted != o.SharesCompleted {
		fields = append(fields, "shares_completed")
	}
	if p.RatingCount != o.RatingCount {
		fields = append(fields, "rating_count")
	}
	if p.IsVerified != o.IsVerified {
		fields = append(fields, "is_verified")
	}
	return fields
}

// Merge combines the local profile with the remote copy.
func (p *CachedProfile) Merge(remote CachedEntity, prefer MergePreference) (CachedEntity, []string) {
	r, ok := remote.(*CachedProfile)
	if !ok {
		return p, nil
	}

	merged := &CachedProfile{
		ID:              p.ID,
		DisplayName:     preferString(prefer, p.DisplayName, r.DisplayName),
		Bio:             preferString(prefer, p.Bio, r.Bio),
		AvatarURL:       preferString(prefer, p.AvatarURL, r.AvatarURL),
		Neighborhood:    preferString(prefer, p.Neighborhood, r.Neighborhood),
		SharesCompleted: max(p.SharesCompleted, r.SharesCompleted),
		RatingCount:     max(p.RatingCount, r.RatingCount),
		IsVerified:      p.IsVerified || r.IsVerified,
		UpdatedAt:       max(p.UpdatedAt, r.UpdatedAt),
		Version:         max(p.Version, r.Version) + 1,
	}

	return merged, p.DiffFields(r)
}
