// Package models provides data model definitions for the PlateShare sync core.
package models

import "time"

// CachedForumPost is the locally cached copy of a community forum post.
//
// Merge policy:
//   - title, body, category: preferred side, falling back when empty
//   - like_count, reply_count: max of both sides (monotonic counters)
//   - is_pinned, is_locked: OR of both sides (moderation flags stick once set)
type CachedForumPost struct {
	ID         UUID   `db:"id" json:"id"`
	AuthorID   UUID   `db:"author_id" json:"author_id"`
	Title      string `db:"title" json:"title"`
	Body       string `db:"body" json:"body"`
	Category   string `db:"category" json:"category"`
	LikeCount  int    `db:"like_count" json:"like_count"`
	ReplyCount int    `db:"reply_count" json:"reply_count"`
	IsPinned   bool   `db:"is_pinned" json:"is_pinned"`
	IsLocked   bool   `db:"is_locked" json:"is_locked"`
	UpdatedAt  int64  `db:"updated_at" json:"updated_at"`
	Version    int    `db:"version" json:"version"`
}

// TableName returns the table name for CachedForumPost.
func (CachedForumPost) TableName() string {
	return "cached_forum_posts"
}

// SyncID returns the stable sync identity.
func (p *CachedForumPost) SyncID() string {
	return string(p.ID)
}

// EntityType returns the entity-type tag.
func (p *CachedForumPost) EntityType() string {
	return "forum_post"
}

// LastModified returns the last-modified unix timestamp.
func (p *CachedForumPost) LastModified() int64 {
	return p.UpdatedAt
}

// SyncVersion returns the sync version.
func (p *CachedForumPost) SyncVersion() int {
	return p.Version
}

// UpdatedAtTime returns UpdatedAt as time.Time.
func (p *CachedForumPost) UpdatedAtTime() time.Time {
	return time.Unix(p.UpdatedAt, 0)
}

// DiffFields returns the names of data fields that differ from other.
func (p *CachedForumPost) DiffFields(other CachedEntity) []string {
	o, ok := other.(*CachedForumPost)
	if !ok {
		return nil
	}

	var fields []string
	if p.Title != o.Title {
		fields = append(fields, "title")
	}
	if p.Body != o.Body {
		fields = append(fields, "body")
	}
	if p.Category != o.Category {
		fields = append(fields, "category")
	}
	if p.LikeCount != o.LikeCount {
		fields = append(fields, "like_count")
	}
	if p.ReplyCount != o.ReplyCount {
		fields = append(fields, "reply_count")
	}
	if p.IsPinned != o.IsPinned {
		fields = append(fields, "is_pinned")
	}
	if p.IsLocked != o.IsLocked {
		fields = append(fields, "is_locked")
	}
	return fields
}

// Merge combines the local post with the remote copy.
func (p *CachedForumPost) Merge(remote CachedEntity, prefer MergePreference) (CachedEntity, []string) {
	r, ok := remote.(*CachedForumPost)
	if !ok {
		return p, nil
	}

	merged := &CachedForumPost{
		ID:         p.ID,
		AuthorID:   p.AuthorID,
		Title:      preferString(prefer, p.Title, r.Title),
		Body:       preferString(prefer, p.Body, r.Body),
		Category:   preferString(prefer, p.Category, r.Category),
		LikeCount:  max(p.LikeCount, r.LikeCount),
		ReplyCount: max(p.ReplyCount, r.ReplyCount),
		IsPinned:   p.IsPinned || r.IsPinned,
		IsLocked:   p.IsLocked || r.IsLocked,
		UpdatedAt:  max(p.UpdatedAt, r.UpdatedAt),
		Version:    max(p.Version, r.Version) + 1,
	}

	return merged, p.DiffFields(r)
}
