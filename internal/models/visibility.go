package models

import "time"

// PubliclyListable is the gallery predicate. Moderation always wins over featuring.
func (a *Asset) PubliclyListable() bool {
	return a != nil && a.IsFeatured && !a.IsDisabledByAdmin
}

// ShareResolvable reports whether a direct link to the asset resolves at now.
// Admin moderation does not take part here; only the owner's settings do.
func (a *Asset) ShareResolvable(now time.Time) bool {
	if a == nil || !a.SharingEnabled {
		return false
	}
	return a.ShareExpiresAt == nil || a.ShareExpiresAt.After(now)
}
