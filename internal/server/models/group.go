package models

import "time"

// GroupDictionaryItem is a group known to the service, registered the first
// time it receives a grant.
type GroupDictionaryItem struct {
	GroupID     string
	DisplayName string
	Mail        string
	CreatedAt   time.Time
}

// GroupMembership is the cached directory view of one user's groups.
// ValidUntil is the earliest moment the directory may be asked again.
type GroupMembership struct {
	Groups          []string
	ValidUntil      time.Time
	ConsentRequired bool
}
