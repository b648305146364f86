package models

import "time"

// ExpirationMetadata holds the two independent expiration triggers of a
// secret. Either one firing purges it.
type ExpirationMetadata struct {
	ScheduleExpiration bool
	ExpireAt           time.Time

	ExpireOnIdleTime bool
	IdleTimeToExpire time.Duration
}

// ObjectMetadata describes a secret. Contents is ordered; the main content is
// created together with the secret.
type ObjectMetadata struct {
	SecretID string

	Contents   []*ContentMetadata
	Expiration ExpirationMetadata

	CreatedAt      time.Time
	CreatedBy      string
	ModifiedAt     time.Time
	ModifiedBy     string
	LastAccessedAt time.Time
}

// MainContent returns the content flagged as main, or nil.
func (m *ObjectMetadata) MainContent() *ContentMetadata {
	for _, c := range m.Contents {
		if c.IsMain {
			return c
		}
	}
	return nil
}

// ExpiredAt reports whether either expiration trigger has fired at now, and
// which one.
func (m *ObjectMetadata) ExpiredAt(now time.Time) (bool, string) {
	e := m.Expiration
	if e.ScheduleExpiration && !e.ExpireAt.After(now) {
		return true, "scheduled"
	}
	if e.ExpireOnIdleTime && now.Sub(m.LastAccessedAt) >= e.IdleTimeToExpire {
		return true, "idle"
	}
	return false, ""
}
