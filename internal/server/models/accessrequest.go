package models

import "time"

// RequestStatus is the state of an access request.
type RequestStatus string

const (
	RequestInProgress RequestStatus = "in_progress"
	RequestApproved   RequestStatus = "approved"
	RequestRejected   RequestStatus = "rejected"
	RequestExpired    RequestStatus = "expired"
)

// AccessRequest is a pending ask by a subject for permissions on a secret.
// Recipients is a snapshot of the GrantAccess holders taken at creation.
type AccessRequest struct {
	ID          string
	SubjectType SubjectType
	SubjectName string
	ObjectName  string
	Permission  PermissionType
	Recipients  []Subject
	Status      RequestStatus
	RequestedAt time.Time
	FinishedBy  string
	FinishedAt  *time.Time
}

// Requester returns the requesting subject.
func (r *AccessRequest) Requester() Subject {
	return Subject{Type: r.SubjectType, ID: r.SubjectName}
}
