// Package models defines server-side data models persisted by the repositories.
package models

import (
	"fmt"
	"strings"
)

// SubjectType discriminates the identities that can hold permissions.
type SubjectType string

const (
	SubjectUser        SubjectType = "user"
	SubjectGroup       SubjectType = "group"
	SubjectApplication SubjectType = "application"
)

// Valid reports whether t is one of the known subject types.
func (t SubjectType) Valid() bool {
	switch t {
	case SubjectUser, SubjectGroup, SubjectApplication:
		return true
	}
	return false
}

// Subject is a user, group or application identity.
type Subject struct {
	Type SubjectType `json:"subjectType"`
	ID   string      `json:"subjectId"`
}

func (s Subject) String() string {
	return string(s.Type) + ":" + s.ID
}

// PermissionType is a set of capabilities on a secret.
type PermissionType uint8

const (
	PermissionNone         PermissionType = 0
	PermissionRead         PermissionType = 1
	PermissionWrite        PermissionType = 2
	PermissionGrantAccess  PermissionType = 4
	PermissionRevokeAccess PermissionType = 8

	PermissionAll = PermissionRead | PermissionWrite | PermissionGrantAccess | PermissionRevokeAccess
)

// Grant returns p with every bit of other set.
func (p PermissionType) Grant(other PermissionType) PermissionType { return p | other }

// Revoke returns p with every bit of other cleared.
func (p PermissionType) Revoke(other PermissionType) PermissionType { return p &^ other }

// Has reports whether every bit of mask is set in p. An empty mask is never
// satisfied, so asking for "nothing" cannot authorize anything.
func (p PermissionType) Has(mask PermissionType) bool {
	return mask != PermissionNone && p&mask == mask
}

// IsEmpty reports whether no bit is set.
func (p PermissionType) IsEmpty() bool { return p&PermissionAll == PermissionNone }

func (p PermissionType) String() string {
	if p.IsEmpty() {
		return "None"
	}
	var names []string
	for _, f := range []struct {
		bit  PermissionType
		name string
	}{
		{PermissionRead, "Read"},
		{PermissionWrite, "Write"},
		{PermissionGrantAccess, "GrantAccess"},
		{PermissionRevokeAccess, "RevokeAccess"},
	} {
		if p&f.bit != 0 {
			names = append(names, f.name)
		}
	}
	return strings.Join(names, ",")
}

// ParsePermissions parses a comma separated list such as "Read,Write".
func ParsePermissions(s string) (PermissionType, error) {
	var p PermissionType
	for _, part := range strings.Split(s, ",") {
		switch strings.ToLower(strings.TrimSpace(part)) {
		case "read":
			p = p.Grant(PermissionRead)
		case "write":
			p = p.Grant(PermissionWrite)
		case "grantaccess":
			p = p.Grant(PermissionGrantAccess)
		case "revokeaccess":
			p = p.Grant(PermissionRevokeAccess)
		case "", "none":
		default:
			return PermissionNone, fmt.Errorf("unknown permission %q", part)
		}
	}
	return p, nil
}

// SubjectPermissions is the grant row for one subject on one secret. Rows
// with an empty permission set are deleted, never stored.
type SubjectPermissions struct {
	SecretID    string
	SubjectType SubjectType
	SubjectID   string
	Permissions PermissionType
}

// Subject returns the holder of the row.
func (p *SubjectPermissions) Subject() Subject {
	return Subject{Type: p.SubjectType, ID: p.SubjectID}
}
