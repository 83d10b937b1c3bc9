// Package domain provides the core value types shared by every bounded
// context of the host: scopes, events, outbound messages, dispatch results
// and the domain event bus contract.
package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// Scope — the addressable context of an event or grant
// ---------------------------------------------------------------------------

// ErrInvalidScope is returned when a scope identifier is malformed.
var ErrInvalidScope = errors.New("domain: invalid scope identifier")

// Scope addresses a context: a group, a user, a user within a group, or the
// global scope when both fields are empty. The zero value is the global scope.
type Scope struct {
	GroupID string `json:"group_id,omitempty"`
	UserID  string `json:"user_id,omitempty"`
}

// Global returns the scope covering all groups and users.
func Global() Scope { return Scope{} }

// Group returns a scope addressing one group.
func Group(groupID string) Scope { return Scope{GroupID: groupID} }

// User returns a scope addressing one user across all groups.
func User(userID string) Scope { return Scope{UserID: userID} }

// Member returns a scope addressing one user within one group.
func Member(groupID, userID string) Scope {
	return Scope{GroupID: groupID, UserID: userID}
}

// IsGlobal reports whether the scope covers everything.
func (s Scope) IsGlobal() bool { return s.GroupID == "" && s.UserID == "" }

// Specificity ranks scopes for permission resolution. Higher wins:
// member > group > user > global.
func (s Scope) Specificity() int {
	switch {
	case s.GroupID != "" && s.UserID != "":
		return 3
	case s.GroupID != "":
		return 2
	case s.UserID != "":
		return 1
	default:
		return 0
	}
}

// Covers reports whether a grant or filter at scope s applies to an event
// at scope other. A group scope covers every member of the group, a user
// scope covers that user in any group, and the global scope covers all.
func (s Scope) Covers(other Scope) bool {
	if s.GroupID != "" && s.GroupID != other.GroupID {
		return false
	}
	if s.UserID != "" && s.UserID != other.UserID {
		return false
	}
	return true
}

// Validate rejects malformed identifiers. Identifiers are free-form tokens
// but may not contain whitespace or the '/' separator used in wire forms.
func (s Scope) Validate() error {
	for _, id := range []string{s.GroupID, s.UserID} {
		if id == "" {
			continue
		}
		if strings.ContainsAny(id, " \t\n/") {
			return fmt.Errorf("%w: %q", ErrInvalidScope, id)
		}
	}
	return nil
}

// String implements fmt.Stringer.
func (s Scope) String() string {
	switch {
	case s.GroupID != "" && s.UserID != "":
		return "group:" + s.GroupID + "/user:" + s.UserID
	case s.GroupID != "":
		return "group:" + s.GroupID
	case s.UserID != "":
		return "user:" + s.UserID
	default:
		return "global"
	}
}
