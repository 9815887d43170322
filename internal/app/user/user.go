/*
Package user contains the identity of an authenticated gateway user.

An Identity is derived once per connection from a verified token and never changes
for the lifetime of that connection.
*/
package user

import "slices"

// Identity is the user behind a connection.
type Identity struct {
	// ID is the stable user identifier issued by the platform.
	ID string `json:"id"`

	// Nickname is the display name shown next to messages and typing indicators.
	Nickname string `json:"nickname"`

	// Roles are optional platform roles carried by the token.
	Roles []string `json:"roles,omitempty"`
}

// HasRole reports whether the identity carries role.
func (i Identity) HasRole(role string) bool {
	return slices.Contains(i.Roles, role)
}
