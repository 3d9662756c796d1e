// Package rbac maps session roles to what they may do with the navigation
// document.
package rbac

import "strings"

type Role string
type Action string

const (
	RoleViewer Role = "viewer"
	RoleEditor Role = "editor"
)

const (
	ActionRead  Action = "read"
	ActionWrite Action = "write"
)

var grants = map[Role][]Action{
	RoleViewer: {ActionRead},
	RoleEditor: {ActionRead, ActionWrite},
}

func Can(role Role, action Action) bool {
	for _, granted := range grants[role] {
		if granted == action {
			return true
		}
	}
	return false
}

// Normalize maps a stored role string to a known role. Anything unknown is
// treated as a viewer.
func Normalize(role string) Role {
	candidate := Role(strings.ToLower(strings.TrimSpace(role)))
	if _, ok := grants[candidate]; ok {
		return candidate
	}
	return RoleViewer
}
