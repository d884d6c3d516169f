// Package session glues a transport request to the orchestrator: permission
// gating, trend-first dispatch, message collection, graph invocation,
// reminder scheduling, and the per-channel message cache.
package session

import (
	"github.com/user/hatsuka/internal/config"
)

// Actor describes the requester for permission checks.
type Actor struct {
	UserID    string
	RoleIDs   []string
	ChannelID string
	IsDM      bool
}

// Gate evaluates the allow/block lists.
type Gate struct {
	config config.PermissionsConfig
}

// NewGate creates a permission gate.
func NewGate(cfg config.PermissionsConfig) *Gate {
	return &Gate{config: cfg}
}

// Allow reports whether the actor may invoke the agent. Block lists win
// over allow lists; an empty allow list permits everyone.
func (g *Gate) Allow(actor Actor) bool {
	if actor.IsDM && !g.config.AllowDMs {
		return false
	}
	if contains(g.config.Users.BlockedIDs, actor.UserID) {
		return false
	}
	if contains(g.config.Channels.BlockedIDs, actor.ChannelID) {
		return false
	}
	for _, role := range actor.RoleIDs {
		if contains(g.config.Roles.BlockedIDs, role) {
			return false
		}
	}

	if len(g.config.Users.AllowedIDs) > 0 && !contains(g.config.Users.AllowedIDs, actor.UserID) {
		if !g.roleAllowed(actor) {
			return false
		}
	}
	if len(g.config.Channels.AllowedIDs) > 0 && !actor.IsDM && !contains(g.config.Channels.AllowedIDs, actor.ChannelID) {
		return false
	}
	return true
}

func (g *Gate) roleAllowed(actor Actor) bool {
	if len(g.config.Roles.AllowedIDs) == 0 {
		return false
	}
	for _, role := range actor.RoleIDs {
		if contains(g.config.Roles.AllowedIDs, role) {
			return true
		}
	}
	return false
}

func contains(list []string, id string) bool {
	for _, v := range list {
		if v == id {
			return true
		}
	}
	return false
}
