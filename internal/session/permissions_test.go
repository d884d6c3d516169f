package session

import (
	"testing"

	"github.com/user/hatsuka/internal/config"
)

func TestGateDMGating(t *testing.T) {
	gate := NewGate(config.PermissionsConfig{AllowDMs: false})
	if gate.Allow(Actor{UserID: "u", IsDM: true}) {
		t.Error("DM must be rejected when allow_dms is false")
	}
	gate = NewGate(config.PermissionsConfig{AllowDMs: true})
	if !gate.Allow(Actor{UserID: "u", IsDM: true}) {
		t.Error("DM must be allowed when allow_dms is true")
	}
}

func TestGateBlockListWins(t *testing.T) {
	gate := NewGate(config.PermissionsConfig{
		Users: config.IDListPair{
			AllowedIDs: []string{"u1"},
			BlockedIDs: []string{"u1"},
		},
	})
	if gate.Allow(Actor{UserID: "u1"}) {
		t.Error("block list must win over allow list")
	}
}

func TestGateEmptyAllowPermitsAll(t *testing.T) {
	gate := NewGate(config.PermissionsConfig{})
	if !gate.Allow(Actor{UserID: "anyone", ChannelID: "anywhere"}) {
		t.Error("empty lists must permit everyone")
	}
}

func TestGateUserAllowList(t *testing.T) {
	gate := NewGate(config.PermissionsConfig{
		Users: config.IDListPair{AllowedIDs: []string{"u1"}},
	})
	if !gate.Allow(Actor{UserID: "u1"}) {
		t.Error("listed user rejected")
	}
	if gate.Allow(Actor{UserID: "u2"}) {
		t.Error("unlisted user allowed")
	}
}

func TestGateRoleGrantsAccess(t *testing.T) {
	gate := NewGate(config.PermissionsConfig{
		Users: config.IDListPair{AllowedIDs: []string{"someone-else"}},
		Roles: config.IDListPair{AllowedIDs: []string{"mod"}},
	})
	if !gate.Allow(Actor{UserID: "u2", RoleIDs: []string{"mod"}}) {
		t.Error("allowed role must grant access")
	}
}

func TestGateBlockedRole(t *testing.T) {
	gate := NewGate(config.PermissionsConfig{
		Roles: config.IDListPair{BlockedIDs: []string{"banned"}},
	})
	if gate.Allow(Actor{UserID: "u", RoleIDs: []string{"banned"}}) {
		t.Error("blocked role must deny access")
	}
}

func TestGateChannelAllowList(t *testing.T) {
	gate := NewGate(config.PermissionsConfig{
		AllowDMs: true,
		Channels: config.IDListPair{AllowedIDs: []string{"c1"}},
	})
	if !gate.Allow(Actor{UserID: "u", ChannelID: "c1"}) {
		t.Error("listed channel rejected")
	}
	if gate.Allow(Actor{UserID: "u", ChannelID: "c2"}) {
		t.Error("unlisted channel allowed")
	}
	// DMs bypass the channel allow list.
	if !gate.Allow(Actor{UserID: "u", IsDM: true}) {
		t.Error("DM must bypass channel allow list")
	}
}
