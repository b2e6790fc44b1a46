package server

import (
	"sort"
	"strings"
)

// Command permissions
const (
	PermAll        = "*"
	PermAdminAll   = "admin.*"
	PermSummon     = "admin.summon"
	PermKick       = "admin.kick"
	PermBan        = "admin.ban"
	PermUnban      = "admin.unban"
	PermPermission = "admin.permission"
	PermRestart    = "admin.restart"
	PermBroadcast  = "admin.broadcast"
	PermWarp       = "admin.warp"
	PermStealth    = "admin.stealth"
	PermNoclip     = "admin.noclip"
	PermTeleport   = "admin.teleport"
	PermReload     = "admin.reload"
)

// Social permissions, granted to every player at login
const (
	PermParty   = "social.party"
	PermFriends = "social.friends"
	PermMount   = "social.mount"
)

// playerPermissions is a player's stored permissions plus the social
// defaults. Guests have no friend list.
func playerPermissions(stored []string, guest bool) Permissions {
	p := NewPermissions(stored)
	p.Add(PermParty)
	p.Add(PermMount)
	if !guest {
		p.Add(PermFriends)
	}
	return p
}

// Permissions is the set of permission strings held by a player.
// A held "x.*" grants every permission starting with "x.", and a held "*"
// grants everything.
type Permissions map[string]struct{}

// NewPermissions builds a set from a list
func NewPermissions(list []string) Permissions {
	p := make(Permissions, len(list))
	for _, s := range list {
		if s = strings.TrimSpace(s); s != "" {
			p[s] = struct{}{}
		}
	}
	return p
}

// Has reports whether the set grants perm
func (p Permissions) Has(perm string) bool {
	if _, ok := p[perm]; ok {
		return true
	}
	if _, ok := p[PermAll]; ok {
		return true
	}
	for held := range p {
		if prefix, ok := strings.CutSuffix(held, "*"); ok && strings.HasSuffix(prefix, ".") && strings.HasPrefix(perm, prefix) {
			return true
		}
	}
	return false
}

// Add grants perm
func (p Permissions) Add(perm string) {
	p[perm] = struct{}{}
}

// Remove revokes perm
func (p Permissions) Remove(perm string) {
	delete(p, perm)
}

// List returns the held permissions sorted
func (p Permissions) List() []string {
	out := make([]string, 0, len(p))
	for s := range p {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Admin reports whether the set carries any administrative grant
func (p Permissions) Admin() bool {
	return p.Has(PermAdminAll)
}

// canActOn reports whether an actor may use an administrative command on
// target. Admins are protected from each other unless the actor holds "*".
func canActOn(actor, target Permissions) bool {
	if !target.Admin() {
		return true
	}
	_, root := actor[PermAll]
	return root
}
