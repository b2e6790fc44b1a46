package server

import (
	"encoding/json"

	"realm-server/internal/kv"
	"realm-server/internal/storage"
)

// Client -> Server packet types
const (
	MsgTimeSync     = "TIME_SYNC"
	MsgServerTime   = "SERVER_TIME"
	MsgMoveXY       = "MOVEXY"
	MsgStats        = "STATS"
	MsgAnimation    = "ANIMATION"
	MsgAuth         = "AUTH"
	MsgLogout       = "LOGOUT"
	MsgChat         = "CHAT"
	MsgWhisper      = "WHISPER"
	MsgSpell        = "SPELL"
	MsgMount        = "MOUNT"
	MsgStealth      = "STEALTH"
	MsgNoclip       = "NOCLIP"
	MsgTeleportXY   = "TELEPORTXY"
	MsgCommand      = "COMMAND"
	MsgPartyInvite  = "PARTY_INVITE"
	MsgPartyAccept  = "PARTY_ACCEPT"
	MsgPartyDecline = "PARTY_DECLINE"
	MsgPartyLeave   = "PARTY_LEAVE"
	MsgPartyKick    = "PARTY_KICK"
	MsgFriendAdd    = "FRIEND_ADD"
	MsgFriendRemove = "FRIEND_REMOVE"
	MsgFriendList   = "FRIEND_LIST"
	MsgClientConfig = "CLIENT_CONFIG"
	MsgBenchmark    = "BENCHMARK"
)

// Server -> Client packet types
const (
	MsgPublicKey       = "PUBLIC_KEY"
	MsgConnectionCount = "CONNECTION_COUNT"
	MsgLoginSuccess    = "LOGIN_SUCCESS"
	MsgLoginFailed     = "LOGIN_FAILED"
	MsgSpawnPlayer     = "SPAWN_PLAYER"
	MsgLoadPlayers     = "LOAD_PLAYERS"
	MsgDisconnect      = "DISCONNECT_PLAYER"
	MsgUpdateStats     = "UPDATESTATS"
	MsgCastSpell       = "CAST_SPELL"
	MsgSpellResult     = "SPELL_RESULT"
	MsgRevive          = "REVIVE"
	MsgLevelUp         = "LEVEL_UP"
	MsgNotify          = "NOTIFY"
	MsgRateLimited     = "RATE_LIMITED"
	MsgBroadcast       = "BROADCAST"
	MsgReconnect       = "RECONNECT"
	MsgPartyUpdate     = "PARTY_UPDATE"
	MsgInvitation      = "INVITATION"
	MsgPermissions     = "PERMISSIONS"
)

// exemptTypes skip rate limiting and backpressure queueing
var exemptTypes = map[string]bool{
	MsgTimeSync:   true,
	MsgMoveXY:     true,
	MsgStats:      true,
	MsgServerTime: true,
	MsgAnimation:  true,
}

// unauthenticatedTypes may be sent before login completes
var unauthenticatedTypes = map[string]bool{
	MsgTimeSync:   true,
	MsgServerTime: true,
	MsgAuth:       true,
	MsgBenchmark:  true,
}

// WebSocket close codes
const (
	CloseNormal  = 1000
	CloseInvalid = 1007
	ClosePolicy  = 1008
	CloseTooBig  = 1009
)

// AuthMsg carries a login token, either plain or sealed to the
// connection's public key. Guest logins carry neither.
type AuthMsg struct {
	Token    string `json:"token,omitempty"`
	Sealed   string `json:"sealed,omitempty"`
	Guest    bool   `json:"guest,omitempty"`
	Language string `json:"language,omitempty"`
}

// TimeSyncMsg echoes the client's clock alongside ours
type TimeSyncMsg struct {
	Client int64 `json:"client"`
	Server int64 `json:"server"`
}

// ServerTimeMsg is the server clock in unix milliseconds
type ServerTimeMsg struct {
	Time int64 `json:"time"`
}

// CountMsg is the live connection count
type CountMsg struct {
	Count int `json:"count"`
}

// PublicKeyMsg carries the per-connection sealing key
type PublicKeyMsg struct {
	Key string `json:"key"`
}

// NotifyMsg is a user-facing notice
type NotifyMsg struct {
	Message string `json:"message"`
}

// ReasonMsg explains a failure or disconnect
type ReasonMsg struct {
	Reason string `json:"reason"`
}

// PlayerSnapshot is the public view of a player sent to others
type PlayerSnapshot struct {
	ID        string            `json:"id"`
	Username  string            `json:"username"`
	Map       string            `json:"map"`
	X         float64           `json:"x"`
	Y         float64           `json:"y"`
	Direction string            `json:"direction"`
	Moving    bool              `json:"moving"`
	Stats     storage.Stats     `json:"stats"`
	Mounted   bool              `json:"mounted"`
	MountType string            `json:"mount_type,omitempty"`
	Stealth   bool              `json:"stealth"`
	Admin     bool              `json:"admin"`
	Guest     bool              `json:"guest"`
	PartyID   string            `json:"party_id,omitempty"`
	Equipment map[string]string `json:"equipment,omitempty"`
}

// LoginSuccessMsg is the full private state sent on login
type LoginSuccessMsg struct {
	Player       PlayerSnapshot      `json:"player"`
	Inventory    []InventoryItem     `json:"inventory"`
	Spells       map[string]kv.Spell `json:"spells"`
	Collectables []string            `json:"collectables"`
	Permissions  []string            `json:"permissions"`
	Friends      []FriendStatus      `json:"friends"`
	Config       json.RawMessage     `json:"config,omitempty"`
	Language     string              `json:"language"`
	Revision     uint64              `json:"revision"`
}

// MoveMsg is a position update
type MoveMsg struct {
	ID        string  `json:"id"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Direction string  `json:"direction"`
	Moving    bool    `json:"moving"`
	Revision  uint64  `json:"revision"`
}

// AnimationMsg is an animation trigger
type AnimationMsg struct {
	ID       string `json:"id,omitempty"`
	Name     string `json:"name"`
	Revision uint64 `json:"revision,omitempty"`
}

// StealthMsg toggles a player's visibility
type StealthMsg struct {
	ID       string `json:"id"`
	Stealth  bool   `json:"stealth"`
	Revision uint64 `json:"revision"`
}

// TeleportMsg requests or announces a jump to a position
type TeleportMsg struct {
	ID       string  `json:"id,omitempty"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Revision uint64  `json:"revision,omitempty"`
}

// ReconnectMsg tells the client to reconnect onto another map
type ReconnectMsg struct {
	Map string  `json:"map"`
	X   float64 `json:"x"`
	Y   float64 `json:"y"`
}

// DisconnectMsg removes a player from view
type DisconnectMsg struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// StatsMsg carries a player's stats
type StatsMsg struct {
	ID       string        `json:"id"`
	Stats    storage.Stats `json:"stats"`
	Revision uint64        `json:"revision,omitempty"`
}

// SpellMsg is a cast request
type SpellMsg struct {
	Spell  string `json:"spell"`
	Target string `json:"target"`
}

// CastMsg announces the start of a cast
type CastMsg struct {
	Caster   string `json:"caster"`
	Target   string `json:"target"`
	Spell    string `json:"spell"`
	CastTime int    `json:"cast_time"`
	Revision uint64 `json:"revision"`
}

// SpellResultMsg reports a resolved spell
type SpellResultMsg struct {
	Caster   string `json:"caster"`
	Target   string `json:"target"`
	Spell    string `json:"spell"`
	Amount   int    `json:"amount"`
	Heal     bool   `json:"heal"`
	Crit     bool   `json:"crit"`
	Revision uint64 `json:"revision"`
}

// ReviveMsg announces a respawn
type ReviveMsg struct {
	ID       string  `json:"id"`
	Map      string  `json:"map"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Revision uint64  `json:"revision"`
}

// LevelUpMsg announces a new level
type LevelUpMsg struct {
	ID    string `json:"id"`
	Level int    `json:"level"`
}

// ChatMsg is a chat line or request
type ChatMsg struct {
	ID       string `json:"id,omitempty"`
	Username string `json:"username,omitempty"`
	Message  string `json:"message"`
}

// WhisperMsg is a private message
type WhisperMsg struct {
	From    string `json:"from,omitempty"`
	To      string `json:"to"`
	Message string `json:"message"`
}

// MountMsg requests or announces a mount change
type MountMsg struct {
	ID      string `json:"id,omitempty"`
	Mount   string `json:"mount,omitempty"`
	Mounted bool   `json:"mounted"`
}

// CommandMsg is an administrative command
type CommandMsg struct {
	Command string   `json:"command"`
	Args    []string `json:"args"`
}

// UsernameMsg names another player
type UsernameMsg struct {
	Username string `json:"username"`
}

// InviterMsg names the sender of an invitation
type InviterMsg struct {
	Inviter string `json:"inviter"`
}

// PartyUpdateMsg is the current party membership
type PartyUpdateMsg struct {
	ID      string   `json:"id,omitempty"`
	Leader  string   `json:"leader,omitempty"`
	Members []string `json:"members"`
}

// InvitationMsg is a pending party invitation
type InvitationMsg struct {
	From    string `json:"from"`
	Expires int64  `json:"expires"`
}

// FriendStatus is one friend list entry
type FriendStatus struct {
	Username string `json:"username"`
	Online   bool   `json:"online"`
}

// PermissionsMsg lists a player's permissions
type PermissionsMsg struct {
	Username    string   `json:"username"`
	Permissions []string `json:"permissions"`
}

// BenchmarkMsg echoes a benchmark frame size
type BenchmarkMsg struct {
	Size int `json:"size"`
}
