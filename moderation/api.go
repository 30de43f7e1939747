package moderation

import (
	"time"

	"github.com/bwmarrin/discordgo"
)

// User is a chat platform account.
type User struct {
	ID       int64
	Username string
	Avatar   string
	Bot      bool
}

func (u *User) String() string {
	return u.Username
}

// Member is a user inside a specific guild.
type Member struct {
	User User

	GuildID  int64
	Nick     string
	Roles    []int64
	JoinedAt time.Time
}

// DisplayName is the name shown in the member list, the nickname when one is
// set.
func (m *Member) DisplayName() string {
	if m.Nick != "" {
		return m.Nick
	}
	return m.User.Username
}

// Role is a guild role, ordered by Position for hierarchy comparisons.
// Managed roles belong to integrations and cannot be assigned by the bot.
type Role struct {
	ID          int64
	Name        string
	Position    int
	Permissions int64
	Managed     bool
}

// PermissionOverwrite is a role-specific permission override on a channel.
type PermissionOverwrite struct {
	RoleID int64
	Allow  int64
	Deny   int64
}

// Channel is a guild channel or category.
type Channel struct {
	ID         int64
	Name       string
	ParentID   int64
	IsCategory bool

	// true when the channel inherits its overwrites from its parent category
	PermissionsSynced bool

	Overwrites []PermissionOverwrite
}

// Ban is an entry in a guild's ban list.
type Ban struct {
	User   User
	Reason string
}

// DiscordAPI is the surface of the chat platform the sanction engine mutates.
// All calls are remote and fallible, implementations should not retry
// internally.
type DiscordAPI interface {
	GetMember(guildID, userID int64) (*Member, error)

	AddRole(guildID, userID, roleID int64) error
	RemoveRole(guildID, userID, roleID int64) error
	CreateRole(guildID int64, name string) (*Role, error)
	GuildRoles(guildID int64) ([]*Role, error)

	GuildChannels(guildID int64) ([]*Channel, error)
	SetChannelPermissionOverwrite(channelID, roleID int64, allow, deny int64) error

	BanMember(guildID, userID int64, reason string, deleteDays int) error
	UnbanMember(guildID, userID int64) error
	KickMember(guildID, userID int64, reason string) error
	GetBan(guildID, userID int64) (*Ban, error)
	ListBans(guildID int64) ([]*Ban, error)

	SendDM(userID int64, message string) error
	SendEmbed(channelID int64, embed *discordgo.MessageEmbed) error
}

// StaffChecker answers whether a member is immune to a given sanction kind.
// An error means the backing store was unreachable and the caller should fall
// back to the platform's native permission flags.
type StaffChecker interface {
	IsStaff(guildID, userID int64, kind CaseKind) (bool, error)
}

// ExpiryScheduler enqueues and cancels pending reversal tasks. Satisfied by
// *scheduledevents.Scheduler.
type ExpiryScheduler interface {
	ScheduleEvent(evtName string, guildID int64, runAt time.Time, data interface{}) error
	CancelUserEvents(evtName string, guildID, userID int64) error
}

// CaseStore is the append-only sanction ledger.
type CaseStore interface {
	CreateCase(kind CaseKind, guildID, userID, authorID int64, reason string, duration time.Duration) (*Case, error)
	GuildCases(guildID int64, limit int) ([]*Case, error)
	UserCases(guildID, userID int64) ([]*Case, error)
}

// MuteStore is the authority for which members are currently muted,
// independent of live role state.
type MuteStore interface {
	// GetMute returns nil, nil when the pair has no mute record
	GetMute(guildID, userID int64) (*MutedUser, error)
	UpsertMute(m *MutedUser) error
	DeleteMute(guildID, userID int64) error
}

// ConfigStore reads and writes the per-guild moderation config. GetConfig
// returns a private copy, changes only take effect through SaveConfig.
type ConfigStore interface {
	GetConfig(guildID int64) (*GuildConfig, error)
	SaveConfig(config *GuildConfig) error
}
