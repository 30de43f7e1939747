// Package bot adapts a live discordgo session to the interfaces the
// moderation engine consumes, translating between the session's string
// snowflakes and the engine's numeric IDs.
package bot

import (
	"strconv"

	"emperror.dev/errors"
	"github.com/bwmarrin/discordgo"

	"github.com/warden-bot/warden/moderation"
)

// StrID formats a snowflake the way the platform API expects it.
func StrID(id int64) string {
	return strconv.FormatInt(id, 10)
}

// ParseID parses a snowflake, returning 0 for anything malformed.
func ParseID(s string) int64 {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return id
}

// Session wraps a discordgo session as a moderation.DiscordAPI.
type Session struct {
	S *discordgo.Session
}

var _ moderation.DiscordAPI = (*Session)(nil)

func NewSession(s *discordgo.Session) *Session {
	return &Session{S: s}
}

func (s *Session) GetMember(guildID, userID int64) (*moderation.Member, error) {
	m, err := s.S.GuildMember(StrID(guildID), StrID(userID))
	if err != nil {
		return nil, err
	}

	return convertMember(guildID, m), nil
}

func convertMember(guildID int64, m *discordgo.Member) *moderation.Member {
	out := &moderation.Member{
		GuildID:  guildID,
		Nick:     m.Nick,
		JoinedAt: m.JoinedAt,
		Roles:    make([]int64, 0, len(m.Roles)),
	}

	if m.User != nil {
		out.User = convertUser(m.User)
	}

	for _, r := range m.Roles {
		out.Roles = append(out.Roles, ParseID(r))
	}

	return out
}

func convertUser(u *discordgo.User) moderation.User {
	return moderation.User{
		ID:       ParseID(u.ID),
		Username: u.Username,
		Avatar:   u.Avatar,
		Bot:      u.Bot,
	}
}

func (s *Session) AddRole(guildID, userID, roleID int64) error {
	return s.S.GuildMemberRoleAdd(StrID(guildID), StrID(userID), StrID(roleID))
}

func (s *Session) RemoveRole(guildID, userID, roleID int64) error {
	return s.S.GuildMemberRoleRemove(StrID(guildID), StrID(userID), StrID(roleID))
}

func (s *Session) CreateRole(guildID int64, name string) (*moderation.Role, error) {
	role, err := s.S.GuildRoleCreate(StrID(guildID), &discordgo.RoleParams{Name: name})
	if err != nil {
		return nil, err
	}

	return convertRole(role), nil
}

func (s *Session) GuildRoles(guildID int64) ([]*moderation.Role, error) {
	roles, err := s.S.GuildRoles(StrID(guildID))
	if err != nil {
		return nil, err
	}

	out := make([]*moderation.Role, len(roles))
	for i, r := range roles {
		out[i] = convertRole(r)
	}
	return out, nil
}

func convertRole(r *discordgo.Role) *moderation.Role {
	return &moderation.Role{
		ID:          ParseID(r.ID),
		Name:        r.Name,
		Position:    r.Position,
		Permissions: r.Permissions,
		Managed:     r.Managed,
	}
}

func (s *Session) GuildChannels(guildID int64) ([]*moderation.Channel, error) {
	channels, err := s.S.GuildChannels(StrID(guildID))
	if err != nil {
		return nil, err
	}

	byID := make(map[string]*discordgo.Channel, len(channels))
	for _, ch := range channels {
		byID[ch.ID] = ch
	}

	out := make([]*moderation.Channel, len(channels))
	for i, ch := range channels {
		c := &moderation.Channel{
			ID:         ParseID(ch.ID),
			Name:       ch.Name,
			ParentID:   ParseID(ch.ParentID),
			IsCategory: ch.Type == discordgo.ChannelTypeGuildCategory,
		}

		for _, ow := range ch.PermissionOverwrites {
			if ow.Type != discordgo.PermissionOverwriteTypeRole {
				continue
			}
			c.Overwrites = append(c.Overwrites, moderation.PermissionOverwrite{
				RoleID: ParseID(ow.ID),
				Allow:  ow.Allow,
				Deny:   ow.Deny,
			})
		}

		if parent, ok := byID[ch.ParentID]; ok {
			c.PermissionsSynced = overwritesSynced(ch, parent)
		}

		out[i] = c
	}

	return out, nil
}

// overwritesSynced reports whether a channel's overwrites mirror its parent
// category's, the "synchronized permissions" state in the client UI.
func overwritesSynced(ch, parent *discordgo.Channel) bool {
	if len(ch.PermissionOverwrites) != len(parent.PermissionOverwrites) {
		return false
	}

	for _, po := range parent.PermissionOverwrites {
		found := false
		for _, co := range ch.PermissionOverwrites {
			if co.ID == po.ID && co.Type == po.Type && co.Allow == po.Allow && co.Deny == po.Deny {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	return true
}

func (s *Session) SetChannelPermissionOverwrite(channelID, roleID int64, allow, deny int64) error {
	return s.S.ChannelPermissionSet(StrID(channelID), StrID(roleID), discordgo.PermissionOverwriteTypeRole, allow, deny)
}

func (s *Session) BanMember(guildID, userID int64, reason string, deleteDays int) error {
	return s.S.GuildBanCreateWithReason(StrID(guildID), StrID(userID), reason, deleteDays)
}

func (s *Session) UnbanMember(guildID, userID int64) error {
	return s.S.GuildBanDelete(StrID(guildID), StrID(userID))
}

func (s *Session) KickMember(guildID, userID int64, reason string) error {
	return s.S.GuildMemberDeleteWithReason(StrID(guildID), StrID(userID), reason)
}

func (s *Session) GetBan(guildID, userID int64) (*moderation.Ban, error) {
	ban, err := s.S.GuildBan(StrID(guildID), StrID(userID))
	if err != nil {
		return nil, err
	}

	return convertBan(ban), nil
}

func (s *Session) ListBans(guildID int64) ([]*moderation.Ban, error) {
	bans, err := s.S.GuildBans(StrID(guildID), 1000, "", "")
	if err != nil {
		return nil, err
	}

	out := make([]*moderation.Ban, len(bans))
	for i, b := range bans {
		out[i] = convertBan(b)
	}
	return out, nil
}

func convertBan(b *discordgo.GuildBan) *moderation.Ban {
	out := &moderation.Ban{Reason: b.Reason}
	if b.User != nil {
		out.User = convertUser(b.User)
	}
	return out
}

func (s *Session) SendDM(userID int64, message string) error {
	channel, err := s.S.UserChannelCreate(StrID(userID))
	if err != nil {
		return errors.WithMessage(err, "create dm channel")
	}

	_, err = s.S.ChannelMessageSend(channel.ID, message)
	return err
}

func (s *Session) SendEmbed(channelID int64, embed *discordgo.MessageEmbed) error {
	_, err := s.S.ChannelMessageSendEmbed(StrID(channelID), embed)
	return err
}

// BotHasGuildPermission computes whether the bot holds perm guild-wide from
// its role set.
func (s *Session) BotHasGuildPermission(guildID int64, perm int64) bool {
	if s.S.State == nil || s.S.State.User == nil {
		return false
	}

	member, err := s.S.GuildMember(StrID(guildID), s.S.State.User.ID)
	if err != nil {
		return false
	}

	roles, err := s.S.GuildRoles(StrID(guildID))
	if err != nil {
		return false
	}

	for _, r := range roles {
		for _, mr := range member.Roles {
			if r.ID != mr {
				continue
			}
			if r.Permissions&discordgo.PermissionAdministrator != 0 || r.Permissions&perm != 0 {
				return true
			}
		}
	}

	return false
}
