package moderation

import (
	"strings"

	"emperror.dev/errors"
	"github.com/bwmarrin/discordgo"

	"github.com/warden-bot/warden/common"
)

// ReconcileMuteRole guarantees the guild has a usable mute role and that
// every channel and category denies it send permission. Resolution order:
// the configured role id, then a role literally named "muted", then a fresh
// role. Per-channel failures are counted, not fatal, this is a best-effort
// bulk operation. The resolved role id is persisted back into the config.
func (e *Engine) ReconcileMuteRole(guildID int64) (roleID int64, channelsFailed int, err error) {
	config, err := e.Configs.GetConfig(guildID)
	if err != nil {
		return 0, 0, common.ErrWithCaller(err)
	}

	roles, err := e.Discord.GuildRoles(guildID)
	if err != nil {
		return 0, 0, errors.WithMessage(err, "fetch roles")
	}

	role := resolveMuteRole(config, roles)
	if role == nil {
		role, err = e.Discord.CreateRole(guildID, "muted")
		if err != nil {
			return 0, 0, errors.WithMessage(err, "create mute role")
		}
		roles = append(roles, role)
	}

	channels, err := e.Discord.GuildChannels(guildID)
	if err != nil {
		return role.ID, 0, errors.WithMessage(err, "fetch channels")
	}

	channelsFailed = e.syncMuteRoleOverwrites(role, roles, channels)

	if config.MuteRole != role.ID {
		config.MuteRole = role.ID
		if err := e.Configs.SaveConfig(config); err != nil {
			return role.ID, channelsFailed, errors.WithMessage(err, "save config")
		}
	}

	logger.WithField("guild", guildID).Info("reconciled mute role, ", channelsFailed, " channels failed")
	return role.ID, channelsFailed, nil
}

func resolveMuteRole(config *GuildConfig, roles []*Role) *Role {
	if config.MuteRole != 0 {
		for _, r := range roles {
			if r.ID == config.MuteRole {
				return r
			}
		}
	}

	for _, r := range roles {
		if strings.EqualFold(r.Name, "muted") {
			return r
		}
	}

	return nil
}

// syncMuteRoleOverwrites applies the deny-send overwrite to every channel
// and category, and strips contradictory allow-send overwrites from other,
// non-managed roles so nothing overrides the restriction. Returns how many
// channels could not be updated.
func (e *Engine) syncMuteRoleOverwrites(muteRole *Role, roles []*Role, channels []*Channel) (failed int) {
	rolesByID := make(map[int64]*Role, len(roles))
	for _, r := range roles {
		rolesByID[r.ID] = r
	}

	for _, ch := range channels {
		// synced channels inherit the category overwrite applied below
		if !ch.IsCategory && ch.ParentID != 0 && ch.PermissionsSynced {
			continue
		}

		chFailed := false

		err := e.Discord.SetChannelPermissionOverwrite(ch.ID, muteRole.ID, 0, discordgo.PermissionSendMessages)
		if err != nil {
			metricsOverwriteFailures.Inc()
			logger.WithError(err).WithField("channel", ch.ID).Warn("failed setting mute overwrite")
			chFailed = true
		}

		for _, ow := range ch.Overwrites {
			if ow.RoleID == muteRole.ID || ow.Allow&discordgo.PermissionSendMessages == 0 {
				continue
			}

			if r, ok := rolesByID[ow.RoleID]; ok && r.Managed {
				continue
			}

			err := e.Discord.SetChannelPermissionOverwrite(ch.ID, ow.RoleID, ow.Allow&^int64(discordgo.PermissionSendMessages), ow.Deny)
			if err != nil {
				metricsOverwriteFailures.Inc()
				logger.WithError(err).WithField("channel", ch.ID).Warn("failed clearing allow-send overwrite")
				chFailed = true
			}
		}

		if chFailed {
			failed++
		}
	}

	return failed
}
