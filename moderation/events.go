package moderation

import (
	"strconv"
	"time"

	"github.com/mediocregopher/radix/v3"
)

// HandleMemberJoin runs the raid heuristic on a joining member and, for
// members still in the mute store, re-attaches the mute role so leaving and
// rejoining never sheds a mute.
func (e *Engine) HandleMemberJoin(guildID int64, member *Member, canBan bool) {
	config, err := e.Configs.GetConfig(guildID)
	if err != nil {
		logger.WithError(err).WithField("guild", guildID).Error("failed fetching config on member join")
		return
	}

	accountAge := time.Since(UserCreatedAt(member.User.ID))
	action := EvaluateJoin(member.DisplayName(), accountAge, config.AntiraidLevel, canBan)

	if action != JoinActionNone {
		e.applyJoinAction(guildID, config, member, action)
		return
	}

	if config.MuteRole != 0 && e.IsMuted(guildID, member.User.ID) {
		if err := e.Discord.AddRole(guildID, member.User.ID, config.MuteRole); err != nil {
			logger.WithError(err).WithField("guild", guildID).Error("failed reapplying mute role on rejoin")
		}
	}
}

func (e *Engine) applyJoinAction(guildID int64, config *GuildConfig, member *Member, action JoinAction) {
	logger.WithField("guild", guildID).WithField("user", member.User.ID).
		Info("raid protection triggered: ", action.String())

	reason := "Raid protection (level " + strconv.Itoa(config.AntiraidLevel) + ")"

	if action.Has(JoinActionKick) {
		if err := e.Discord.KickMember(guildID, member.User.ID, reason); err != nil {
			logger.WithError(err).WithField("guild", guildID).Error("raid protection kick failed")
		}
	}

	if action.Has(JoinActionBan) {
		if e.Redis != nil {
			e.Redis.Do(radix.FlatCmd(nil, "SETEX", RedisKeyBannedUser(guildID, member.User.ID), 60, 1))
		}
		if err := e.Discord.BanMember(guildID, member.User.ID, reason, 1); err != nil {
			logger.WithError(err).WithField("guild", guildID).Error("raid protection ban failed")
		}
	}

	kind := CaseKick
	if action.Has(JoinActionBan) {
		kind = CaseBan
	}
	if _, err := e.recordCase(kind, guildID, member.User.ID, e.botID(), reason, 0); err != nil {
		logger.WithError(err).WithField("guild", guildID).Error("failed recording raid case")
	}

	e.sendModlog(config, e.BotUser, MARaid, &member.User, reason+", account age and name screening")
}

// HandleGuildBanRemove reacts to a ban lifted directly through the platform
// UI, cancelling any scheduled unban so it never fires against a user who
// may have been re-banned for unrelated reasons.
func (e *Engine) HandleGuildBanRemove(guildID, userID int64) {
	if err := e.Scheduler.CancelUserEvents(EventUnban, guildID, userID); err != nil {
		logger.WithError(err).WithField("guild", guildID).Error("failed cancelling unban after manual ban removal")
	}
}

func (e *Engine) botID() int64 {
	if e.BotUser != nil {
		return e.BotUser.ID
	}
	return 0
}
