package moderation

import (
	"time"

	"emperror.dev/errors"
	"github.com/bwmarrin/discordgo"
	"github.com/lib/pq"
	"github.com/mediocregopher/radix/v3"

	"github.com/warden-bot/warden/common"
)

const (
	ErrAlreadyMuted = errors.Sentinel("user is already muted")
	ErrNotMuted     = errors.Sentinel("user is not muted")
	ErrNoMuteRole   = errors.Sentinel("no mute role")

	// the sanction was applied but the ledger write failed, audit-trail
	// loss is preferred over leaving the member unsanctioned
	ErrCaseNotSaved = errors.Sentinel("sanction applied but case not saved")
)

// IsMuted reports whether the pair has a live mute record. Errors are
// treated as not muted.
func (e *Engine) IsMuted(guildID, userID int64) bool {
	mute, err := e.Mutes.GetMute(guildID, userID)
	if err != nil {
		logger.WithError(err).WithField("guild", guildID).Error("failed checking mute state")
		return false
	}

	return mute != nil
}

// ApplyMute attaches the mute role to a member, records the case and, for
// timed mutes, schedules the reversal. actor is the invoking moderator's
// member for hierarchy checking, nil for automated mutes.
func (e *Engine) ApplyMute(guildID int64, actor *Member, target *Member, reason string, duration time.Duration) (*Case, error) {
	config, err := e.Configs.GetConfig(guildID)
	if err != nil {
		return nil, common.ErrWithCaller(err)
	}

	if config.MuteRole == 0 {
		return nil, ErrNoMuteRole
	}

	kind := CaseMute
	if duration > 0 {
		kind = CaseTempMute
	}

	if actor != nil {
		if err := e.CheckCanSanction(guildID, actor, target, kind); err != nil {
			return nil, err
		}
	}

	handle, err := e.lockTarget(guildID, target.User.ID)
	if err != nil {
		return nil, err
	}
	defer e.unlockTarget(guildID, target.User.ID, handle)

	existing, err := e.Mutes.GetMute(guildID, target.User.ID)
	if err != nil {
		return nil, common.ErrWithCaller(err)
	}
	if existing != nil {
		return nil, ErrAlreadyMuted
	}

	err = e.Discord.AddRole(guildID, target.User.ID, config.MuteRole)
	if err != nil {
		return nil, errors.WithMessage(err, "add mute role")
	}

	removedRoles := make(pq.Int64Array, 0, len(config.MuteRemoveRoles))
	for _, r := range target.Roles {
		if !common.ContainsInt64Slice(config.MuteRemoveRoles, r) {
			continue
		}

		if err := e.Discord.RemoveRole(guildID, target.User.ID, r); err != nil {
			logger.WithError(err).WithField("guild", guildID).Warn("failed stripping role during mute")
			continue
		}
		removedRoles = append(removedRoles, r)
	}

	// no matter what, make sure we don't end up with duplicated unmute
	// tasks for this member
	if err := e.Scheduler.CancelUserEvents(EventUnmute, guildID, target.User.ID); err != nil {
		logger.WithError(err).WithField("guild", guildID).Error("failed clearing stale unmute tasks")
	}

	author := e.authorFor(actor)
	err = e.Mutes.UpsertMute(&MutedUser{
		GuildID:      guildID,
		UserID:       target.User.ID,
		AuthorID:     author.ID,
		Reason:       reason,
		RemovedRoles: removedRoles,
	})
	if err != nil {
		return nil, errors.WithMessage(err, "store mute")
	}

	if duration > 0 {
		err = e.Scheduler.ScheduleEvent(EventUnmute, guildID, time.Now().Add(duration), &ScheduledUnmuteData{
			UserID: target.User.ID,
		})
		if err != nil {
			return nil, errors.WithMessage(err, "schedule unmute")
		}

		if e.Redis != nil {
			e.Redis.Do(radix.FlatCmd(nil, "SETEX", RedisKeyMutedUser(guildID, target.User.ID), int(duration.Seconds()), 1))
		}
	}

	action := MAMute
	action.Footer = "Duration: permanent"
	if duration > 0 {
		action.Footer = "Duration: " + common.HumanizeDuration(common.DurationPrecisionMinutes, duration)
	}

	go e.sendSanctionDM(target.User.ID, action, reason, duration)

	logger.WithField("guild", guildID).Infof("MODERATION: %s %s %s cause %q", author.Username, action.Prefix, target.User.Username, reason)

	c, caseErr := e.recordCase(kind, guildID, target.User.ID, author.ID, reason, duration)
	e.sendModlog(config, author, action, &target.User, reason)
	return c, caseErr
}

// ReverseMute removes the mute role, restores stripped roles, deletes the
// mute record and cancels any pending unmute. Safe to call from both the
// manual command and the scheduler, a pair without a mute record returns
// ErrNotMuted without any external calls.
func (e *Engine) ReverseMute(guildID, userID int64, author *User, reason string) error {
	handle, err := e.lockTarget(guildID, userID)
	if err != nil {
		return err
	}
	defer e.unlockTarget(guildID, userID, handle)

	mute, err := e.Mutes.GetMute(guildID, userID)
	if err != nil {
		return common.ErrWithCaller(err)
	}
	if mute == nil {
		return ErrNotMuted
	}

	config, err := e.Configs.GetConfig(guildID)
	if err != nil {
		return common.ErrWithCaller(err)
	}

	if config.MuteRole != 0 {
		err = e.Discord.RemoveRole(guildID, userID, config.MuteRole)
		if err != nil {
			if notFound, ferr := isNotFound(err); !notFound {
				// transient failure, keep the record so a retry can
				// finish the job
				return errors.WithMessage(ferr, "remove mute role")
			}
		}
	}

	for _, r := range mute.RemovedRoles {
		if err := e.Discord.AddRole(guildID, userID, r); err != nil {
			logger.WithError(err).WithField("guild", guildID).Warn("failed restoring role after unmute")
		}
	}

	if err := e.Mutes.DeleteMute(guildID, userID); err != nil {
		return errors.WithMessage(err, "delete mute")
	}

	if e.Redis != nil {
		e.Redis.Do(radix.Cmd(nil, "DEL", RedisKeyMutedUser(guildID, userID)))
	}

	// cancel the pending task so the scheduler never fires a stale
	// reversal on a member that may have been re-muted since
	if err := e.Scheduler.CancelUserEvents(EventUnmute, guildID, userID); err != nil {
		logger.WithError(err).WithField("guild", guildID).Error("failed cancelling pending unmute")
	}

	if author == nil {
		author = e.BotUser
	}

	go e.sendSanctionDM(userID, MAUnmute, reason, 0)

	_, caseErr := e.recordCase(CaseUnmute, guildID, userID, author.ID, reason, 0)
	e.sendModlog(config, author, MAUnmute, &User{ID: userID}, reason)
	return caseErr
}

// ApplyBan bans a user, optionally deleting up to 7 days of their message
// history, and schedules the unban for timed bans. The target does not have
// to be a current member.
func (e *Engine) ApplyBan(guildID int64, actor *Member, target *User, reason string, duration time.Duration, deleteDays int) (*Case, error) {
	config, err := e.Configs.GetConfig(guildID)
	if err != nil {
		return nil, common.ErrWithCaller(err)
	}

	if deleteDays < 0 {
		deleteDays = config.DefaultBanDeleteDays
	}
	if deleteDays > 7 {
		deleteDays = 7
	}
	if deleteDays < 0 {
		deleteDays = 0
	}

	kind := CaseBan
	if duration > 0 {
		kind = CaseTempBan
	}

	targetMember, memberErr := e.Discord.GetMember(guildID, target.ID)
	if actor != nil && memberErr == nil {
		if err := e.CheckCanSanction(guildID, actor, targetMember, kind); err != nil {
			return nil, err
		}
	}

	handle, err := e.lockTarget(guildID, target.ID)
	if err != nil {
		return nil, err
	}
	defer e.unlockTarget(guildID, target.ID, handle)

	action := MABanned
	if duration > 0 {
		action.Footer = "Expires after: " + common.HumanizeDuration(common.DurationPrecisionMinutes, duration)
	}

	// DM before the ban lands, afterwards we share no guild with them
	if memberErr == nil {
		e.sendSanctionDM(target.ID, action, reason, duration)
	}

	err = e.Discord.BanMember(guildID, target.ID, reason, deleteDays)
	if err != nil {
		return nil, errors.WithMessage(err, "ban member")
	}

	// mark that this user will show up in the audit log shortly, so the
	// ban-event listener doesn't double post to the modlog. Only after the
	// ban landed, a stale marker would swallow logging of a later real ban
	if e.Redis != nil {
		e.Redis.Do(radix.FlatCmd(nil, "SETEX", RedisKeyBannedUser(guildID, target.ID), 60, 1))
	}

	if err := e.Scheduler.CancelUserEvents(EventUnban, guildID, target.ID); err != nil {
		logger.WithError(err).WithField("guild", guildID).Error("failed clearing stale unban tasks")
	}

	if duration > 0 {
		err = e.Scheduler.ScheduleEvent(EventUnban, guildID, time.Now().Add(duration), &ScheduledUnbanData{
			UserID: target.ID,
		})
		if err != nil {
			return nil, errors.WithMessage(err, "schedule unban")
		}
	}

	author := e.authorFor(actor)
	logger.WithField("guild", guildID).Infof("MODERATION: %s %s %s cause %q", author.Username, action.Prefix, target.Username, reason)

	c, caseErr := e.recordCase(kind, guildID, target.ID, author.ID, reason, duration)
	e.sendModlog(config, author, action, target, reason)
	return c, caseErr
}

// ReverseBan lifts a ban and cancels any pending scheduled unban. A user not
// in the ban list is a no-op success, notBanned reports that outcome.
func (e *Engine) ReverseBan(guildID, userID int64, author *User, reason string) (notBanned bool, err error) {
	handle, err := e.lockTarget(guildID, userID)
	if err != nil {
		return false, err
	}
	defer e.unlockTarget(guildID, userID, handle)

	if err := e.Scheduler.CancelUserEvents(EventUnban, guildID, userID); err != nil {
		logger.WithError(err).WithField("guild", guildID).Error("failed cancelling pending unban")
	}

	config, err := e.Configs.GetConfig(guildID)
	if err != nil {
		return false, common.ErrWithCaller(err)
	}

	target := &User{ID: userID}
	if config.LogUnbans && config.ActionChannel != 0 {
		// the ban entry has the user details for the modlog, saves an
		// extra lookup when unban logging is off
		ban, err := e.Discord.GetBan(guildID, userID)
		if err != nil {
			return isNotFound(err)
		}
		target = &ban.User
	}

	err = e.Discord.UnbanMember(guildID, userID)
	if err != nil {
		return isNotFound(err)
	}

	if e.Redis != nil {
		e.Redis.Do(radix.FlatCmd(nil, "SETEX", RedisKeyUnbannedUser(guildID, userID), 30, 2))
	}

	if author == nil {
		author = e.BotUser
	}

	logger.WithField("guild", guildID).Infof("MODERATION: %s %s %s cause %q", author.Username, MAUnbanned.Prefix, target.Username, reason)

	_, caseErr := e.recordCase(CaseUnban, guildID, userID, author.ID, reason, 0)
	if config.LogUnbans {
		e.sendModlog(config, author, MAUnbanned, target, reason)
	}

	return false, caseErr
}

// ListBans fetches the guild's ban list. The platform is the authority for
// ban state, nothing is kept locally.
func (e *Engine) ListBans(guildID int64) ([]*Ban, error) {
	bans, err := e.Discord.ListBans(guildID)
	if err != nil {
		return nil, errors.WithMessage(err, "list bans")
	}

	return bans, nil
}

// Kick removes a member from the guild.
func (e *Engine) Kick(guildID int64, actor *Member, target *Member, reason string) (*Case, error) {
	config, err := e.Configs.GetConfig(guildID)
	if err != nil {
		return nil, common.ErrWithCaller(err)
	}

	if actor != nil {
		if err := e.CheckCanSanction(guildID, actor, target, CaseKick); err != nil {
			return nil, err
		}
	}

	e.sendSanctionDM(target.User.ID, MAKick, reason, 0)

	err = e.Discord.KickMember(guildID, target.User.ID, reason)
	if err != nil {
		return nil, errors.WithMessage(err, "kick member")
	}

	author := e.authorFor(actor)
	logger.WithField("guild", guildID).Infof("MODERATION: %s %s %s cause %q", author.Username, MAKick.Prefix, target.User.Username, reason)

	c, caseErr := e.recordCase(CaseKick, guildID, target.User.ID, author.ID, reason, 0)
	e.sendModlog(config, author, MAKick, &target.User, reason)
	return c, caseErr
}

// Softban bans and immediately unbans a member, purging their recent
// messages without a lasting ban.
func (e *Engine) Softban(guildID int64, actor *Member, target *Member, reason string, deleteDays int) (*Case, error) {
	config, err := e.Configs.GetConfig(guildID)
	if err != nil {
		return nil, common.ErrWithCaller(err)
	}

	if actor != nil {
		if err := e.CheckCanSanction(guildID, actor, target, CaseSoftban); err != nil {
			return nil, err
		}
	}

	if deleteDays < 1 {
		deleteDays = 1
	}
	if deleteDays > 7 {
		deleteDays = 7
	}

	handle, err := e.lockTarget(guildID, target.User.ID)
	if err != nil {
		return nil, err
	}
	defer e.unlockTarget(guildID, target.User.ID, handle)

	e.sendSanctionDM(target.User.ID, MASoftban, reason, 0)

	err = e.Discord.BanMember(guildID, target.User.ID, reason, deleteDays)
	if err != nil {
		return nil, errors.WithMessage(err, "softban ban")
	}

	if e.Redis != nil {
		e.Redis.Do(radix.FlatCmd(nil, "SETEX", RedisKeyBannedUser(guildID, target.User.ID), 60, 1))
		e.Redis.Do(radix.FlatCmd(nil, "SETEX", RedisKeyUnbannedUser(guildID, target.User.ID), 60, 2))
	}

	err = e.Discord.UnbanMember(guildID, target.User.ID)
	if err != nil {
		return nil, errors.WithMessage(err, "softban unban")
	}

	author := e.authorFor(actor)
	logger.WithField("guild", guildID).Infof("MODERATION: %s %s %s cause %q", author.Username, MASoftban.Prefix, target.User.Username, reason)

	c, caseErr := e.recordCase(CaseSoftban, guildID, target.User.ID, author.ID, reason, 0)
	e.sendModlog(config, author, MASoftban, &target.User, reason)
	return c, caseErr
}

// Warn records a warning case and notifies the member, no platform state is
// mutated.
func (e *Engine) Warn(guildID int64, actor *Member, target *Member, message string) (*Case, error) {
	config, err := e.Configs.GetConfig(guildID)
	if err != nil {
		return nil, common.ErrWithCaller(err)
	}

	if actor != nil {
		if err := e.CheckCanSanction(guildID, actor, target, CaseWarn); err != nil {
			return nil, err
		}
	}

	author := e.authorFor(actor)
	c, caseErr := e.recordCase(CaseWarn, guildID, target.User.ID, author.ID, message, 0)
	if caseErr != nil {
		// unlike the destructive sanctions a warning IS the ledger
		// entry, so a failed write means nothing happened
		return nil, caseErr
	}

	go e.sendSanctionDM(target.User.ID, MAWarned, message, 0)
	e.sendModlog(config, author, MAWarned, &target.User, message)
	return c, nil
}

func (e *Engine) authorFor(actor *Member) *User {
	if actor != nil {
		return &actor.User
	}
	if e.BotUser != nil {
		return e.BotUser
	}
	return &User{Username: "Unknown"}
}

func (e *Engine) recordCase(kind CaseKind, guildID, userID, authorID int64, reason string, duration time.Duration) (*Case, error) {
	c, err := e.Cases.CreateCase(kind, guildID, userID, authorID, reason, duration)
	if err != nil {
		logger.WithError(err).WithField("guild", guildID).Error("failed recording moderation case")
		return nil, ErrCaseNotSaved
	}

	return c, nil
}

func (e *Engine) sendSanctionDM(userID int64, action ModlogAction, reason string, duration time.Duration) {
	msg := "You have been **" + action.Prefix + "**"
	if duration > 0 {
		msg += "\n**Duration:** " + common.HumanizeDuration(common.DurationPrecisionMinutes, duration)
	}
	if reason != "" {
		msg += "\n**Reason:** " + reason
	}

	if err := e.Discord.SendDM(userID, msg); err != nil {
		metricsDMFailures.Inc()
		logger.WithError(err).Warn("failed sending sanction DM")
	}
}

func isNotFound(err error) (bool, error) {
	if err != nil {
		if cast, ok := errors.Cause(err).(*discordgo.RESTError); ok && cast.Response != nil {
			if cast.Response.StatusCode == 404 {
				return true, nil
			}
		}
		return false, err
	}
	return false, nil
}
