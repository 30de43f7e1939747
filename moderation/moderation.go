// Package moderation issues, persists, and later reverses time-bounded
// sanctions (mutes and bans) against guild members, keeps the mute role
// provisioned across channels, and screens member joins for raid patterns.
package moderation

import (
	"fmt"
	"time"

	"emperror.dev/errors"
	"github.com/mediocregopher/radix/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/warden-bot/warden/common"
	"github.com/warden-bot/warden/common/keylock"
	"github.com/warden-bot/warden/common/scheduledevents"
)

var logger = common.GetPluginLogger("moderation")

// best-effort failures are swallowed, the counters keep them observable
var (
	metricsDMFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "warden_moderation_dm_failures_total",
		Help: "Sanction notice DMs that could not be delivered",
	})
	metricsModlogFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "warden_moderation_modlog_failures_total",
		Help: "Modlog embeds that could not be posted",
	})
	metricsOverwriteFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "warden_moderation_overwrite_failures_total",
		Help: "Channel permission overwrites that failed during mute role reconciliation",
	})
)

const (
	EventUnmute = "moderation_unmute"
	EventUnban  = "moderation_unban"
)

func RedisKeyMutedUser(guildID, userID int64) string {
	return fmt.Sprintf("moderation_muted_user:%d:%d", guildID, userID)
}

func RedisKeyBannedUser(guildID, userID int64) string {
	return fmt.Sprintf("moderation_banned_user:%d:%d", guildID, userID)
}

func RedisKeyUnbannedUser(guildID, userID int64) string {
	return fmt.Sprintf("moderation_unbanned_user:%d:%d", guildID, userID)
}

// GuildUserKey scopes the per-target mutation lock.
type GuildUserKey struct {
	GuildID int64
	UserID  int64
}

// Engine wires the sanction paths together. All collaborators are injected
// at construction, the engine holds no global state.
type Engine struct {
	Cases     CaseStore
	Mutes     MuteStore
	Configs   ConfigStore
	Scheduler ExpiryScheduler
	Discord   DiscordAPI
	Staff     StaffChecker

	// optional, marks ban/unban modlog dedupe keys when set
	Redis radix.Client

	BotUser *User

	targetLocks *keylock.KeyLock[GuildUserKey]
}

func NewEngine(cases CaseStore, mutes MuteStore, configs ConfigStore, scheduler ExpiryScheduler, discord DiscordAPI, staff StaffChecker, botUser *User) *Engine {
	return &Engine{
		Cases:       cases,
		Mutes:       mutes,
		Configs:     configs,
		Scheduler:   scheduler,
		Discord:     discord,
		Staff:       staff,
		BotUser:     botUser,
		targetLocks: keylock.New[GuildUserKey](),
	}
}

var ErrLockTimeout = errors.Sentinel("timed out waiting for target lock")

// lockTarget serializes mutating operations on a single guild-user pair.
// The ttl guards against a leaked lock wedging the pair forever.
func (e *Engine) lockTarget(guildID, userID int64) (int64, error) {
	handle := e.targetLocks.Lock(GuildUserKey{GuildID: guildID, UserID: userID}, time.Second*10, time.Minute)
	if handle == -1 {
		return -1, ErrLockTimeout
	}
	return handle, nil
}

func (e *Engine) unlockTarget(guildID, userID int64, handle int64) {
	e.targetLocks.Unlock(GuildUserKey{GuildID: guildID, UserID: userID}, handle)
}

// ScheduledUnmuteData is the payload of a pending unmute task.
type ScheduledUnmuteData struct {
	UserID int64 `json:"user_id"`
}

// ScheduledUnbanData is the payload of a pending unban task.
type ScheduledUnbanData struct {
	UserID int64 `json:"user_id"`
}

// RegisterScheduledHandlers attaches the expiry reversal handlers. Must be
// called before the scheduler starts.
func (e *Engine) RegisterScheduledHandlers(sched *scheduledevents.Scheduler) {
	sched.RegisterHandler(EventUnmute, ScheduledUnmuteData{}, e.handleScheduledUnmute)
	sched.RegisterHandler(EventUnban, ScheduledUnbanData{}, e.handleScheduledUnban)
}

func (e *Engine) handleScheduledUnmute(evt *scheduledevents.ScheduledEvent, data interface{}) (retry bool, err error) {
	unmuteData := data.(*ScheduledUnmuteData)

	err = e.ReverseMute(evt.GuildID, unmuteData.UserID, e.BotUser, "Mute duration expired")
	if err != nil {
		if errors.Is(err, ErrNotMuted) || errors.Is(err, ErrNoMuteRole) {
			// reversed manually in the meantime, or the guild tore down
			// its mute setup, either way there is nothing left to undo
			return false, nil
		}

		// a reversal task is only consumed on confirmed success or
		// cancellation, even a final api response such as missing
		// permissions may clear up later
		return true, err
	}

	return false, nil
}

func (e *Engine) handleScheduledUnban(evt *scheduledevents.ScheduledEvent, data interface{}) (retry bool, err error) {
	unbanData := data.(*ScheduledUnbanData)

	_, err = e.ReverseBan(evt.GuildID, unbanData.UserID, e.BotUser, "Ban duration expired")
	if err != nil {
		return true, err
	}

	return false, nil
}

// ConfigStaffChecker grants immunity to members holding any of the guild's
// configured staff roles.
type ConfigStaffChecker struct {
	Configs ConfigStore
	Discord DiscordAPI
}

func (c *ConfigStaffChecker) IsStaff(guildID, userID int64, kind CaseKind) (bool, error) {
	config, err := c.Configs.GetConfig(guildID)
	if err != nil {
		return false, err
	}

	if len(config.StaffRoles) == 0 {
		return false, nil
	}

	member, err := c.Discord.GetMember(guildID, userID)
	if err != nil {
		return false, err
	}

	for _, r := range member.Roles {
		if common.ContainsInt64Slice(config.StaffRoles, r) {
			return true, nil
		}
	}

	return false, nil
}
