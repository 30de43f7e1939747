package moderation

import (
	"strings"
	"time"

	"github.com/warden-bot/warden/common"
)

// JoinAction is the set of actions the join heuristic decided on. Kick and
// ban are not mutually exclusive, higher levels stack both on the same join.
type JoinAction int

const (
	JoinActionNone JoinAction = 0
	JoinActionKick JoinAction = 1 << iota
	JoinActionBan
)

func (a JoinAction) Has(flag JoinAction) bool {
	return a&flag != 0
}

func (a JoinAction) String() string {
	parts := make([]string, 0, 2)
	if a.Has(JoinActionKick) {
		parts = append(parts, "kick")
	}
	if a.Has(JoinActionBan) {
		parts = append(parts, "ban")
	}
	if len(parts) == 0 {
		return "none"
	}

	return strings.Join(parts, "+")
}

// discordEpoch is the millisecond timestamp snowflake IDs count from.
const discordEpoch = 1420070400000

// UserCreatedAt extracts the account creation time from a snowflake ID.
func UserCreatedAt(userID int64) time.Time {
	ms := (userID >> 22) + discordEpoch
	return time.Unix(0, ms*int64(time.Millisecond))
}

// EvaluateJoin scores a member join against the guild's raid protection
// level. Thresholds escalate strictly with the level:
//
//	level 0: no action ever
//	level 1+: kick when the display name carries an invite link
//	level 2+: kick accounts younger than 5 minutes
//	level 3+: the invite-link case becomes a ban, and accounts younger
//	          than 30 minutes are kicked; this whole stage needs ban
//	          permission
//	level 4:  accounts younger than 30 minutes are kicked, younger than
//	          120 minutes banned when ban permission is available
//
// Pure function of its inputs, the caller applies the returned actions.
func EvaluateJoin(displayName string, accountAge time.Duration, level int, canBan bool) JoinAction {
	if level <= 0 {
		return JoinActionNone
	}

	action := JoinActionNone
	hasInvite := common.ContainsInvite(displayName, true, true) != nil

	if level >= 1 && hasInvite {
		action |= JoinActionKick
	}

	if level >= 2 && accountAge <= time.Minute*5 {
		action |= JoinActionKick
	}

	if level >= 3 && canBan {
		if hasInvite {
			action |= JoinActionBan
		}
		if accountAge <= time.Minute*30 {
			action |= JoinActionKick
		}
	}

	if level >= 4 {
		if accountAge <= time.Minute*30 {
			action |= JoinActionKick
		}
		if canBan && accountAge <= time.Minute*120 {
			action |= JoinActionBan
		}
	}

	return action
}
