package moderation

import (
	"emperror.dev/errors"
	"github.com/bwmarrin/discordgo"
)

const (
	ErrTargetBot       = errors.Sentinel("cannot sanction the bot")
	ErrTargetStaff     = errors.Sentinel("target is staff for this action")
	ErrTargetAboveUser = errors.Sentinel("target is ranked equal to or higher than you")
	ErrTargetAboveBot  = errors.Sentinel("target is ranked equal to or higher than the bot")
)

// SanctionCheck carries everything the hierarchy guard needs, pre-resolved
// by the caller so the check itself stays a pure function.
type SanctionCheck struct {
	Kind CaseKind

	TargetIsBot   bool
	TargetIsStaff bool

	ActorTopPosition  int
	TargetTopPosition int
	BotTopPosition    int
}

// CanSanction evaluates the hierarchy rules in order, first match wins.
// A nil return means the action is allowed. No side effects.
func CanSanction(c SanctionCheck) error {
	if c.TargetIsBot {
		return ErrTargetBot
	}

	if c.TargetIsStaff {
		return ErrTargetStaff
	}

	if c.TargetTopPosition >= c.ActorTopPosition {
		return ErrTargetAboveUser
	}

	if c.TargetTopPosition >= c.BotTopPosition {
		return ErrTargetAboveBot
	}

	return nil
}

// nativePermissionFor maps a sanction kind to the platform permission that
// implies immunity from it, used when the staff store is unreachable.
func nativePermissionFor(kind CaseKind) int64 {
	switch kind {
	case CaseKick, CaseWarn:
		return discordgo.PermissionKickMembers
	case CaseBan, CaseTempBan, CaseSoftban, CaseUnban:
		return discordgo.PermissionBanMembers
	default:
		return discordgo.PermissionManageRoles
	}
}

// CheckCanSanction resolves live guild state into a SanctionCheck and runs
// the guard. Every sanction command calls this before mutating anything.
func (e *Engine) CheckCanSanction(guildID int64, actor, target *Member, kind CaseKind) error {
	roles, err := e.Discord.GuildRoles(guildID)
	if err != nil {
		return errors.WithMessage(err, "fetch roles")
	}

	check := SanctionCheck{
		Kind:              kind,
		TargetIsBot:       e.BotUser != nil && target.User.ID == e.BotUser.ID,
		ActorTopPosition:  highestRolePosition(roles, actor.Roles),
		TargetTopPosition: highestRolePosition(roles, target.Roles),
	}

	if e.BotUser != nil {
		botMember, err := e.Discord.GetMember(guildID, e.BotUser.ID)
		if err != nil {
			return errors.WithMessage(err, "fetch bot member")
		}
		check.BotTopPosition = highestRolePosition(roles, botMember.Roles)
	}

	isStaff, err := e.Staff.IsStaff(guildID, target.User.ID, kind)
	if err != nil {
		// degraded mode, fall back to the platform's native permission
		logger.WithError(err).WithField("guild", guildID).Warn("staff lookup failed, falling back to native permissions")
		isStaff = hasPermission(roles, target.Roles, nativePermissionFor(kind))
	}
	check.TargetIsStaff = isStaff

	return CanSanction(check)
}

func highestRolePosition(guildRoles []*Role, memberRoles []int64) int {
	highest := 0
	for _, gr := range guildRoles {
		for _, mr := range memberRoles {
			if gr.ID == mr && gr.Position > highest {
				highest = gr.Position
			}
		}
	}

	return highest
}

func hasPermission(guildRoles []*Role, memberRoles []int64, perm int64) bool {
	for _, gr := range guildRoles {
		for _, mr := range memberRoles {
			if gr.ID != mr {
				continue
			}

			if gr.Permissions&discordgo.PermissionAdministrator != 0 || gr.Permissions&perm != 0 {
				return true
			}
		}
	}

	return false
}
