package moderation

import (
	"testing"

	"emperror.dev/errors"
	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanSanction(t *testing.T) {
	cases := []struct {
		name  string
		check SanctionCheck
		want  error
	}{
		{
			name:  "equal positions denied",
			check: SanctionCheck{ActorTopPosition: 5, TargetTopPosition: 5, BotTopPosition: 10},
			want:  ErrTargetAboveUser,
		},
		{
			name:  "lower target allowed",
			check: SanctionCheck{ActorTopPosition: 5, TargetTopPosition: 4, BotTopPosition: 10},
			want:  nil,
		},
		{
			name:  "target above bot denied",
			check: SanctionCheck{ActorTopPosition: 10, TargetTopPosition: 6, BotTopPosition: 6},
			want:  ErrTargetAboveBot,
		},
		{
			name:  "bot target denied first",
			check: SanctionCheck{TargetIsBot: true, ActorTopPosition: 10, BotTopPosition: 10},
			want:  ErrTargetBot,
		},
		{
			name:  "staff target denied",
			check: SanctionCheck{TargetIsStaff: true, ActorTopPosition: 10, TargetTopPosition: 1, BotTopPosition: 10},
			want:  ErrTargetStaff,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := CanSanction(tc.check)
			if tc.want == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tc.want)
			}
		})
	}
}

func TestCheckCanSanctionDegradedFallback(t *testing.T) {
	f := newTestEngine()

	f.discord.roles = []*Role{
		{ID: 10, Position: 10},
		{ID: 5, Position: 5, Permissions: discordgo.PermissionBanMembers},
	}
	f.discord.members[1] = &Member{User: User{ID: 1}, Roles: []int64{10}} // the bot
	f.staff.err = errors.Sentinel("store unreachable")

	actor := &Member{User: User{ID: 300}, Roles: []int64{10}}
	target := &Member{User: User{ID: 301}, Roles: []int64{5}}

	// with the staff store down, the target's native ban permission
	// stands in for staff immunity
	err := f.engine.CheckCanSanction(testGuild, actor, target, CaseBan)
	assert.ErrorIs(t, err, ErrTargetStaff)

	// a target without the fallback permission is still sanctionable
	target.Roles = nil
	err = f.engine.CheckCanSanction(testGuild, actor, target, CaseBan)
	require.NoError(t, err)
}
