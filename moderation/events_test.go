package moderation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// freshSnowflake builds an ID whose decoded creation time is age ago.
func freshSnowflake(age time.Duration) int64 {
	ms := time.Now().Add(-age).UnixMilli() - discordEpoch
	return ms << 22
}

func TestHandleMemberJoinRaidKick(t *testing.T) {
	f := newTestEngine()
	f.configs.SaveConfig(&GuildConfig{GuildID: testGuild, AntiraidLevel: 2})

	userID := freshSnowflake(time.Minute * 2)
	f.engine.HandleMemberJoin(testGuild, &Member{User: User{ID: userID}}, false)

	assert.Contains(t, f.discord.kicked, userID)
	require.NotNil(t, f.cases.lastCase())
	assert.Equal(t, CaseKick, f.cases.lastCase().Kind)
}

func TestHandleMemberJoinLevelZeroIgnores(t *testing.T) {
	f := newTestEngine()
	f.configs.SaveConfig(&GuildConfig{GuildID: testGuild, AntiraidLevel: 0})

	userID := freshSnowflake(time.Second)
	f.engine.HandleMemberJoin(testGuild, &Member{User: User{ID: userID}, Nick: "discord.gg/abcdef"}, true)

	assert.Empty(t, f.discord.kicked)
	assert.Empty(t, f.discord.bans)
}

func TestHandleMemberJoinReappliesMute(t *testing.T) {
	f := newTestEngine()
	setupMuteGuild(f)

	// an older account that trips no raid rule
	userID := freshSnowflake(time.Hour * 24 * 365)
	target := &Member{User: User{ID: userID}, GuildID: testGuild}

	_, err := f.engine.ApplyMute(testGuild, nil, target, "", 0)
	require.NoError(t, err)

	// simulate leave: the live role is gone but the record remains
	f.discord.memberRoles[userID] = nil

	f.engine.HandleMemberJoin(testGuild, target, true)
	assert.True(t, f.discord.hasRole(userID, testMuteRole), "rejoin does not shed a mute")
}

func TestHandleGuildBanRemoveCancelsUnban(t *testing.T) {
	f := newTestEngine()
	setupMuteGuild(f)

	_, err := f.engine.ApplyBan(testGuild, nil, &User{ID: 400}, "", time.Hour, -1)
	require.NoError(t, err)
	require.Equal(t, 1, f.sched.pending(EventUnban))

	f.engine.HandleGuildBanRemove(testGuild, 400)
	assert.Equal(t, 0, f.sched.pending(EventUnban))
}
