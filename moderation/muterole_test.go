package moderation

import (
	"testing"

	"emperror.dev/errors"
	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReconcileCreatesRoleWhenAbsent(t *testing.T) {
	f := newTestEngine()

	roleID, failed, err := f.engine.ReconcileMuteRole(testGuild)
	require.NoError(t, err)

	assert.Equal(t, 0, failed)
	require.Len(t, f.discord.createdRoles, 1)
	assert.Equal(t, "muted", f.discord.createdRoles[0].Name)
	assert.Equal(t, f.discord.createdRoles[0].ID, roleID)

	// the resolved role is persisted so the next mute finds it
	config, err := f.configs.GetConfig(testGuild)
	require.NoError(t, err)
	assert.Equal(t, roleID, config.MuteRole)
}

func TestReconcileResolvesByName(t *testing.T) {
	f := newTestEngine()
	f.discord.roles = []*Role{
		{ID: 40, Name: "mods"},
		{ID: 41, Name: "Muted"},
	}

	roleID, _, err := f.engine.ReconcileMuteRole(testGuild)
	require.NoError(t, err)

	assert.EqualValues(t, 41, roleID, "matches the existing role case-insensitively")
	assert.Empty(t, f.discord.createdRoles)
}

func TestReconcileCountsFailedChannels(t *testing.T) {
	f := newTestEngine()
	f.discord.channels = []*Channel{
		{ID: 1},
		{ID: 2},
		{ID: 3},
		{ID: 4},
	}
	f.discord.failOverwrite[2] = errors.Sentinel("missing permissions")
	f.discord.failOverwrite[4] = errors.Sentinel("missing permissions")

	roleID, failed, err := f.engine.ReconcileMuteRole(testGuild)
	require.NoError(t, err)

	assert.Equal(t, 2, failed)

	// the failures did not abort the rest of the sweep
	touched := make(map[int64]bool)
	for _, call := range f.discord.overwriteCalls {
		if call.RoleID == roleID {
			assert.EqualValues(t, discordgo.PermissionSendMessages, call.Deny)
			touched[call.ChannelID] = true
		}
	}
	assert.True(t, touched[1])
	assert.True(t, touched[3])
}

func TestReconcileSkipsSyncedChannels(t *testing.T) {
	f := newTestEngine()
	f.discord.channels = []*Channel{
		{ID: 10, IsCategory: true},
		{ID: 11, ParentID: 10, PermissionsSynced: true},
		{ID: 12, ParentID: 10, PermissionsSynced: false},
	}

	roleID, failed, err := f.engine.ReconcileMuteRole(testGuild)
	require.NoError(t, err)
	assert.Equal(t, 0, failed)

	touched := make(map[int64]bool)
	for _, call := range f.discord.overwriteCalls {
		if call.RoleID == roleID {
			touched[call.ChannelID] = true
		}
	}

	assert.True(t, touched[10], "category gets the overwrite")
	assert.False(t, touched[11], "synced channel inherits from its category")
	assert.True(t, touched[12], "unsynced channel gets its own overwrite")
}

func TestReconcileClearsContradictoryAllows(t *testing.T) {
	f := newTestEngine()
	f.discord.roles = []*Role{
		{ID: 41, Name: "muted"},
		{ID: 50, Name: "vip"},
		{ID: 51, Name: "some-bot", Managed: true},
	}
	f.discord.channels = []*Channel{
		{ID: 20, Overwrites: []PermissionOverwrite{
			{RoleID: 50, Allow: discordgo.PermissionSendMessages | discordgo.PermissionAddReactions},
			{RoleID: 51, Allow: discordgo.PermissionSendMessages},
		}},
	}

	_, failed, err := f.engine.ReconcileMuteRole(testGuild)
	require.NoError(t, err)
	assert.Equal(t, 0, failed)

	var vipCall *overwriteCall
	for i, call := range f.discord.overwriteCalls {
		if call.RoleID == 50 {
			vipCall = &f.discord.overwriteCalls[i]
		}
		assert.NotEqual(t, int64(51), call.RoleID, "managed integration roles are left alone")
	}

	require.NotNil(t, vipCall, "the allow-send overwrite on vip gets rewritten")
	assert.Zero(t, vipCall.Allow&discordgo.PermissionSendMessages)
	assert.EqualValues(t, discordgo.PermissionAddReactions, vipCall.Allow)
}
