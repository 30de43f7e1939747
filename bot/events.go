package bot

import (
	"github.com/bwmarrin/discordgo"

	"github.com/warden-bot/warden/common"
	"github.com/warden-bot/warden/moderation"
)

var logger = common.GetPluginLogger("bot")

// RegisterHandlers attaches the gateway event handlers feeding the
// moderation engine.
func RegisterHandlers(s *discordgo.Session, engine *moderation.Engine) {
	adapter := NewSession(s)

	s.AddHandler(func(_ *discordgo.Session, evt *discordgo.GuildMemberAdd) {
		guildID := ParseID(evt.GuildID)
		if guildID == 0 || evt.Member == nil {
			return
		}

		member := convertMember(guildID, evt.Member)
		canBan := adapter.BotHasGuildPermission(guildID, discordgo.PermissionBanMembers)

		go engine.HandleMemberJoin(guildID, member, canBan)
	})

	s.AddHandler(func(_ *discordgo.Session, evt *discordgo.GuildBanRemove) {
		guildID := ParseID(evt.GuildID)
		if guildID == 0 || evt.User == nil {
			return
		}

		go engine.HandleGuildBanRemove(guildID, ParseID(evt.User.ID))
	})

	s.AddHandler(func(_ *discordgo.Session, r *discordgo.Ready) {
		logger.Info("gateway ready, serving ", len(r.Guilds), " guilds")
	})
}
