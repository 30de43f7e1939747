package moderation

import (
	"fmt"
	"strconv"

	"github.com/bwmarrin/discordgo"
)

type ModlogAction struct {
	Prefix string
	Emoji  string
	Color  int

	Footer string
}

func (m ModlogAction) String() string {
	str := m.Emoji + m.Prefix
	if m.Footer != "" {
		str += " (" + m.Footer + ")"
	}

	return str
}

var (
	MAMute     = ModlogAction{Prefix: "Muted", Emoji: "🔇", Color: 0x57728e}
	MAUnmute   = ModlogAction{Prefix: "Unmuted", Emoji: "🔊", Color: 0x62c65f}
	MAKick     = ModlogAction{Prefix: "Kicked", Emoji: "👢", Color: 0xf2a013}
	MABanned   = ModlogAction{Prefix: "Banned", Emoji: "🔨", Color: 0xd64848}
	MAUnbanned = ModlogAction{Prefix: "Unbanned", Emoji: "🔓", Color: 0x62c65f}
	MASoftban  = ModlogAction{Prefix: "Softbanned", Emoji: "🧹", Color: 0xdb8915}
	MAWarned   = ModlogAction{Prefix: "Warned", Emoji: "⚠", Color: 0xfca253}
	MARaid     = ModlogAction{Prefix: "Removed by raid protection", Emoji: "🛡", Color: 0xd64848}
)

// CreateModlogEmbed posts an action embed to the guild's action channel.
// A guild without an action channel configured is a silent no-op.
func CreateModlogEmbed(api DiscordAPI, config *GuildConfig, author *User, action ModlogAction, target *User, reason string) error {
	channelID := config.ActionChannel
	if channelID == 0 {
		return nil
	}

	if author == nil {
		author = &User{Username: "Unknown"}
	}

	if reason == "" {
		reason = "(no reason specified)"
	}

	embed := &discordgo.MessageEmbed{
		Author: &discordgo.MessageEmbedAuthor{
			Name:    fmt.Sprintf("%s (ID %d)", author.String(), author.ID),
			IconURL: avatarURL(author),
		},
		Thumbnail: &discordgo.MessageEmbedThumbnail{
			URL: avatarURL(target),
		},
		Color: action.Color,
		Description: fmt.Sprintf("**%s%s** %s *(ID %d)*\n📄**Reason:** %s",
			action.Emoji, action.Prefix, target.String(), target.ID, reason),
	}

	if action.Footer != "" {
		embed.Footer = &discordgo.MessageEmbedFooter{
			Text: action.Footer,
		}
	}

	return api.SendEmbed(channelID, embed)
}

func avatarURL(u *User) string {
	return discordgo.EndpointUserAvatar(strconv.FormatInt(u.ID, 10), u.Avatar)
}

// sendModlog is the fire-and-forget wrapper the sanction paths use, failures
// are logged and never propagate.
func (e *Engine) sendModlog(config *GuildConfig, author *User, action ModlogAction, target *User, reason string) {
	err := CreateModlogEmbed(e.Discord, config, author, action, target, reason)
	if err != nil {
		metricsModlogFailures.Inc()
		logger.WithError(err).WithField("guild", config.GuildID).Error("failed creating modlog embed")
	}
}
