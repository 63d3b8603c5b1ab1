package wavepool

import (
	"context"

	"github.com/bwmarrin/discordgo"

	"github.com/wavepool/wavepool/events"
	"github.com/wavepool/wavepool/player"
)

// UpdateVoiceServer routes a VOICE_SERVER_UPDATE gateway dispatch into the
// guild's player, pushing the combined voice payload to its hosting node
// once the matching VOICE_STATE_UPDATE has also arrived.
func (m *Manager) UpdateVoiceServer(ctx context.Context, vsu *discordgo.VoiceServerUpdate) error {
	p, ok := m.GetPlayer(vsu.GuildID)
	if !ok {
		return nil
	}
	return p.UpdateVoiceState(ctx, player.VoiceState{
		Token:    vsu.Token,
		Endpoint: vsu.Endpoint,
	})
}

// UpdateVoiceState routes a VOICE_STATE_UPDATE gateway dispatch for the
// bot's own user into the guild's player: a nil ChannelID means the bot
// was disconnected from voice (emits [events.PlayerDisconnect]); a
// ChannelID differing from the player's current binding means the bot was
// moved to another channel (emits [events.PlayerMove]); otherwise it is
// the session-id half of the voice handshake. Dispatches for any other
// guild member are ignored.
func (m *Manager) UpdateVoiceState(ctx context.Context, vs *discordgo.VoiceState) error {
	if vs.UserID != m.opts.ClientID {
		return nil
	}

	p, ok := m.GetPlayer(vs.GuildID)
	if !ok {
		return nil
	}

	if vs.ChannelID == "" {
		m.bus.Publish(events.Event{Type: events.PlayerDisconnect, GuildID: vs.GuildID})
		return p.Destroy(ctx, false)
	}

	if prev := p.VoiceChannelID(); prev != "" && prev != vs.ChannelID {
		p.SetVoiceChannel(vs.ChannelID)
		m.bus.Publish(events.Event{
			Type: events.PlayerMove, GuildID: vs.GuildID,
			Payload: map[string]string{"from": prev, "to": vs.ChannelID},
		})
	} else {
		p.SetVoiceChannel(vs.ChannelID)
	}

	return p.UpdateVoiceState(ctx, player.VoiceState{SessionID: vs.SessionID})
}
