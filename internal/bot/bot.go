// Package bot is the Discord-facing surface: slash commands to set up and
// drive transcription sessions, and the embed feed of corrected utterances.
package bot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/leoscribe/internal/config"
	"github.com/leoscribe/internal/connect"
	"github.com/leoscribe/internal/logging"
	"github.com/leoscribe/internal/pipeline"
	"github.com/leoscribe/internal/session"
	"github.com/leoscribe/internal/store"
	"github.com/leoscribe/internal/transport"
)

const (
	transcriptChannelName = "leo-scribebot"
	transcriptColor       = 0x3498DB
	noticeColor           = 0x00FF00
)

// Bot owns the live machinery for every guild: one supervisor, one
// coordinator, and one pipeline shared across sessions.
type Bot struct {
	ds    *discordgo.Session
	cfg   config.Config
	store *store.Store
	pipe  *pipeline.Pipeline

	tr    *transport.Discord
	sup   *connect.Supervisor
	coord *session.Coordinator
}

func New(ds *discordgo.Session, cfg config.Config, st *store.Store, pipe *pipeline.Pipeline) *Bot {
	b := &Bot{ds: ds, cfg: cfg, store: st, pipe: pipe}
	b.tr = transport.NewDiscord(ds, func(room, speaker string, pcm []byte) {
		b.coord.Ingest(room, speaker, pcm)
	})
	b.sup = connect.NewSupervisor(cfg.Connect, b.tr)
	b.coord = session.NewCoordinator(cfg.Session, b.sup, b.dispatch)
	return b
}

// dispatch runs one segment through the pipeline and publishes the utterance.
// It is called on its own goroutine per segment; ordering across speakers is
// not guaranteed.
func (b *Bot) dispatch(ctx context.Context, seg session.Segment) {
	text, ok := b.pipe.Process(ctx, seg)
	if !ok {
		return
	}
	b.publish(seg, text)
}

func (b *Bot) publish(seg session.Segment, text string) {
	channelID, ok := b.store.Channel(seg.Room)
	if !ok {
		logging.Warnw("no transcript channel configured, dropping utterance", "room.id", seg.Room)
		return
	}
	name := b.tr.SpeakerName(seg.Room, seg.Speaker)
	embed := &discordgo.MessageEmbed{
		Description: fmt.Sprintf("**%s:** %s", name, text),
		Color:       transcriptColor,
		Timestamp:   seg.CapturedAt.UTC().Format(time.RFC3339),
	}
	if _, err := b.ds.ChannelMessageSendEmbed(channelID, embed); err != nil {
		logging.Errorw("failed to publish utterance", "room.id", seg.Room, "channel.id", channelID, "err", err)
	}
}

var commands = []*discordgo.ApplicationCommand{
	{
		Name:        "setup",
		Description: "Create the transcription channel for this server",
	},
	{
		Name:        "start",
		Description: "Start transcribing a voice channel",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:         discordgo.ApplicationCommandOptionChannel,
				Name:         "channel",
				Description:  "Voice channel to transcribe",
				ChannelTypes: []discordgo.ChannelType{discordgo.ChannelTypeGuildVoice},
				Required:     true,
			},
		},
	},
	{
		Name:        "stop",
		Description: "Stop the transcription session",
	},
}

// RegisterCommands installs the slash commands and the interaction handler.
// Call after the gateway session is open.
func (b *Bot) RegisterCommands() error {
	for _, cmd := range commands {
		if _, err := b.ds.ApplicationCommandCreate(b.ds.State.User.ID, "", cmd); err != nil {
			return fmt.Errorf("register /%s: %w", cmd.Name, err)
		}
	}
	b.ds.AddHandler(b.handleInteraction)
	return nil
}

func (b *Bot) handleInteraction(_ *discordgo.Session, ic *discordgo.InteractionCreate) {
	if ic.Type != discordgo.InteractionApplicationCommand {
		return
	}
	data := ic.ApplicationCommandData()
	switch data.Name {
	case "setup":
		b.handleSetup(ic)
	case "start":
		b.handleStart(ic, data)
	case "stop":
		b.handleStop(ic)
	}
}

func (b *Bot) handleSetup(ic *discordgo.InteractionCreate) {
	if ic.Member == nil || ic.Member.Permissions&discordgo.PermissionManageChannels == 0 {
		b.respond(ic, "You need the Manage Channels permission to use this command.")
		return
	}
	guildID := ic.GuildID

	channel := b.findTranscriptChannel(guildID)
	created := false
	if channel == nil {
		var err error
		channel, err = b.ds.GuildChannelCreateComplex(guildID, discordgo.GuildChannelCreateData{
			Name:  transcriptChannelName,
			Type:  discordgo.ChannelTypeGuildText,
			Topic: "Real-time voice chat transcriptions",
		})
		if err != nil {
			logging.Errorw("transcript channel create failed", "room.id", guildID, "err", err)
			b.respond(ic, "I could not create the channel. Please check my permissions.")
			return
		}
		created = true
	}
	if err := b.store.SetChannel(guildID, channel.ID); err != nil {
		logging.Errorw("store write failed", "room.id", guildID, "err", err)
	}

	welcome := &discordgo.MessageEmbed{
		Title:       "Voice Transcription Channel",
		Description: "Transcripts of your voice sessions will appear here.\nUse /start and /stop to control recording.",
		Color:       noticeColor,
	}
	if msg, err := b.ds.ChannelMessageSendEmbed(channel.ID, welcome); err == nil {
		if serr := b.store.SetPanel(guildID, msg.ID); serr != nil {
			logging.Warnw("panel id not persisted", "room.id", guildID, "err", serr)
		}
	}

	if created {
		b.respond(ic, fmt.Sprintf("Created transcription channel <#%s>.", channel.ID))
	} else {
		b.respond(ic, fmt.Sprintf("Using existing channel <#%s>.", channel.ID))
	}
}

func (b *Bot) findTranscriptChannel(guildID string) *discordgo.Channel {
	if channelID, ok := b.store.Channel(guildID); ok {
		if ch, err := b.ds.Channel(channelID); err == nil {
			return ch
		}
	}
	channels, err := b.ds.GuildChannels(guildID)
	if err != nil {
		return nil
	}
	for _, ch := range channels {
		if ch.Type == discordgo.ChannelTypeGuildText && ch.Name == transcriptChannelName {
			return ch
		}
	}
	return nil
}

func (b *Bot) handleStart(ic *discordgo.InteractionCreate, data discordgo.ApplicationCommandInteractionData) {
	guildID := ic.GuildID
	if _, ok := b.store.Channel(guildID); !ok {
		b.respond(ic, "Run /setup first so I know where to post transcripts.")
		return
	}
	var voiceChannelID string
	for _, opt := range data.Options {
		if opt.Name == "channel" {
			voiceChannelID = opt.ChannelValue(nil).ID
		}
	}
	if voiceChannelID == "" {
		b.respond(ic, "Pick a voice channel to transcribe.")
		return
	}

	// Connecting can take multiple attempts; defer the reply and follow up.
	if err := b.ds.InteractionRespond(ic.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Flags: discordgo.MessageFlagsEphemeral},
	}); err != nil {
		logging.Warnw("interaction defer failed", "room.id", guildID, "err", err)
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		err := b.coord.StartSession(ctx, guildID, voiceChannelID)
		msg := fmt.Sprintf("Recording <#%s>. Transcripts are flowing.", voiceChannelID)
		if err != nil {
			var ce *connect.ConnectError
			if errors.As(err, &ce) {
				msg = fmt.Sprintf("Could not establish a stable voice connection after %d attempts. Please try again shortly.", ce.Attempts)
			} else {
				msg = "Could not start the session. Please try again."
			}
			logging.Errorw("session start failed", "room.id", guildID, "target.id", voiceChannelID, "err", err)
		} else {
			b.notify(guildID, "Recording Started", fmt.Sprintf("Now transcribing <#%s>.", voiceChannelID))
		}
		b.followUp(ic, msg)
	}()
}

func (b *Bot) handleStop(ic *discordgo.InteractionCreate) {
	guildID := ic.GuildID
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := b.coord.StopSession(ctx, guildID); err != nil {
		logging.Warnw("session stop", "room.id", guildID, "err", err)
	}
	b.notify(guildID, "Recording Stopped", "Ready for the next session.")
	b.respond(ic, "Stopped transcribing.")
}

// notify posts a status embed to the guild's transcript channel.
func (b *Bot) notify(guildID, title, detail string) {
	channelID, ok := b.store.Channel(guildID)
	if !ok {
		return
	}
	embed := &discordgo.MessageEmbed{Title: title, Description: detail, Color: noticeColor}
	if _, err := b.ds.ChannelMessageSendEmbed(channelID, embed); err != nil {
		logging.Warnw("notify failed", "room.id", guildID, "err", err)
	}
}

func (b *Bot) respond(ic *discordgo.InteractionCreate, msg string) {
	err := b.ds.InteractionRespond(ic.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: msg,
			Flags:   discordgo.MessageFlagsEphemeral,
		},
	})
	if err != nil {
		logging.Warnw("interaction respond failed", "err", err)
	}
}

func (b *Bot) followUp(ic *discordgo.InteractionCreate, msg string) {
	_, err := b.ds.FollowupMessageCreate(ic.Interaction, true, &discordgo.WebhookParams{
		Content: msg,
		Flags:   discordgo.MessageFlagsEphemeral,
	})
	if err != nil {
		logging.Warnw("interaction follow-up failed", "err", err)
	}
}

// Close drains every session, bounded by ctx and the configured drain timeout.
func (b *Bot) Close(ctx context.Context) error {
	return b.coord.Close(ctx)
}

// Stats aggregates counters from every layer for diagnostics logging.
func (b *Bot) Stats() map[string]any {
	sup := b.sup.Stats()
	coord := b.coord.Stats()
	pipe := b.pipe.Stats()
	return map[string]any{
		"connect_attempts":   sup.Attempts,
		"transient_failures": sup.TransientFailures,
		"fatal_failures":     sup.FatalFailures,
		"rotations":          sup.Rotations,
		"sessions":           coord.Sessions,
		"segments":           coord.Segments,
		"in_flight":          coord.InFlight,
		"processed":          pipe.Processed,
		"dropped":            pipe.Dropped,
		"cache_hits":         pipe.CacheHits,
		"llm_repairs":        pipe.LLMRepairs,
	}
}
