// Package discord is the command surface: it connects the bot to Discord,
// routes prefix commands to their handlers, and delivers poller notices and
// relayed requests back into the channel. Handlers talk to the queue engine
// and session registry; each handler reports its own failures as replies so
// one channel's problem never affects another.
package discord

import (
	"context"
	"database/sql"
	"log/slog"
	"strings"

	"github.com/bwmarrin/discordgo"
	"go.opentelemetry.io/otel/attribute"

	"github.com/lypsing/lilybot/config"
	"github.com/lypsing/lilybot/poller"
	"github.com/lypsing/lilybot/queue"
	"github.com/lypsing/lilybot/session"
	"github.com/lypsing/lilybot/telemetry"
)

// Embed colors.
const (
	colorRed        = 0xE74C3C
	colorBlue       = 0x3498DB
	colorDarkPurple = 0x71368A
	colorMagenta    = 0xE91E63
	colorPurple     = 0x9B59B6
)

// Sender is the slice of the Discord session handlers use to reply. The
// indirection keeps handlers testable without a live gateway connection.
type Sender interface {
	SendMessage(channelID, content string) error
	SendEmbed(channelID string, embed *discordgo.MessageEmbed) error
}

type sessionSender struct{ s *discordgo.Session }

func (w sessionSender) SendMessage(channelID, content string) error {
	_, err := w.s.ChannelMessageSend(channelID, content)
	return err
}

func (w sessionSender) SendEmbed(channelID string, embed *discordgo.MessageEmbed) error {
	_, err := w.s.ChannelMessageSendEmbed(channelID, embed)
	return err
}

// Deps carries the collaborators the command handlers need.
type Deps struct {
	Config   *config.Config
	Queue    *queue.Engine
	Registry *session.Registry
	// API is nil when the YouTube client could not be configured; the start
	// command then reports that instead of spawning a poller.
	API poller.ChatAPI
	DB  *sql.DB
}

type handlerFunc func(b *Bot, m *discordgo.MessageCreate, args string)

// Bot wraps the discordgo session and the command router.
type Bot struct {
	deps     Deps
	session  *discordgo.Session
	sender   Sender
	ctx      context.Context
	handlers map[string]handlerFunc
}

// New creates the bot and registers its gateway handlers. The session is not
// opened until Start.
func New(deps Deps) (*Bot, error) {
	s, err := discordgo.New("Bot " + deps.Config.DiscordToken)
	if err != nil {
		return nil, err
	}
	s.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentMessageContent

	b := &Bot{
		deps:    deps,
		session: s,
		sender:  sessionSender{s: s},
	}
	b.handlers = commandHandlers()
	s.AddHandler(func(_ *discordgo.Session, r *discordgo.Ready) {
		slog.Info("discord session ready", slog.String("username", r.User.Username))
	})
	s.AddHandler(b.onMessageCreate)
	return b, nil
}

// Start opens the gateway connection. ctx is the process root context; poll
// sessions spawned by commands derive from it.
func (b *Bot) Start(ctx context.Context) error {
	b.ctx = ctx
	return b.session.Open()
}

// Stop closes the gateway connection.
func (b *Bot) Stop() error {
	return b.session.Close()
}

func (b *Bot) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot {
		return
	}
	if s.State != nil && s.State.User != nil && m.Author.ID == s.State.User.ID {
		return
	}
	prefix := b.deps.Config.CommandPrefix
	if !strings.HasPrefix(m.Content, prefix) {
		return
	}
	name, args, _ := strings.Cut(strings.TrimPrefix(m.Content, prefix), " ")
	name = strings.ToLower(name)
	handler, ok := b.handlers[name]
	if !ok {
		// Unknown commands are silently ignored.
		return
	}

	_, span := telemetry.StartSpan(b.ctx, "discord", "command "+name,
		attribute.String("channel_id", m.ChannelID))
	defer span.End()
	handler(b, m, strings.TrimSpace(args))
}

// send helpers log delivery failures; there is nowhere else to report them.

func (b *Bot) reply(channelID, content string) {
	if err := b.sender.SendMessage(channelID, content); err != nil {
		slog.Error("failed to send message", slog.String("channel_id", channelID), slog.Any("err", err))
	}
}

func (b *Bot) replyEmbed(channelID string, embed *discordgo.MessageEmbed) {
	if err := b.sender.SendEmbed(channelID, embed); err != nil {
		slog.Error("failed to send embed", slog.String("channel_id", channelID), slog.Any("err", err))
	}
}

// Notice implements poller.Notifier.
func (b *Bot) Notice(scope, text string) {
	b.reply(scope, text)
}

// RequestRelayed implements poller.Notifier: a relayed request is announced
// as an embed authored by the requester, footer naming the origin feed.
func (b *Bot) RequestRelayed(scope string, seq int, req queue.Request) {
	b.replyEmbed(scope, requestEmbed(req))
}

func originFooter(o queue.Origin) string {
	switch o {
	case queue.OriginManual:
		return "Trakteer Request Chat"
	case queue.OriginTwitchChat:
		return "Twitch Chat"
	default:
		return "YouTube Live Chat"
	}
}

func requestEmbed(req queue.Request) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Description: req.Title,
		Color:       colorRed,
		Author:      &discordgo.MessageEmbedAuthor{Name: req.Requester},
		Footer:      &discordgo.MessageEmbedFooter{Text: originFooter(req.Origin)},
	}
}
