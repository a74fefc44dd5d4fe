package discord

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/lypsing/lilybot/db"
	"github.com/lypsing/lilybot/poller"
	"github.com/lypsing/lilybot/queue"
	"github.com/lypsing/lilybot/youtubeapi"
)

func commandHandlers() map[string]handlerFunc {
	return map[string]handlerFunc{
		"hello":           (*Bot).handleHello,
		"start_live_chat": (*Bot).handleStartLiveChat,
		"stop_live_chat":  (*Bot).handleStopLiveChat,
		"live_status":     (*Bot).handleLiveStatus,
		"current_song":    (*Bot).handleCurrentSong,
		"next":            (*Bot).handleNext,
		"add":             (*Bot).handleAdd,
		"list_song":       (*Bot).handleListSong,
		"delete":          (*Bot).handleDelete,
		"help_live":       (*Bot).handleHelpLive,
	}
}

func (b *Bot) handleHello(m *discordgo.MessageCreate, _ string) {
	b.reply(m.ChannelID, fmt.Sprintf("Hello %s! 👋", m.Author.Mention()))
}

func (b *Bot) handleStartLiveChat(m *discordgo.MessageCreate, args string) {
	scope := m.ChannelID
	if b.deps.API == nil {
		b.reply(scope, "❌ YouTube API is not configured. Please check your API key.")
		return
	}
	videoID := youtubeapi.ExtractVideoID(strings.TrimSpace(args))
	if videoID == "" {
		b.reply(scope, "❌ That doesn't look like a valid YouTube URL.")
		return
	}
	pollCtx, err := b.deps.Registry.Start(b.ctx, scope, videoID)
	if err != nil {
		b.reply(scope, fmt.Sprintf("❌ Already monitoring a live chat in this channel. Use `%sstop_live_chat` first.", b.deps.Config.CommandPrefix))
		return
	}

	deps := poller.Deps{
		API:         b.deps.API,
		Queue:       b.deps.Queue,
		Registry:    b.deps.Registry,
		Notifier:    b,
		DB:          b.deps.DB,
		Marker:      b.deps.Config.RequestMarker,
		MinInterval: b.deps.Config.PollMinInterval,
	}
	go poller.Run(pollCtx, deps, scope, videoID)

	b.reply(scope, fmt.Sprintf("🔄 Starting to monitor live chat for video: `%s`", videoID))
}

func (b *Bot) handleStopLiveChat(m *discordgo.MessageCreate, _ string) {
	if _, err := b.deps.Registry.Stop(m.ChannelID); err != nil {
		b.reply(m.ChannelID, "❌ No active live chat monitoring in this channel.")
		return
	}
	b.reply(m.ChannelID, "🛑 Stopped live chat monitoring for this channel.")
}

func (b *Bot) handleLiveStatus(m *discordgo.MessageCreate, _ string) {
	if videoID, ok := b.deps.Registry.Status(m.ChannelID); ok {
		b.reply(m.ChannelID, fmt.Sprintf("✅ Currently monitoring live chat for video: `%s`", videoID))
		return
	}
	b.reply(m.ChannelID, "❌ No active live chat monitoring in this channel.")
}

func (b *Bot) handleCurrentSong(m *discordgo.MessageCreate, _ string) {
	now := b.deps.Queue.Current(m.ChannelID)
	embed := &discordgo.MessageEmbed{Title: "Lily Current Song", Color: colorBlue}
	value := "Tidak ada lagu dalam queue saat ini!"
	switch {
	case now.Playing != nil:
		value = fmt.Sprintf("%s - %s", now.Playing.Title, now.Playing.Requester)
	case now.Next != nil:
		value = fmt.Sprintf("Belum ada lagu yang dimainkan. Next: %s - %s", now.Next.Title, now.Next.Requester)
	}
	embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{Name: "Current Song", Value: value})
	b.replyEmbed(m.ChannelID, embed)
}

func (b *Bot) handleNext(m *discordgo.MessageCreate, _ string) {
	embed := &discordgo.MessageEmbed{Title: "Move to the next song", Color: colorDarkPurple}
	now, err := b.deps.Queue.Advance(m.ChannelID)
	switch {
	case errors.Is(err, queue.ErrEmpty):
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{Name: "Queue Empty", Value: "Tidak ada lagu dalam queue!"})
	case errors.Is(err, queue.ErrAtEnd):
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{Name: "Info", Value: "Sudah di lagu terakhir!"})
	default:
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:  "Now Playing",
			Value: fmt.Sprintf("%s - %s", now.Playing.Title, now.Playing.Requester),
		})
		next := "Tidak ada lagu selanjutnya!"
		if now.Next != nil {
			next = fmt.Sprintf("%s - %s", now.Next.Title, now.Next.Requester)
		}
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{Name: "Next Song", Value: next})
	}
	b.replyEmbed(m.ChannelID, embed)
}

// ParseAddRequest splits a manual add argument on its first hyphen into
// title and requester. Both halves must be non-empty after trimming.
func ParseAddRequest(arg string) (title, requester string, err error) {
	title, requester, found := strings.Cut(arg, "-")
	title = strings.TrimSpace(title)
	requester = strings.TrimSpace(requester)
	if !found || title == "" || requester == "" {
		return "", "", fmt.Errorf("expected `<song>-<requester>`, got %q", arg)
	}
	return title, requester, nil
}

func (b *Bot) handleAdd(m *discordgo.MessageCreate, args string) {
	scope := m.ChannelID
	if _, ok := b.deps.Registry.Status(scope); !ok {
		b.reply(scope, "❌ No active live chat monitoring in this channel.")
		return
	}
	title, requester, err := ParseAddRequest(args)
	if err != nil {
		b.reply(scope, fmt.Sprintf("❌ Invalid request: %v. Use `%sadd <nama lagu>-<nama yang request>`.", err, b.deps.Config.CommandPrefix))
		return
	}
	req := queue.Request{
		Title:     "(Trakteer) - " + title,
		Requester: requester,
		Origin:    queue.OriginManual,
	}
	b.deps.Queue.Append(scope, req)
	b.archive(scope, req)
	b.replyEmbed(scope, requestEmbed(req))
}

func (b *Bot) archive(scope string, req queue.Request) {
	if b.deps.DB == nil {
		return
	}
	videoID, _ := b.deps.Registry.Status(scope)
	if err := db.InsertRequest(b.ctx, b.deps.DB, scope, videoID, string(req.Origin), req.Title, req.Requester); err != nil {
		slog.Warn("request audit insert failed", slog.String("scope", scope), slog.Any("err", err))
	}
}

func (b *Bot) handleListSong(m *discordgo.MessageCreate, _ string) {
	l := b.deps.Queue.List(m.ChannelID)
	embed := &discordgo.MessageEmbed{Title: "List song", Color: colorMagenta}
	if l.Total == 0 {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{Name: "Queue Status", Value: "Tidak ada lagu dalam queue!"})
		embed.Footer = &discordgo.MessageEmbedFooter{Text: "No songs in queue"}
		b.replyEmbed(m.ChannelID, embed)
		return
	}
	for _, e := range l.Entries {
		name := fmt.Sprintf("#%d", e.Seq)
		var marker string
		switch e.Status {
		case queue.StatusPlayed:
			marker = "✅"
		case queue.StatusCurrent:
			if l.SkippedPlayed > 0 {
				embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
					Name:  "...",
					Value: fmt.Sprintf("⏸️ %d songs skipped for display", l.SkippedPlayed),
				})
			}
			name += " 🎵"
			marker = "▶️"
		default:
			marker = "⏳"
		}
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:  name,
			Value: fmt.Sprintf("%s %s - %s", marker, e.Title, e.Requester),
		})
	}
	embed.Footer = &discordgo.MessageEmbedFooter{
		Text: fmt.Sprintf("%d/%d played | Total: %d songs", l.PlayedIndex, l.Total, l.Total),
	}
	b.replyEmbed(m.ChannelID, embed)
}

func (b *Bot) handleDelete(m *discordgo.MessageCreate, args string) {
	scope := m.ChannelID
	stats := b.deps.Queue.Stats()[scope]
	if stats.Total == 0 {
		b.reply(scope, "❌ Queue is empty! No songs to delete.")
		return
	}
	seq, err := strconv.Atoi(strings.TrimSpace(args))
	if err != nil {
		b.reply(scope, fmt.Sprintf("❌ Invalid song ID! Please use a number between 1 and %d", stats.Total))
		return
	}
	removed, err := b.deps.Queue.Delete(scope, seq)
	switch {
	case errors.Is(err, queue.ErrOutOfRange):
		b.reply(scope, fmt.Sprintf("❌ Invalid song ID! Please use a number between 1 and %d", stats.Total))
		return
	case errors.Is(err, queue.ErrProtected):
		b.reply(scope, fmt.Sprintf("❌ Cannot delete the currently playing song! Use `%snext` to skip it.", b.deps.Config.CommandPrefix))
		return
	case err != nil:
		b.reply(scope, fmt.Sprintf("❌ Song #%d not found in queue!", seq))
		return
	}
	embed := &discordgo.MessageEmbed{Title: "Song Deleted", Color: colorRed}
	embed.Fields = append(embed.Fields,
		&discordgo.MessageEmbedField{
			Name:  fmt.Sprintf("Deleted Song #%d", seq),
			Value: fmt.Sprintf("🗑️ %s - %s", removed.Title, removed.Requester),
		},
		&discordgo.MessageEmbedField{
			Name:  "Queue Status",
			Value: fmt.Sprintf("Remaining songs: %d", stats.Total-1),
		},
	)
	b.replyEmbed(scope, embed)
}

func (b *Bot) handleHelpLive(m *discordgo.MessageCreate, _ string) {
	p := b.deps.Config.CommandPrefix
	embed := &discordgo.MessageEmbed{
		Title:       "🎶 Lily-bot Documentation",
		Description: "Panduan lengkap penggunaan Lily-bot selama livestream #Lypsing!",
		Color:       colorPurple,
		Footer:      &discordgo.MessageEmbedFooter{Text: "Lily-bot | Powered by #Lypsing"},
	}
	embed.Fields = append(embed.Fields,
		&discordgo.MessageEmbedField{
			Name:  "👋 Apa itu Lily-bot?",
			Value: "Lily-bot ada untuk dapetin semua request song di **Live Chat Lily** secara otomatis selama **Livestream #Lypsing** berlangsung!",
		},
		&discordgo.MessageEmbedField{
			Name:  "📥 Gimana cara Lily-bot dapetin song?",
			Value: fmt.Sprintf("Selama ada request yang diawali dengan ``%s`` di **Live Chat YouTube Lily**, bot otomatis mengenali request songnya **beserta siapa yang request**.", b.deps.Config.RequestMarker),
		},
		&discordgo.MessageEmbedField{
			Name:  "💖 Request dari Trakteer",
			Value: fmt.Sprintf("Gunakan command:\n``%sadd <nama lagu>-<nama yang request>``\nContoh:\n``%sadd Miniatur-Ryoda``", p, p),
		},
		&discordgo.MessageEmbedField{
			Name:  "🗑️ Hapus Lagu",
			Value: fmt.Sprintf("Gunakan:\n``%sdelete <nomor di listnya>``", p),
		},
		&discordgo.MessageEmbedField{
			Name: "⚙️ Fitur Lainnya",
			Value: "```\n" +
				"- " + p + "list_song                = Menampilkan semua lagu, lengkap dengan status\n" +
				"- " + p + "current_song             = Menampilkan lagu yang sedang dinyanyikan\n" +
				"- " + p + "next                     = Pindah ke lagu selanjutnya\n" +
				"- " + p + "add <lagu>-<req>         = Menambah lagu (khusus Trakteer)\n" +
				"- " + p + "start_live_chat <link>   = Memulai bot\n" +
				"- " + p + "stop_live_chat           = Mematikan bot\n" +
				"- " + p + "help_live                = Dokumentasi lainnya\n" +
				"```",
		},
		&discordgo.MessageEmbedField{
			Name:  "🚀 Mulai Pakai Lily-bot",
			Value: fmt.Sprintf("Cukup panggil:\n``%sstart_live_chat <link youtube live>``\n\nEnjoyyy! 🎶", p),
		},
	)
	b.replyEmbed(m.ChannelID, embed)
}
