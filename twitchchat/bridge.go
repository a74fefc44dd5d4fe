// Package twitchchat is the alternate-channel request source: it joins the
// configured Twitch channel over IRC and forwards request-marked messages
// into the same queue the YouTube poller feeds, for streams simulcast on both
// platforms. Requests are only accepted while the relay channel has an active
// poll session, matching the manual add command.
package twitchchat

import (
	"context"
	"database/sql"
	"log/slog"

	twitch "github.com/gempir/go-twitch-irc/v4"

	"github.com/lypsing/lilybot/config"
	"github.com/lypsing/lilybot/db"
	"github.com/lypsing/lilybot/poller"
	"github.com/lypsing/lilybot/queue"
	"github.com/lypsing/lilybot/session"
	"github.com/lypsing/lilybot/telemetry"
)

// Deps carries the collaborators of the bridge.
type Deps struct {
	Config   *config.Config
	Queue    *queue.Engine
	Registry *session.Registry
	Notifier poller.Notifier
	DB       *sql.DB // optional audit archive
}

// StartRequestBridge connects to Twitch IRC and blocks until ctx is
// cancelled. It is a no-op (with a log line) when Twitch credentials or the
// relay channel are not configured.
func StartRequestBridge(ctx context.Context, d Deps) {
	cfg := d.Config
	if err := cfg.ValidateTwitchReady(); err != nil {
		slog.Info("twitch bridge disabled", slog.Any("reason", err))
		return
	}
	scope := cfg.TwitchRelayChannel
	marker := cfg.RequestMarker
	if marker == "" {
		marker = poller.DefaultMarker
	}

	client := twitch.NewClient(cfg.TwitchBotUsername, cfg.TwitchOAuthToken)

	client.OnPrivateMessage(func(msg twitch.PrivateMessage) {
		handleMessage(ctx, d, scope, marker, msg)
	})

	done := make(chan struct{})
	go func() {
		<-ctx.Done()
		client.Disconnect()
		close(done)
	}()

	client.Join(cfg.TwitchChannel)
	slog.Info("twitch bridge connecting", slog.String("channel", cfg.TwitchChannel), slog.String("relay_scope", scope))
	if err := client.Connect(); err != nil {
		slog.Error("twitch chat connect error", slog.Any("err", err))
	}
	<-done
}

func handleMessage(ctx context.Context, d Deps, scope, marker string, msg twitch.PrivateMessage) {
	title, ok := poller.StripMarker(msg.Message, marker)
	if !ok {
		return
	}
	// Same gate as the manual add command: requests are only taken while
	// the relay channel is actively monitoring a stream.
	videoID, active := d.Registry.Status(scope)
	if !active {
		return
	}
	req := queue.Request{Title: title, Requester: msg.User.DisplayName, Origin: queue.OriginTwitchChat}
	seq := d.Queue.Append(scope, req)
	telemetry.CountRelayed(string(req.Origin))
	d.Notifier.RequestRelayed(scope, seq, req)
	if d.DB != nil {
		if err := db.InsertRequest(ctx, d.DB, scope, videoID, string(req.Origin), req.Title, req.Requester); err != nil {
			slog.Warn("request audit insert failed", slog.String("scope", scope), slog.Any("err", err))
		}
	}
	slog.Debug("twitch request relayed", slog.Int("seq", seq), slog.String("requester", msg.User.DisplayName))
}
