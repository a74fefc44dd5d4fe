// Package poller runs one live chat poll session per started channel: it
// resolves the video's live chat handle, pages through chat messages on the
// server-suggested interval (with a rate-limit floor), and forwards
// request-marked messages into the queue. A session ends when the channel is
// stopped, the fetch fails, or the video has no live chat; failure is
// terminal per session, the operator restarts explicitly.
package poller

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/lypsing/lilybot/db"
	"github.com/lypsing/lilybot/queue"
	"github.com/lypsing/lilybot/session"
	"github.com/lypsing/lilybot/telemetry"
	"github.com/lypsing/lilybot/youtubeapi"
)

// DefaultMarker is the prefix a chat message must carry to be treated as a
// song request.
const DefaultMarker = "!req"

// DefaultMinInterval floors the wait between fetches regardless of what the
// API suggests.
const DefaultMinInterval = 20 * time.Second

// ChatAPI is the slice of the YouTube client the poller consumes.
type ChatAPI interface {
	ResolveLiveChatID(ctx context.Context, videoID string) (string, error)
	FetchPage(ctx context.Context, liveChatID, pageToken string) (*youtubeapi.ChatPage, error)
}

// Notifier delivers user-visible notices and relayed requests to the scope's
// chat channel (implemented by the discord package).
type Notifier interface {
	Notice(scope, text string)
	RequestRelayed(scope string, seq int, req queue.Request)
}

// Deps carries the collaborators a poll session needs.
type Deps struct {
	API         ChatAPI
	Queue       *queue.Engine
	Registry    *session.Registry
	Notifier    Notifier
	DB          *sql.DB // optional audit archive; nil disables it
	Marker      string
	MinInterval time.Duration
}

// StripMarker reports whether text starts with the request marker
// (case-insensitive) and returns the trimmed remainder.
func StripMarker(text, marker string) (string, bool) {
	if len(text) < len(marker) || !strings.EqualFold(text[:len(marker)], marker) {
		return "", false
	}
	return strings.TrimSpace(text[len(marker):]), true
}

// Run executes one poll session and blocks until it terminates. It is spawned
// as a goroutine by the start command after the session is registered; ctx is
// the registry-issued context cancelled by the stop command.
func Run(ctx context.Context, d Deps, scope, videoID string) {
	marker := d.Marker
	if marker == "" {
		marker = DefaultMarker
	}
	minInterval := d.MinInterval
	if minInterval <= 0 {
		minInterval = DefaultMinInterval
	}

	log := slog.Default().With(slog.String("scope", scope), slog.String("video_id", videoID))

	ctx, span := telemetry.StartSpan(ctx, "poller", "poll-session",
		attribute.String("video_id", videoID))
	defer span.End()

	var auditID int64
	if d.DB != nil {
		id, err := db.RecordSessionStart(ctx, d.DB, scope, videoID)
		if err != nil {
			log.Warn("session audit insert failed", slog.Any("err", err))
		} else {
			auditID = id
		}
	}
	telemetry.SessionsStarted.Inc()

	reason := "stopped"
	defer func() {
		d.Registry.Deregister(scope, videoID)
		if d.DB != nil && auditID != 0 {
			// Session context may already be cancelled here.
			if err := db.RecordSessionEnd(context.WithoutCancel(ctx), d.DB, auditID, reason); err != nil {
				log.Warn("session audit close failed", slog.Any("err", err))
			}
		}
		d.Notifier.Notice(scope, "🛑 Stopped monitoring live chat.")
		log.Info("poll session ended", slog.String("reason", reason))
	}()

	chatID, err := d.API.ResolveLiveChatID(ctx, videoID)
	if err != nil {
		reason = "ended"
		if errors.Is(err, youtubeapi.ErrNoLiveChat) {
			d.Notifier.Notice(scope, "❌ This video doesn't have an active live chat or isn't currently live.")
			return
		}
		telemetry.RecordError(span, err)
		log.Error("live chat resolve failed", slog.Any("err", err))
		d.Notifier.Notice(scope, "❌ Error while fetching live chat: "+err.Error())
		reason = "failed"
		return
	}
	d.Notifier.Notice(scope, "✅ Started monitoring live chat for video: `"+videoID+"`")
	log.Info("poll session started", slog.String("live_chat_id", chatID))

	// Owned exclusively by this goroutine for the session's lifetime.
	seen := make(map[string]struct{})
	pageToken := ""

	for {
		if ctx.Err() != nil {
			return
		}
		// Registry absence is the cooperative stop signal; checked once per
		// iteration so stop latency is bounded by one poll interval.
		if !d.Registry.Active(scope, videoID) {
			return
		}

		var page *youtubeapi.ChatPage
		var fetchErr error
		telemetry.TimeFunc(telemetry.FetchDuration, func() {
			page, fetchErr = d.API.FetchPage(ctx, chatID, pageToken)
		})
		if fetchErr != nil {
			if ctx.Err() != nil {
				return
			}
			telemetry.PollErrors.Inc()
			telemetry.RecordError(span, fetchErr)
			log.Error("live chat fetch failed", slog.Any("err", fetchErr))
			d.Notifier.Notice(scope, "❌ Error while fetching live chat: "+fetchErr.Error())
			reason = "failed"
			return
		}
		telemetry.PollCycles.Inc()

		for _, item := range page.Items {
			telemetry.ChatMessagesSeen.Inc()
			if _, dup := seen[item.ID]; dup {
				telemetry.DuplicatesSkipped.Inc()
				continue
			}
			seen[item.ID] = struct{}{}

			title, ok := StripMarker(item.Text, marker)
			if !ok {
				continue
			}
			req := queue.Request{Title: title, Requester: item.Author, Origin: queue.OriginLiveChat}
			seq := d.Queue.Append(scope, req)
			telemetry.CountRelayed(string(req.Origin))
			d.Notifier.RequestRelayed(scope, seq, req)
			if d.DB != nil {
				if err := db.InsertRequest(ctx, d.DB, scope, videoID, string(req.Origin), req.Title, req.Requester); err != nil {
					log.Warn("request audit insert failed", slog.Any("err", err))
				}
			}
			log.Debug("request relayed", slog.Int("seq", seq), slog.String("requester", item.Author))
		}

		pageToken = page.NextPageToken
		wait := page.PollInterval
		if wait < minInterval {
			wait = minInterval
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}
