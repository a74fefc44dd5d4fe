// Package youtubeapi wraps the YouTube Data API for the two calls the bot
// needs: resolving a video's active live chat id and paging through live chat
// messages. It also parses video ids out of the URL shapes people paste.
//
// The client authenticates with an API key when YOUTUBE_API_KEY is set, or
// with an OAuth2 token persisted through the provided TokenStore when
// YT_CLIENT_ID/YT_CLIENT_SECRET are configured (higher quota).
package youtubeapi

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"

	"github.com/lypsing/lilybot/config"
)

// ErrNoLiveChat indicates the video exists but has no active live chat
// (not live, or chat disabled).
var ErrNoLiveChat = errors.New("video has no active live chat")

var videoIDPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?:https?://)?(?:www\.)?youtube\.com/watch\?v=([a-zA-Z0-9_-]{11})`),
	regexp.MustCompile(`(?:https?://)?(?:www\.)?youtube\.com/live/([a-zA-Z0-9_-]{11})`),
	regexp.MustCompile(`(?:https?://)?youtu\.be/([a-zA-Z0-9_-]{11})`),
	regexp.MustCompile(`(?:https?://)?(?:www\.)?youtube\.com/embed/([a-zA-Z0-9_-]{11})`),
}

// ExtractVideoID pulls the 11-character video id out of the usual YouTube URL
// formats (watch, live, youtu.be, embed). Returns "" when none matches.
func ExtractVideoID(url string) string {
	for _, p := range videoIDPatterns {
		if m := p.FindStringSubmatch(url); m != nil {
			return m[1]
		}
	}
	return ""
}

// ChatItem is one live chat message.
type ChatItem struct {
	ID     string
	Text   string
	Author string
}

// ChatPage is one page of live chat messages plus the continuation cursor and
// the server-suggested wait before the next fetch.
type ChatPage struct {
	Items         []ChatItem
	NextPageToken string
	PollInterval  time.Duration
}

// TokenStore persists OAuth tokens so they can be refreshed and reused across
// restarts (implemented by the db package).
type TokenStore interface {
	UpsertOAuthToken(ctx context.Context, provider string, accessToken string, refreshToken string, expiry time.Time, raw string) error
	GetOAuthToken(ctx context.Context, provider string) (accessToken string, refreshToken string, expiry time.Time, raw string, err error)
}

const provider = "youtube"

// Client is a thin wrapper over the YouTube Data API service.
type Client struct {
	svc *youtube.Service
}

// New builds a Client from config. API key auth is preferred when present;
// otherwise an OAuth2 client backed by the token store is used. Extra options
// (e.g. an endpoint override in tests) are appended last.
func New(ctx context.Context, cfg *config.Config, ts TokenStore, extra ...option.ClientOption) (*Client, error) {
	var opts []option.ClientOption
	switch {
	case cfg.YouTubeAPIKey != "":
		opts = append(opts, option.WithAPIKey(cfg.YouTubeAPIKey))
	case cfg.YTClientID != "" && cfg.YTClientSecret != "":
		src, err := storedTokenSource(ctx, cfg, ts)
		if err != nil {
			return nil, err
		}
		opts = append(opts, option.WithTokenSource(src))
	default:
		return nil, errors.New("youtube api not configured: set YOUTUBE_API_KEY or YT_CLIENT_ID/YT_CLIENT_SECRET")
	}
	opts = append(opts, extra...)
	svc, err := youtube.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create youtube service: %w", err)
	}
	return &Client{svc: svc}, nil
}

// storedTokenSource loads the persisted OAuth token and wraps the refreshing
// token source so refreshed tokens are written back to the store.
func storedTokenSource(ctx context.Context, cfg *config.Config, ts TokenStore) (oauth2.TokenSource, error) {
	if ts == nil {
		return nil, errors.New("oauth mode requires a token store")
	}
	access, refresh, expiry, _, err := ts.GetOAuthToken(ctx, provider)
	if err != nil {
		return nil, fmt.Errorf("load youtube token: %w", err)
	}
	if access == "" && refresh == "" {
		return nil, errors.New("no youtube token stored; complete the oauth flow first")
	}
	oc := &oauth2.Config{
		ClientID:     cfg.YTClientID,
		ClientSecret: cfg.YTClientSecret,
		Endpoint:     google.Endpoint,
		RedirectURL:  cfg.YTRedirectURI,
	}
	tok := &oauth2.Token{AccessToken: access, RefreshToken: refresh, Expiry: expiry}
	return &savingTokenSource{base: oc.TokenSource(ctx, tok), store: ts, last: tok}, nil
}

// savingTokenSource persists tokens whenever the underlying source refreshes.
type savingTokenSource struct {
	mu    sync.Mutex
	base  oauth2.TokenSource
	store TokenStore
	last  *oauth2.Token
}

func (s *savingTokenSource) Token() (*oauth2.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tok, err := s.base.Token()
	if err != nil {
		return nil, err
	}
	if s.last == nil || tok.AccessToken != s.last.AccessToken {
		_ = s.store.UpsertOAuthToken(context.Background(), provider, tok.AccessToken, tok.RefreshToken, tok.Expiry, "")
		s.last = tok
	}
	return tok, nil
}

// ResolveLiveChatID returns the active live chat id for a video, or
// ErrNoLiveChat when the video is not live or has chat disabled.
func (c *Client) ResolveLiveChatID(ctx context.Context, videoID string) (string, error) {
	resp, err := c.svc.Videos.List([]string{"liveStreamingDetails"}).Id(videoID).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("videos.list: %w", err)
	}
	if len(resp.Items) == 0 {
		return "", ErrNoLiveChat
	}
	details := resp.Items[0].LiveStreamingDetails
	if details == nil || details.ActiveLiveChatId == "" {
		return "", ErrNoLiveChat
	}
	return details.ActiveLiveChatId, nil
}

// FetchPage retrieves a page of live chat messages using the continuation
// cursor from the previous page ("" on the first call).
func (c *Client) FetchPage(ctx context.Context, liveChatID, pageToken string) (*ChatPage, error) {
	call := c.svc.LiveChatMessages.List(liveChatID, []string{"snippet", "authorDetails"}).Context(ctx)
	if pageToken != "" {
		call = call.PageToken(pageToken)
	}
	resp, err := call.Do()
	if err != nil {
		return nil, fmt.Errorf("liveChatMessages.list: %w", err)
	}
	page := &ChatPage{
		NextPageToken: resp.NextPageToken,
		PollInterval:  time.Duration(resp.PollingIntervalMillis) * time.Millisecond,
	}
	for _, item := range resp.Items {
		if item.Snippet == nil || item.AuthorDetails == nil {
			continue
		}
		page.Items = append(page.Items, ChatItem{
			ID:     item.Id,
			Text:   item.Snippet.DisplayMessage,
			Author: item.AuthorDetails.DisplayName,
		})
	}
	return page, nil
}
