package poller

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/lypsing/lilybot/queue"
	"github.com/lypsing/lilybot/session"
	"github.com/lypsing/lilybot/telemetry"
	"github.com/lypsing/lilybot/youtubeapi"
)

func init() { telemetry.Init() }

type fakeAPI struct {
	mu         sync.Mutex
	chatID     string
	resolveErr error
	pages      []*youtubeapi.ChatPage
	fetchErr   error
	tokens     []string
}

func (f *fakeAPI) ResolveLiveChatID(_ context.Context, _ string) (string, error) {
	if f.resolveErr != nil {
		return "", f.resolveErr
	}
	return f.chatID, nil
}

func (f *fakeAPI) FetchPage(ctx context.Context, _, pageToken string) (*youtubeapi.ChatPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.tokens = append(f.tokens, pageToken)
	if len(f.pages) == 0 {
		if f.fetchErr != nil {
			return nil, f.fetchErr
		}
		return &youtubeapi.ChatPage{}, nil
	}
	page := f.pages[0]
	f.pages = f.pages[1:]
	return page, nil
}

type relayed struct {
	scope string
	seq   int
	req   queue.Request
}

type fakeNotifier struct {
	mu      sync.Mutex
	notices []string
	relays  []relayed
}

func (f *fakeNotifier) Notice(scope, text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notices = append(f.notices, text)
}

func (f *fakeNotifier) RequestRelayed(scope string, seq int, req queue.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.relays = append(f.relays, relayed{scope: scope, seq: seq, req: req})
}

func (f *fakeNotifier) hasNotice(t *testing.T, substr string) bool {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, n := range f.notices {
		if strings.Contains(n, substr) {
			return true
		}
	}
	return false
}

func TestStripMarker(t *testing.T) {
	tests := []struct {
		text  string
		want  string
		match bool
	}{
		{"!req Shining Star", "Shining Star", true},
		{"!REQ  spaced out ", "spaced out", true},
		{"!request something", "uest something", true}, // prefix match, same as upstream behavior
		{"!req", "", true},
		{"hello world", "", false},
		{"re !req inverted", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := StripMarker(tt.text, DefaultMarker)
		if ok != tt.match || got != tt.want {
			t.Errorf("StripMarker(%q) = %q, %v; want %q, %v", tt.text, got, ok, tt.want, tt.match)
		}
	}
}

func testDeps(api ChatAPI, n *fakeNotifier, reg *session.Registry) Deps {
	return Deps{
		API:         api,
		Queue:       queue.NewEngine(),
		Registry:    reg,
		Notifier:    n,
		MinInterval: time.Millisecond,
	}
}

func TestRunNoLiveChat(t *testing.T) {
	reg := session.NewRegistry()
	ctx, err := reg.Start(context.Background(), "chan-1", "vid-1")
	if err != nil {
		t.Fatal(err)
	}
	api := &fakeAPI{resolveErr: youtubeapi.ErrNoLiveChat}
	n := &fakeNotifier{}

	Run(ctx, testDeps(api, n, reg), "chan-1", "vid-1")

	if !n.hasNotice(t, "doesn't have an active live chat") {
		t.Errorf("missing no-live-chat notice, got %v", n.notices)
	}
	if !n.hasNotice(t, "Stopped monitoring") {
		t.Errorf("missing terminal notice, got %v", n.notices)
	}
	if _, ok := reg.Status("chan-1"); ok {
		t.Error("session not deregistered after ended poll")
	}
}

func TestRunRelaysFiltersAndDedups(t *testing.T) {
	reg := session.NewRegistry()
	ctx, err := reg.Start(context.Background(), "chan-1", "vid-1")
	if err != nil {
		t.Fatal(err)
	}
	api := &fakeAPI{
		chatID: "live-chat-1",
		pages: []*youtubeapi.ChatPage{
			{
				Items: []youtubeapi.ChatItem{
					{ID: "m1", Text: "!req Song A", Author: "Alice"},
					{ID: "m2", Text: "just chatting", Author: "Bob"},
				},
				NextPageToken: "t1",
			},
			{
				Items: []youtubeapi.ChatItem{
					{ID: "m1", Text: "!req Song A", Author: "Alice"}, // replayed by upstream
					{ID: "m3", Text: "!REQ Song B", Author: "Bob"},
				},
				NextPageToken: "t2",
			},
		},
		fetchErr: errors.New("quota exceeded"),
	}
	n := &fakeNotifier{}
	deps := testDeps(api, n, reg)

	Run(ctx, deps, "chan-1", "vid-1")

	l := deps.Queue.List("chan-1")
	if l.Total != 2 {
		t.Fatalf("queue total = %d, want 2 (filtered + de-duplicated)", l.Total)
	}
	if l.Entries[0].Title != "Song A" || l.Entries[1].Title != "Song B" {
		t.Errorf("queue titles = %q, %q", l.Entries[0].Title, l.Entries[1].Title)
	}
	if l.Entries[0].Origin != queue.OriginLiveChat {
		t.Errorf("origin = %q, want live-chat", l.Entries[0].Origin)
	}

	if len(n.relays) != 2 || n.relays[0].seq != 1 || n.relays[1].seq != 2 {
		t.Errorf("relays = %+v, want seqs 1 and 2", n.relays)
	}
	if !n.hasNotice(t, "Started monitoring") {
		t.Errorf("missing start notice, got %v", n.notices)
	}
	if !n.hasNotice(t, "quota exceeded") {
		t.Errorf("missing fetch error notice, got %v", n.notices)
	}

	// Continuation cursor advanced across fetches.
	api.mu.Lock()
	tokens := append([]string(nil), api.tokens...)
	api.mu.Unlock()
	if len(tokens) != 3 || tokens[0] != "" || tokens[1] != "t1" || tokens[2] != "t2" {
		t.Errorf("page tokens = %v, want [\"\" t1 t2]", tokens)
	}

	if _, ok := reg.Status("chan-1"); ok {
		t.Error("session not deregistered after failed poll")
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	reg := session.NewRegistry()
	ctx, err := reg.Start(context.Background(), "chan-1", "vid-1")
	if err != nil {
		t.Fatal(err)
	}
	api := &fakeAPI{chatID: "live-chat-1"}
	n := &fakeNotifier{}
	deps := testDeps(api, n, reg)
	deps.MinInterval = time.Hour // park in the sleep; cancellation must wake it

	done := make(chan struct{})
	go func() {
		Run(ctx, deps, "chan-1", "vid-1")
		close(done)
	}()

	// Wait for the first fetch before stopping.
	waitFor(t, func() bool {
		api.mu.Lock()
		defer api.mu.Unlock()
		return len(api.tokens) > 0
	})
	if _, err := reg.Stop("chan-1"); err != nil {
		t.Fatal(err)
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("poller did not exit after Stop")
	}
	if !n.hasNotice(t, "Stopped monitoring") {
		t.Errorf("missing terminal notice, got %v", n.notices)
	}
}

func TestRunStopsOnRegistryAbsence(t *testing.T) {
	// The cooperative liveness check must end the loop even when the poller's
	// own context is never cancelled.
	reg := session.NewRegistry()
	if _, err := reg.Start(context.Background(), "chan-1", "vid-1"); err != nil {
		t.Fatal(err)
	}
	api := &fakeAPI{chatID: "live-chat-1"}
	n := &fakeNotifier{}
	deps := testDeps(api, n, reg)

	done := make(chan struct{})
	go func() {
		Run(context.Background(), deps, "chan-1", "vid-1")
		close(done)
	}()

	waitFor(t, func() bool {
		api.mu.Lock()
		defer api.mu.Unlock()
		return len(api.tokens) > 0
	})
	reg.Deregister("chan-1", "vid-1")

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("poller did not exit after registry removal")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}
