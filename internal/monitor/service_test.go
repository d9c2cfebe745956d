package monitor

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourneighborhoodchef/igmon/internal/client"
)

// fakeStore is a minimal in-process Store; the shipping in-memory store
// lives in internal/store, which this package cannot import without a cycle.
type fakeStore struct {
	mu       sync.Mutex
	accounts map[string]MonitoredAccount
	removals map[string]int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		accounts: make(map[string]MonitoredAccount),
		removals: make(map[string]int),
	}
}

func (s *fakeStore) IsMonitoring(_ context.Context, username string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.accounts[strings.ToLower(username)]
	return ok, nil
}

func (s *fakeStore) AddAccount(_ context.Context, username string, chatID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[strings.ToLower(username)] = MonitoredAccount{ChatID: chatID, AddedAt: time.Now()}
	return nil
}

func (s *fakeStore) RemoveAccount(_ context.Context, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	username = strings.ToLower(username)
	s.removals[username]++
	delete(s.accounts, username)
	return nil
}

func (s *fakeStore) ClearAll(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts = make(map[string]MonitoredAccount)
	return nil
}

func (s *fakeStore) AllAccounts(context.Context) (map[string]MonitoredAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]MonitoredAccount, len(s.accounts))
	for k, v := range s.accounts {
		out[k] = v
	}
	return out, nil
}

func (s *fakeStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.accounts)
}

func (s *fakeStore) removalCount(username string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removals[strings.ToLower(username)]
}

type fakeFetcher struct {
	mu       sync.Mutex
	outcomes []client.Outcome
	calls    int
	image    []byte
}

func (f *fakeFetcher) FetchProfile(context.Context, string) client.Outcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.outcomes) == 0 {
		return client.Outcome{StatusCode: 404}
	}
	out := f.outcomes[0]
	if len(f.outcomes) > 1 {
		f.outcomes = f.outcomes[1:]
	}
	return out
}

func (f *fakeFetcher) DownloadImage(context.Context, string, string) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.image
}

type fakeNotifier struct {
	mu       sync.Mutex
	messages []string
	photos   int
	err      error
}

func (n *fakeNotifier) SendMessage(_ context.Context, _ int64, text, _ string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, text)
	return n.err
}

func (n *fakeNotifier) SendPhoto(_ context.Context, _ int64, _ []byte, _, caption, _ string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.photos++
	_ = caption
	return nil
}

func (n *fakeNotifier) messageCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.messages)
}

func (n *fakeNotifier) photoCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.photos
}

type fakeRenderer struct {
	out []byte
	err error
}

func (r *fakeRenderer) Render(string, []byte, int, int, int, string, string, bool, []byte) ([]byte, error) {
	return r.out, r.err
}

func recoveredOutcome(username string) client.Outcome {
	user := &client.UserRecord{
		Username:        username,
		ProfilePicURL:   "https://cdn.example/p.jpg",
		ProfilePicURLHD: "https://cdn.example/p_hd.jpg",
		FullName:        "Some User",
		Biography:       "bio",
		IsVerified:      true,
	}
	user.EdgeFollowedBy.Count = 1_500_000
	user.EdgeFollow.Count = 42
	user.EdgeOwnerToTimelineMedia.Count = 7

	doc := &client.ProfileDocument{}
	doc.Data.User = user
	return client.Outcome{StatusCode: 200, Profile: doc}
}

func newTestService(api Fetcher, st Store, n Notifier, r Renderer, cfg Config) *Service {
	log := logrus.New()
	log.SetOutput(io.Discard)

	svc := NewService(api, st, n, r, cfg, log)
	svc.sleep = func(ctx context.Context, _ time.Duration) bool {
		select {
		case <-ctx.Done():
			return false
		case <-time.After(time.Millisecond):
			return true
		}
	}
	return svc
}

func testConfig() Config {
	return Config{MinCheckInterval: time.Millisecond, MaxCheckInterval: 2 * time.Millisecond}
}

func TestRecoveryNotifiesThenRemoves(t *testing.T) {
	st := newFakeStore()
	require.NoError(t, st.AddAccount(context.Background(), "someuser", 1001))

	api := &fakeFetcher{outcomes: []client.Outcome{recoveredOutcome("someuser")}}
	notifier := &fakeNotifier{}
	svc := newTestService(api, st, notifier, nil, testConfig())

	svc.StartMonitoring(context.Background(), "someuser", 1001)

	require.Eventually(t, func() bool { return st.count() == 0 }, 2*time.Second, 5*time.Millisecond)
	svc.Wait()

	assert.Equal(t, 1, notifier.messageCount())
	assert.Contains(t, notifier.messages[0], "@someuser")
	assert.Contains(t, notifier.messages[0], "1.5M")
	assert.Equal(t, 1, st.removalCount("someuser"))
	assert.Equal(t, 0, svc.ActiveCount())
}

func TestRecoveryRemovesExactlyOnceWhenNotifyFails(t *testing.T) {
	st := newFakeStore()
	require.NoError(t, st.AddAccount(context.Background(), "someuser", 1001))

	api := &fakeFetcher{outcomes: []client.Outcome{recoveredOutcome("someuser")}}
	notifier := &fakeNotifier{err: fmt.Errorf("chat unreachable")}
	svc := newTestService(api, st, notifier, nil, testConfig())

	svc.StartMonitoring(context.Background(), "someuser", 1001)

	require.Eventually(t, func() bool { return st.count() == 0 }, 2*time.Second, 5*time.Millisecond)
	svc.Wait()

	assert.Equal(t, 1, st.removalCount("someuser"))
	assert.Equal(t, 0, svc.ActiveCount())
}

func TestRecoveryWithScreenshotSendsPhoto(t *testing.T) {
	st := newFakeStore()
	require.NoError(t, st.AddAccount(context.Background(), "someuser", 1001))

	api := &fakeFetcher{
		outcomes: []client.Outcome{recoveredOutcome("someuser")},
		image:    []byte("picture"),
	}
	notifier := &fakeNotifier{}
	renderer := &fakeRenderer{out: []byte("screenshot")}
	cfg := testConfig()
	cfg.GenerateScreenshots = true

	svc := newTestService(api, st, notifier, renderer, cfg)
	svc.StartMonitoring(context.Background(), "someuser", 1001)

	require.Eventually(t, func() bool { return st.count() == 0 }, 2*time.Second, 5*time.Millisecond)
	svc.Wait()

	assert.Equal(t, 1, notifier.photoCount())
	assert.Equal(t, 0, notifier.messageCount())
}

func TestRecoveryScreenshotFailureFallsBackToText(t *testing.T) {
	st := newFakeStore()
	require.NoError(t, st.AddAccount(context.Background(), "someuser", 1001))

	api := &fakeFetcher{
		outcomes: []client.Outcome{recoveredOutcome("someuser")},
		image:    []byte("picture"),
	}
	notifier := &fakeNotifier{}
	renderer := &fakeRenderer{err: fmt.Errorf("render broke")}
	cfg := testConfig()
	cfg.GenerateScreenshots = true

	svc := newTestService(api, st, notifier, renderer, cfg)
	svc.StartMonitoring(context.Background(), "someuser", 1001)

	require.Eventually(t, func() bool { return st.count() == 0 }, 2*time.Second, 5*time.Millisecond)
	svc.Wait()

	assert.Equal(t, 0, notifier.photoCount())
	assert.Equal(t, 1, notifier.messageCount())
	assert.Equal(t, 1, st.removalCount("someuser"))
}

func TestFailedChecksKeepMonitoring(t *testing.T) {
	st := newFakeStore()
	require.NoError(t, st.AddAccount(context.Background(), "someuser", 1001))

	// Total failures (zero outcome) followed by suspended responses; the
	// task must shrug both off and keep polling.
	api := &fakeFetcher{outcomes: []client.Outcome{{}, {}, {StatusCode: 404}}}
	notifier := &fakeNotifier{}
	svc := newTestService(api, st, notifier, nil, testConfig())

	svc.StartMonitoring(context.Background(), "someuser", 1001)

	require.Eventually(t, func() bool {
		api.mu.Lock()
		defer api.mu.Unlock()
		return api.calls >= 5
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, 1, st.count())
	assert.Equal(t, 0, notifier.messageCount())
	assert.Equal(t, 1, svc.ActiveCount())

	require.NoError(t, svc.StopAllMonitoring(context.Background(), false))
	svc.Wait()
}

func TestLoopExitsWhenRemovedFromStore(t *testing.T) {
	st := newFakeStore()
	require.NoError(t, st.AddAccount(context.Background(), "someuser", 1001))

	api := &fakeFetcher{} // always 404
	notifier := &fakeNotifier{}
	svc := newTestService(api, st, notifier, nil, testConfig())

	svc.StartMonitoring(context.Background(), "someuser", 1001)
	require.NoError(t, st.RemoveAccount(context.Background(), "someuser"))

	require.Eventually(t, func() bool { return svc.ActiveCount() == 0 }, 2*time.Second, 5*time.Millisecond)
	svc.Wait()

	assert.Equal(t, 0, notifier.messageCount())
}

func TestStopMonitoringRemovesAndCancels(t *testing.T) {
	st := newFakeStore()
	require.NoError(t, st.AddAccount(context.Background(), "someuser", 1001))

	svc := newTestService(&fakeFetcher{}, st, &fakeNotifier{}, nil, testConfig())
	svc.StartMonitoring(context.Background(), "someuser", 1001)

	require.NoError(t, svc.StopMonitoring(context.Background(), "someuser"))
	svc.Wait()

	assert.Equal(t, 0, st.count())
	assert.Equal(t, 0, svc.ActiveCount())
}

func TestStopAllMonitoringPreservesStoreByDefault(t *testing.T) {
	st := newFakeStore()
	ctx := context.Background()
	require.NoError(t, st.AddAccount(ctx, "a", 1))
	require.NoError(t, st.AddAccount(ctx, "b", 2))

	svc := newTestService(&fakeFetcher{}, st, &fakeNotifier{}, nil, testConfig())
	require.NoError(t, svc.ResumeAllMonitoring(ctx))
	require.Equal(t, 2, svc.ActiveCount())

	require.NoError(t, svc.StopAllMonitoring(ctx, false))
	svc.Wait()

	assert.Equal(t, 0, svc.ActiveCount())
	assert.Equal(t, 2, st.count())
}

func TestStopAllMonitoringCanClearStore(t *testing.T) {
	st := newFakeStore()
	ctx := context.Background()
	require.NoError(t, st.AddAccount(ctx, "a", 1))
	require.NoError(t, st.AddAccount(ctx, "b", 2))

	svc := newTestService(&fakeFetcher{}, st, &fakeNotifier{}, nil, testConfig())
	require.NoError(t, svc.ResumeAllMonitoring(ctx))

	require.NoError(t, svc.StopAllMonitoring(ctx, true))
	svc.Wait()

	assert.Equal(t, 0, st.count())
}

func TestResumeAllMonitoringLaunchesOneTaskPerEntry(t *testing.T) {
	st := newFakeStore()
	ctx := context.Background()
	require.NoError(t, st.AddAccount(ctx, "a", 1))
	require.NoError(t, st.AddAccount(ctx, "b", 2))
	require.NoError(t, st.AddAccount(ctx, "c", 3))

	svc := newTestService(&fakeFetcher{}, st, &fakeNotifier{}, nil, testConfig())
	require.NoError(t, svc.ResumeAllMonitoring(ctx))

	assert.Equal(t, 3, svc.ActiveCount())

	require.NoError(t, svc.StopAllMonitoring(ctx, false))
	svc.Wait()
}

func TestResumeAllMonitoringWithEmptyStore(t *testing.T) {
	svc := newTestService(&fakeFetcher{}, newFakeStore(), &fakeNotifier{}, nil, testConfig())
	require.NoError(t, svc.ResumeAllMonitoring(context.Background()))
	assert.Equal(t, 0, svc.ActiveCount())
}

func TestStartMonitoringReplacesExistingTask(t *testing.T) {
	st := newFakeStore()
	ctx := context.Background()
	require.NoError(t, st.AddAccount(ctx, "someuser", 1001))

	svc := newTestService(&fakeFetcher{}, st, &fakeNotifier{}, nil, testConfig())
	svc.StartMonitoring(ctx, "someuser", 1001)
	svc.StartMonitoring(ctx, "someuser", 1001)

	assert.Equal(t, 1, svc.ActiveCount())

	require.NoError(t, svc.StopAllMonitoring(ctx, false))
	svc.Wait()
}
