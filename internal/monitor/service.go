package monitor

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yourneighborhoodchef/igmon/internal/client"
)

// Store is the backing collection of monitored accounts. Monitoring
// membership lives here, not in the task registry, so monitors can be
// rehydrated after a restart.
type Store interface {
	IsMonitoring(ctx context.Context, username string) (bool, error)
	AddAccount(ctx context.Context, username string, chatID int64) error
	RemoveAccount(ctx context.Context, username string) error
	ClearAll(ctx context.Context) error
	AllAccounts(ctx context.Context) (map[string]MonitoredAccount, error)
}

// Notifier delivers recovery notifications. Failures are logged by the
// scheduler, never propagated.
type Notifier interface {
	SendMessage(ctx context.Context, chatID int64, text, linkURL string) error
	SendPhoto(ctx context.Context, chatID int64, photo []byte, filename, caption, linkURL string) error
}

// Renderer composes the recovery screenshot. Optional: a nil Renderer
// degrades every notification to text-only.
type Renderer interface {
	Render(username string, picture []byte, followers, following, posts int, fullName, bio string, verified bool, badge []byte) ([]byte, error)
}

// Fetcher is the polling side of the fetch controller consumed by the
// scheduler. Satisfied by *client.API.
type Fetcher interface {
	FetchProfile(ctx context.Context, username string) client.Outcome
	DownloadImage(ctx context.Context, imageURL, accountLabel string) []byte
}

// Config carries the scheduler knobs.
type Config struct {
	// Check interval window. Each iteration draws a fresh uniform value
	// from [Min,Max] so polling never settles into a fixed period.
	MinCheckInterval time.Duration
	MaxCheckInterval time.Duration

	GenerateScreenshots bool
	BadgePath           string
}

// Service runs one cooperative polling task per monitored account and
// triggers recovery handling exactly once per account.
type Service struct {
	api      Fetcher
	store    Store
	notifier Notifier
	renderer Renderer
	cfg      Config
	log      *logrus.Logger
	badge    []byte

	mu    sync.Mutex
	tasks map[string]context.CancelFunc
	wg    sync.WaitGroup

	// sleep is swappable in tests.
	sleep func(ctx context.Context, d time.Duration) bool
}

func NewService(api Fetcher, store Store, notifier Notifier, renderer Renderer, cfg Config, log *logrus.Logger) *Service {
	s := &Service{
		api:      api,
		store:    store,
		notifier: notifier,
		renderer: renderer,
		cfg:      cfg,
		log:      log,
		tasks:    make(map[string]context.CancelFunc),
		sleep:    ctxSleep,
	}

	if cfg.BadgePath != "" {
		badge, err := os.ReadFile(cfg.BadgePath)
		if err != nil {
			log.WithError(err).Warn("verification badge not loaded")
		} else {
			s.badge = badge
			log.Info("verification badge loaded")
		}
	}
	return s
}

// StartMonitoring launches the polling task for one account and records it
// in the registry. A task already running for the account is cancelled and
// replaced.
func (s *Service) StartMonitoring(parent context.Context, username string, chatID int64) {
	username = strings.ToLower(username)
	ctx, cancel := context.WithCancel(parent)

	s.mu.Lock()
	if old, ok := s.tasks[username]; ok {
		old()
	}
	s.tasks[username] = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.monitorAccount(ctx, username, chatID)
	}()

	s.log.WithField("account", username).Info("monitor task created")
}

// StopMonitoring removes the account from the backing store and cancels its
// task at the next suspension point.
func (s *Service) StopMonitoring(ctx context.Context, username string) error {
	username = strings.ToLower(username)
	err := s.store.RemoveAccount(ctx, username)

	s.mu.Lock()
	cancel, ok := s.tasks[username]
	delete(s.tasks, username)
	s.mu.Unlock()

	if ok {
		cancel()
		s.log.WithField("account", username).Info("monitor task cancelled")
	}
	return err
}

// StopAllMonitoring cancels every task. The backing store is cleared only
// when clearStore is set: a plain shutdown keeps entries so a restart can
// resume them, a hard reset wipes everything.
func (s *Service) StopAllMonitoring(ctx context.Context, clearStore bool) error {
	s.mu.Lock()
	for username, cancel := range s.tasks {
		cancel()
		delete(s.tasks, username)
	}
	s.mu.Unlock()

	if clearStore {
		if err := s.store.ClearAll(ctx); err != nil {
			return fmt.Errorf("clear store: %w", err)
		}
		s.log.Info("stopped all monitor tasks and cleared store")
		return nil
	}
	s.log.Info("stopped all monitor tasks, store entries preserved")
	return nil
}

// ResumeAllMonitoring launches one task per backing-store entry. Called on
// startup to rehydrate monitors that were in flight before a restart.
func (s *Service) ResumeAllMonitoring(ctx context.Context) error {
	accounts, err := s.store.AllAccounts(ctx)
	if err != nil {
		return fmt.Errorf("load monitored accounts: %w", err)
	}
	for username, entry := range accounts {
		s.StartMonitoring(ctx, username, entry.ChatID)
	}
	if len(accounts) > 0 {
		s.log.Infof("resumed monitoring for %d account(s)", len(accounts))
	}
	return nil
}

// ActiveCount reports how many monitor tasks are registered.
func (s *Service) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// Wait blocks until every monitor task has exited.
func (s *Service) Wait() {
	s.wg.Wait()
}

func (s *Service) monitorAccount(ctx context.Context, username string, chatID int64) {
	log := s.log.WithField("account", username)
	startedAt := time.Now()
	checkCount := 0

	log.WithField("chat_id", chatID).Info("monitoring started")

	for {
		monitored, err := s.store.IsMonitoring(ctx, username)
		if err != nil {
			log.WithError(err).Warn("store lookup failed, retrying next interval")
			if !s.sleep(ctx, s.checkInterval()) {
				return
			}
			continue
		}
		if !monitored {
			log.Info("monitoring stopped")
			s.forget(username)
			return
		}

		checkCount++
		interval := s.checkInterval()
		log.WithField("check", checkCount).Debug("fetching profile")

		outcome := s.api.FetchProfile(ctx, username)
		if ctx.Err() != nil {
			return
		}

		if outcome.Profile != nil && outcome.Profile.Data.User != nil {
			log.WithField("checks", checkCount).Info("account recovered")
			s.handleRecovery(ctx, username, outcome.Profile.Data.User, chatID, startedAt)
			return
		}

		if outcome.StatusCode == 0 {
			// Failed check: no answer this round, not a reason to stop.
			log.Warn("check produced no response")
		}

		log.WithField("next_check", interval.Round(time.Second)).Debug("still unavailable")
		if !s.sleep(ctx, interval) {
			return
		}
	}
}

// handleRecovery notifies the operator and then removes the account. The
// order is an invariant: removing first could lose the recovery if the
// account were re-added while the send is still pending. Removal happens
// unconditionally, whether or not any notification went out.
func (s *Service) handleRecovery(ctx context.Context, username string, user *client.UserRecord, chatID int64, startedAt time.Time) {
	log := s.log.WithField("account", username)

	followers := user.EdgeFollowedBy.Count
	picURL := user.ProfilePicURLHD
	if picURL == "" {
		picURL = user.ProfilePicURL
	}

	profileURL := "https://instagram.com/" + username
	text := fmt.Sprintf(
		"✅ *Username unbanned!*\n\n*@%s* is now active again | [View Profile](%s)\nFollowers: *%s*\nTime elapsed: *%s*",
		username, profileURL, compactNumber(followers), formatElapsed(time.Since(startedAt)),
	)

	sent := false
	if s.cfg.GenerateScreenshots && picURL != "" && s.renderer != nil {
		sent = s.sendWithScreenshot(ctx, username, picURL, user, text, profileURL, chatID)
	}
	if !sent {
		if err := s.notifier.SendMessage(ctx, chatID, text, profileURL); err != nil {
			log.WithError(err).Error("notification failed")
		} else {
			log.Info("text notification sent")
		}
	}

	// A detached context so shutdown or task cancellation cannot leave a
	// recovered account stuck in the store.
	rctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.store.RemoveAccount(rctx, username); err != nil {
		log.WithError(err).Error("failed to remove recovered account from store")
	}
	s.forget(username)
	log.Info("removed from monitoring")
}

// sendWithScreenshot runs the screenshot chain: download picture, render,
// send as photo. Returns true only when the photo went out; any failure
// falls through to the caller's text-only path.
func (s *Service) sendWithScreenshot(ctx context.Context, username, picURL string, user *client.UserRecord, caption, profileURL string, chatID int64) bool {
	log := s.log.WithField("account", username)

	picture := s.api.DownloadImage(ctx, picURL, username)
	if picture == nil {
		log.Warn("profile picture download failed, falling back to text")
		return false
	}

	shot, err := s.renderer.Render(
		username,
		picture,
		user.EdgeFollowedBy.Count,
		user.EdgeFollow.Count,
		user.EdgeOwnerToTimelineMedia.Count,
		user.FullName,
		user.Biography,
		user.IsVerified,
		s.badge,
	)
	if err != nil || len(shot) == 0 {
		log.WithError(err).Warn("screenshot render failed, falling back to text")
		return false
	}

	if err := s.notifier.SendPhoto(ctx, chatID, shot, username+"_profile.png", caption, profileURL); err != nil {
		log.WithError(err).Error("screenshot send failed, falling back to text")
		return false
	}
	log.Info("screenshot notification sent")
	return true
}

// checkInterval draws a fresh random interval from the configured window.
func (s *Service) checkInterval() time.Duration {
	min, max := s.cfg.MinCheckInterval, s.cfg.MaxCheckInterval
	if max <= min {
		return min
	}
	return min + time.Duration(rand.Int63n(int64(max-min)+1))
}

func (s *Service) forget(username string) {
	s.mu.Lock()
	delete(s.tasks, username)
	s.mu.Unlock()
}

func ctxSleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
