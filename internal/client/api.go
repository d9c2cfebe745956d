package client

import (
	"context"
	"encoding/json"
	"io"
	"math/rand"
	"net/url"
	"strings"
	"time"

	http "github.com/bogdanfinn/fhttp"
	tls_client "github.com/bogdanfinn/tls-client"
	"github.com/sirupsen/logrus"

	"github.com/yourneighborhoodchef/igmon/internal/headers"
	"github.com/yourneighborhoodchef/igmon/internal/ratelimit"
)

const (
	profileLookupURL  = "https://i.instagram.com/api/v1/users/web_profile_info/?username="
	defaultMaxRetries = 3

	// CDN picture fetches get a tighter bound than the 30s polling timeout
	// baked into the transport handles.
	imageTimeout = 20 * time.Second
)

// SessionSource supplies the rotating sessionid credential. Rotation is
// shared mutable state across all account tasks; implementations must be
// safe for concurrent use.
type SessionSource interface {
	Current() string
	Rotate()
}

// TransportPool hands out one impersonated HTTP client per fingerprint
// index. Satisfied by *Pool.
type TransportPool interface {
	HandleFor(idx int, viaProxy bool) (tls_client.HttpClient, error)
}

// UserRecord is the nested user document of the profile-lookup response.
type UserRecord struct {
	Username       string `json:"username"`
	EdgeFollowedBy struct {
		Count int `json:"count"`
	} `json:"edge_followed_by"`
	EdgeFollow struct {
		Count int `json:"count"`
	} `json:"edge_follow"`
	EdgeOwnerToTimelineMedia struct {
		Count int `json:"count"`
	} `json:"edge_owner_to_timeline_media"`
	ProfilePicURL   string `json:"profile_pic_url"`
	ProfilePicURLHD string `json:"profile_pic_url_hd"`
	FullName        string `json:"full_name"`
	Biography       string `json:"biography"`
	IsVerified      bool   `json:"is_verified"`
}

// ProfileDocument is the decoded profile-lookup body. User is nil while the
// account is suspended.
type ProfileDocument struct {
	Data struct {
		User *UserRecord `json:"user"`
	} `json:"data"`
}

// Outcome is the result of one logical profile fetch. A zero StatusCode
// means no response was obtained at all (transport failure or exhausted
// retries); a non-nil Profile means the account is active under the
// requested username.
type Outcome struct {
	StatusCode int
	Profile    *ProfileDocument
}

// APIConfig carries the fetch controller knobs.
type APIConfig struct {
	ProxyURL   string
	MaxRetries int
	Throttle   *ratelimit.TokenJar
}

// API performs profile lookups against the remote endpoint with bounded
// retry, credential rotation and per-attempt TLS fingerprint rotation.
type API struct {
	pool       TransportPool
	sessions   SessionSource
	builder    *headers.Builder
	proxyURL   string
	maxRetries int
	throttle   *ratelimit.TokenJar
	log        *logrus.Logger

	// sleep is swappable in tests so retry paths run instantly.
	sleep func(ctx context.Context, d time.Duration) bool
}

func NewAPI(pool TransportPool, sessions SessionSource, builder *headers.Builder, cfg APIConfig, log *logrus.Logger) *API {
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	return &API{
		pool:       pool,
		sessions:   sessions,
		builder:    builder,
		proxyURL:   cfg.ProxyURL,
		maxRetries: maxRetries,
		throttle:   cfg.Throttle,
		log:        log,
		sleep:      ctxSleep,
	}
}

// FetchProfile performs one logical profile lookup for username, issuing at
// most maxRetries+1 attempts. The retry state machine is a bounded loop:
// each iteration owns its attempt number, which also selects the
// impersonation target as Impersonations[attempt mod len].
func (a *API) FetchProfile(ctx context.Context, username string) Outcome {
	log := a.log.WithField("account", username)

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			// Exponential backoff with full jitter so retries show no
			// periodicity. The 300s clamp applies to the base only; the
			// jitter is added on top.
			base := 30 * (1 << attempt)
			if base > 300 {
				base = 300
			}
			delay := time.Duration(float64(base)+10+rand.Float64()*20) * time.Second
			log.WithField("delay", delay.Round(time.Second)).Infof("retry %d/%d", attempt, a.maxRetries)
			if !a.sleep(ctx, delay) {
				return Outcome{}
			}
		}

		// Human pacing before every request, retry or not.
		if !a.sleep(ctx, jitter(2, 5)) {
			return Outcome{}
		}

		if a.proxyURL == "" {
			log.Error("no forward proxy configured, refusing to poll directly")
			return Outcome{}
		}

		if !a.throttle.Wait(ctx) {
			return Outcome{}
		}

		status, body, err := a.attempt(ctx, username, attempt)
		if err != nil {
			log.WithError(err).Warnf("request failed (attempt %d)", attempt+1)
			if attempt < a.maxRetries {
				continue
			}
			return Outcome{}
		}

		log.WithField("status", status).Debug("profile lookup response")

		switch status {
		case http.StatusOK:
			var doc ProfileDocument
			if err := json.Unmarshal(body, &doc); err != nil {
				log.WithError(err).Error("profile body decode failed")
				return Outcome{StatusCode: status}
			}
			user := doc.Data.User
			if user == nil {
				log.Info("account still unavailable (no user record)")
				return Outcome{StatusCode: status}
			}
			if !strings.EqualFold(user.Username, username) {
				log.WithField("reported", user.Username).Warn("username mismatch, possible ban redirect")
				return Outcome{StatusCode: status}
			}
			return Outcome{StatusCode: status, Profile: &doc}

		case http.StatusNotFound:
			log.Info("account not found (404)")
			return Outcome{StatusCode: status}

		case http.StatusTooManyRequests:
			if attempt < a.maxRetries {
				log.Warn("rate limited (429), rotating session")
				a.sessions.Rotate()
				continue
			}
			log.Warn("rate limited (429), retries exhausted")
			return Outcome{StatusCode: status}

		case http.StatusBadRequest, http.StatusUnauthorized:
			if attempt < a.maxRetries {
				log.Warnf("auth rejected (%d), rotating session", status)
				a.sessions.Rotate()
				if !a.sleep(ctx, jitter(1, 5)) {
					return Outcome{StatusCode: status}
				}
				continue
			}
			log.Warnf("auth rejected (%d), retries exhausted", status)
			return Outcome{StatusCode: status}

		default:
			log.Warnf("unexpected status %d", status)
			if attempt < a.maxRetries {
				continue
			}
			return Outcome{StatusCode: status}
		}
	}
}

func (a *API) attempt(ctx context.Context, username string, attempt int) (int, []byte, error) {
	handle, err := a.pool.HandleFor(attempt, true)
	if err != nil {
		return 0, nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, profileLookupURL+url.QueryEscape(username), nil)
	if err != nil {
		return 0, nil, err
	}
	req.Header = a.builder.Build(username, a.sessions.Current())

	resp, err := handle.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, body, nil
}

// DownloadImage fetches raw image bytes, e.g. a profile picture from the
// CDN. The impersonation target is picked at random so image fetches do not
// correlate with the polling fingerprint. The first attempt goes direct; on
// failure a single proxied retry follows after a 1s pause.
func (a *API) DownloadImage(ctx context.Context, imageURL, accountLabel string) []byte {
	log := a.log.WithField("account", accountLabel)
	idx := rand.Intn(len(Impersonations))

	for attempt := 1; attempt <= 2; attempt++ {
		viaProxy := attempt == 2
		if viaProxy {
			if a.proxyURL == "" {
				break
			}
			if !a.sleep(ctx, time.Second) {
				return nil
			}
		}

		handle, err := a.pool.HandleFor(idx, viaProxy)
		if err != nil {
			log.WithError(err).Warn("image transport unavailable")
			continue
		}

		status, body, err := a.fetchImage(ctx, handle, imageURL)
		if err != nil {
			log.WithError(err).Warnf("image download failed (attempt %d/2)", attempt)
			continue
		}
		if status == http.StatusOK {
			log.WithField("bytes", len(body)).Debug("image downloaded")
			return body
		}
		log.Warnf("image download returned %d (attempt %d/2)", status, attempt)
	}

	log.Error("image download failed after 2 attempts")
	return nil
}

func (a *API) fetchImage(ctx context.Context, handle tls_client.HttpClient, imageURL string) (int, []byte, error) {
	ctx, cancel := context.WithTimeout(ctx, imageTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return 0, nil, err
	}

	resp, err := handle.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, body, nil
}

// jitter returns a uniformly random duration in [min,max) seconds.
func jitter(min, max float64) time.Duration {
	return time.Duration((min + rand.Float64()*(max-min)) * float64(time.Second))
}

// ctxSleep sleeps for d, returning false if ctx is cancelled first. Sleeps
// are the cooperative cancellation points of every polling task.
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
