package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/yourneighborhoodchef/igmon/internal/monitor"
)

const monitoredKey = "igmon:monitored_accounts"

// Redis persists the monitored-account set in a redis hash keyed by
// lowercase username, so monitors survive process restarts.
type Redis struct {
	client *redis.Client
	log    *logrus.Logger
}

func NewRedis(client *redis.Client, log *logrus.Logger) *Redis {
	return &Redis{client: client, log: log}
}

func (s *Redis) IsMonitoring(ctx context.Context, username string) (bool, error) {
	ok, err := s.client.HExists(ctx, monitoredKey, strings.ToLower(username)).Result()
	if err != nil {
		return false, fmt.Errorf("store lookup for %q: %w", username, err)
	}
	return ok, nil
}

func (s *Redis) AddAccount(ctx context.Context, username string, chatID int64) error {
	entry := monitor.MonitoredAccount{ChatID: chatID, AddedAt: time.Now()}
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode account %q: %w", username, err)
	}
	if err := s.client.HSet(ctx, monitoredKey, strings.ToLower(username), raw).Err(); err != nil {
		return fmt.Errorf("store account %q: %w", username, err)
	}
	return nil
}

func (s *Redis) RemoveAccount(ctx context.Context, username string) error {
	if err := s.client.HDel(ctx, monitoredKey, strings.ToLower(username)).Err(); err != nil {
		return fmt.Errorf("remove account %q: %w", username, err)
	}
	return nil
}

func (s *Redis) ClearAll(ctx context.Context) error {
	if err := s.client.Del(ctx, monitoredKey).Err(); err != nil {
		return fmt.Errorf("clear monitored accounts: %w", err)
	}
	return nil
}

func (s *Redis) AllAccounts(ctx context.Context) (map[string]monitor.MonitoredAccount, error) {
	raw, err := s.client.HGetAll(ctx, monitoredKey).Result()
	if err != nil {
		return nil, fmt.Errorf("load monitored accounts: %w", err)
	}

	accounts := make(map[string]monitor.MonitoredAccount, len(raw))
	for username, value := range raw {
		var entry monitor.MonitoredAccount
		if err := json.Unmarshal([]byte(value), &entry); err != nil {
			s.log.WithError(err).WithField("account", username).Warn("skipping corrupt store entry")
			continue
		}
		accounts[username] = entry
	}
	return accounts, nil
}
