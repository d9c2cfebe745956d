package store

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/yourneighborhoodchef/igmon/internal/monitor"
)

// Memory is an in-process store with the same contract as Redis. Meant for
// tests and runs where persistence across restarts does not matter.
type Memory struct {
	mu       sync.Mutex
	accounts map[string]monitor.MonitoredAccount
}

func NewMemory() *Memory {
	return &Memory{accounts: make(map[string]monitor.MonitoredAccount)}
}

func (s *Memory) IsMonitoring(_ context.Context, username string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.accounts[strings.ToLower(username)]
	return ok, nil
}

func (s *Memory) AddAccount(_ context.Context, username string, chatID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[strings.ToLower(username)] = monitor.MonitoredAccount{ChatID: chatID, AddedAt: time.Now()}
	return nil
}

func (s *Memory) RemoveAccount(_ context.Context, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.accounts, strings.ToLower(username))
	return nil
}

func (s *Memory) ClearAll(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts = make(map[string]monitor.MonitoredAccount)
	return nil
}

func (s *Memory) AllAccounts(_ context.Context) (map[string]monitor.MonitoredAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]monitor.MonitoredAccount, len(s.accounts))
	for k, v := range s.accounts {
		out[k] = v
	}
	return out, nil
}
