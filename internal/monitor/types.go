package monitor

import "time"

// MonitoredAccount is one backing-store entry: where to notify once the
// account comes back.
type MonitoredAccount struct {
	ChatID  int64     `json:"chat_id"`
	AddedAt time.Time `json:"added_at"`
}
