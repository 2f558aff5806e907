// Package store defines the console's persistence interface: the
// registry of managed hosts and the audit trail of remote-desktop
// sessions. Implementations can be swapped without touching the fleet.
package store

import (
	"context"
	"encoding/json"
	"time"
)

// Store is the persistence interface for console data.
// Implementations must be safe for concurrent use.
type Store interface {
	// Hosts.
	UpsertHost(ctx context.Context, host *HostRecord) error
	GetHost(ctx context.Context, id string) (*HostRecord, error)
	ListHosts(ctx context.Context) ([]*HostRecord, error)
	TouchHost(ctx context.Context, id string, t time.Time) error
	DeleteHost(ctx context.Context, id string) error

	// Remote-desktop session audit.
	RecordSessionStart(ctx context.Context, session *SessionRecord) error
	RecordSessionEnd(ctx context.Context, id string, endedAt time.Time, frames, bytes int64) error
	ListSessions(ctx context.Context, hostID string) ([]*SessionRecord, error)

	// Close releases database resources.
	Close() error
}

// HostRecord is the persistent record for a managed host. ID is the
// "host:port" address the console dials.
type HostRecord struct {
	ID          string          `json:"id"`
	Host        string          `json:"host"`
	Port        int             `json:"port"`
	Hostname    string          `json:"hostname"`
	OS          string          `json:"os"`
	Fingerprint string          `json:"fingerprint"` // pinned agent identity
	SystemInfo  json.RawMessage `json:"system_info,omitempty"`
	AddedAt     time.Time       `json:"added_at"`
	LastSeen    time.Time       `json:"last_seen,omitzero"`
}

// SessionRecord audits one remote-desktop session run from the console.
type SessionRecord struct {
	ID        string     `json:"id"`
	HostID    string     `json:"host_id"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	Frames    int64      `json:"frames"`
	Bytes     int64      `json:"bytes"`
}
