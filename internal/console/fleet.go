package console

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/avaropoint/mcc/internal/hostinfo"
	"github.com/avaropoint/mcc/internal/protocol"
	"github.com/avaropoint/mcc/internal/store"
)

// DefaultPort is the agent's command-channel port.
const DefaultPort = 5000

// DefaultHeartbeat is the system_info polling period per host.
const DefaultHeartbeat = 5 * time.Second

var (
	ErrUnknownHost  = errors.New("unknown host")
	ErrHostExists   = errors.New("host already added")
	ErrNotConnected = fmt.Errorf("%w: host not connected", protocol.ErrConnectionLost)
)

// Status is a host's connection state as seen by the console.
type Status string

const (
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
	// StatusRejected means the host failed authentication, for example
	// because its identity no longer matches the pinned fingerprint.
	StatusRejected Status = "rejected"
)

// Host is a snapshot of one managed host.
type Host struct {
	ID          string          `json:"id"`
	Addr        string          `json:"addr"`
	Status      Status          `json:"status"`
	Hostname    string          `json:"hostname,omitempty"`
	OS          string          `json:"os,omitempty"`
	Fingerprint string          `json:"fingerprint,omitempty"`
	SystemInfo  json.RawMessage `json:"system_info,omitempty"`
	LastSeen    time.Time       `json:"last_seen,omitzero"`
	LastError   string          `json:"last_error,omitempty"`
}

// DialFunc opens a client connection. Tests substitute it.
type DialFunc func(ctx context.Context, addr string, tlsConf *tls.Config) (*Client, error)

// FleetConfig configures a Fleet.
type FleetConfig struct {
	Store     store.Store // optional
	TLS       *tls.Config
	Heartbeat time.Duration
	Backoff   Backoff
	Dial      DialFunc
	Logger    *slog.Logger
}

func (c FleetConfig) withDefaults() FleetConfig {
	if c.Heartbeat <= 0 {
		c.Heartbeat = DefaultHeartbeat
	}
	if c.Backoff.Initial <= 0 {
		c.Backoff.Initial = DefaultBackoffInitial
	}
	if c.Backoff.Max <= 0 {
		c.Backoff.Max = DefaultBackoffMax
	}
	if c.Dial == nil {
		c.Dial = Dial
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

type member struct {
	host   Host
	client *Client
	cancel context.CancelFunc
	done   chan struct{}
}

// Fleet keeps a supervised command channel open to every managed host.
// It is the single owner of the host registry; callers only see copies.
type Fleet struct {
	cfg FleetConfig
	log *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.Mutex
	hosts map[string]*member
}

// NewFleet creates an empty fleet whose host loops run until Close.
func NewFleet(cfg FleetConfig) *Fleet {
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Fleet{
		cfg:    cfg,
		log:    cfg.Logger.With("component", "fleet"),
		ctx:    ctx,
		cancel: cancel,
		hosts:  make(map[string]*member),
	}
}

// HostID is the registry key for an agent address.
func HostID(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// ParseHostAddr splits "host[:port]", applying DefaultPort.
func ParseHostAddr(s string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		// No port given.
		host, portStr = s, strconv.Itoa(DefaultPort)
	}
	if host == "" {
		return "", 0, fmt.Errorf("missing host in %q", s)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return "", 0, fmt.Errorf("invalid port in %q", s)
	}
	return host, port, nil
}

// Load adds every host persisted in the store.
func (f *Fleet) Load(ctx context.Context) error {
	if f.cfg.Store == nil {
		return nil
	}
	records, err := f.cfg.Store.ListHosts(ctx)
	if err != nil {
		return fmt.Errorf("load hosts: %w", err)
	}
	for _, r := range records {
		f.add(Host{
			ID:          r.ID,
			Addr:        r.ID,
			Status:      StatusConnecting,
			Hostname:    r.Hostname,
			OS:          r.OS,
			Fingerprint: r.Fingerprint,
			SystemInfo:  r.SystemInfo,
			LastSeen:    r.LastSeen,
		})
	}
	return nil
}

// Add registers a host, persists it and starts its connection loop.
func (f *Fleet) Add(ctx context.Context, host string, port int) (string, error) {
	if host == "" {
		return "", errors.New("host is required")
	}
	if port <= 0 || port > 65535 {
		return "", fmt.Errorf("port %d out of range", port)
	}
	id := HostID(host, port)

	f.mu.Lock()
	_, exists := f.hosts[id]
	f.mu.Unlock()
	if exists {
		return "", fmt.Errorf("%w: %s", ErrHostExists, id)
	}

	if f.cfg.Store != nil {
		if err := f.cfg.Store.UpsertHost(ctx, &store.HostRecord{ID: id, Host: host, Port: port}); err != nil {
			return "", fmt.Errorf("persist host: %w", err)
		}
	}
	if !f.add(Host{ID: id, Addr: id, Status: StatusConnecting}) {
		return "", fmt.Errorf("%w: %s", ErrHostExists, id)
	}
	return id, nil
}

func (f *Fleet) add(h Host) bool {
	ctx, cancel := context.WithCancel(f.ctx)
	m := &member{host: h, cancel: cancel, done: make(chan struct{})}

	f.mu.Lock()
	if _, ok := f.hosts[h.ID]; ok {
		f.mu.Unlock()
		cancel()
		return false
	}
	f.hosts[h.ID] = m
	f.mu.Unlock()

	go func() {
		defer close(m.done)
		f.supervise(ctx, m)
	}()
	f.log.Info("host added", "host", h.ID)
	return true
}

// Remove stops a host's loop, closes its channel and forgets it.
func (f *Fleet) Remove(ctx context.Context, id string) error {
	f.mu.Lock()
	m, ok := f.hosts[id]
	if ok {
		delete(f.hosts, id)
	}
	f.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownHost, id)
	}

	m.cancel()
	<-m.done
	if f.cfg.Store != nil {
		if err := f.cfg.Store.DeleteHost(ctx, id); err != nil {
			return fmt.Errorf("delete host: %w", err)
		}
	}
	f.log.Info("host removed", "host", id)
	return nil
}

// Get returns a snapshot of one host.
func (f *Fleet) Get(id string) (Host, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.hosts[id]
	if !ok {
		return Host{}, fmt.Errorf("%w: %s", ErrUnknownHost, id)
	}
	return m.host, nil
}

// List returns snapshots of all hosts ordered by ID.
func (f *Fleet) List() []Host {
	f.mu.Lock()
	out := make([]Host, 0, len(f.hosts))
	for _, m := range f.hosts {
		out = append(out, m.host)
	}
	f.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Send runs one command on a connected host. A transport failure drops
// the channel; the host loop then redials with backoff.
func (f *Fleet) Send(ctx context.Context, id string, cmd protocol.Command) (protocol.Response, error) {
	f.mu.Lock()
	m, ok := f.hosts[id]
	var client *Client
	if ok {
		client = m.client
	}
	f.mu.Unlock()
	if !ok {
		return protocol.Response{}, fmt.Errorf("%w: %s", ErrUnknownHost, id)
	}
	if client == nil {
		return protocol.Response{}, ErrNotConnected
	}

	resp, err := client.RoundTrip(ctx, cmd)
	if err != nil {
		return protocol.Response{}, err
	}
	f.touch(m, client)
	return resp, nil
}

// WaitConnected blocks until the host has a live channel or ctx ends.
func (f *Fleet) WaitConnected(ctx context.Context, id string) error {
	t := time.NewTicker(50 * time.Millisecond)
	defer t.Stop()
	for {
		h, err := f.Get(id)
		if err != nil {
			return err
		}
		if h.Status == StatusConnected {
			return nil
		}
		select {
		case <-ctx.Done():
			if h.LastError != "" {
				return fmt.Errorf("%s: %s: %w", id, h.LastError, ctx.Err())
			}
			return ctx.Err()
		case <-t.C:
		}
	}
}

// Close stops every host loop and closes their channels.
func (f *Fleet) Close() {
	f.cancel()
	f.mu.Lock()
	members := make([]*member, 0, len(f.hosts))
	for _, m := range f.hosts {
		members = append(members, m)
	}
	f.mu.Unlock()
	for _, m := range members {
		<-m.done
	}
}

// supervise keeps one host connected: dial, pin, heartbeat, and on any
// failure wait out the backoff and start again.
func (f *Fleet) supervise(ctx context.Context, m *member) {
	log := f.log.With("host", m.host.ID)
	backoff := f.cfg.Backoff

	for {
		err := f.connect(ctx, m, log)
		if err == nil {
			backoff.Reset()
			err = f.heartbeat(ctx, m)
			f.detach(m)
		}
		if ctx.Err() != nil {
			return
		}

		status := StatusDisconnected
		if errors.Is(err, protocol.ErrAuthentication) {
			status = StatusRejected
		}
		delay := backoff.Next()
		f.setStatus(m, status, err)
		log.Warn("host unavailable", "status", status, "transient", protocol.IsTransient(err), "error", err, "retry_in", delay)

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
		f.setStatus(m, StatusConnecting, nil)
	}
}

// connect dials the host and checks its identity against the pinned
// fingerprint. The first identity seen is pinned.
func (f *Fleet) connect(ctx context.Context, m *member, log *slog.Logger) error {
	client, err := f.cfg.Dial(ctx, m.host.Addr, f.cfg.TLS)
	if err != nil {
		return err
	}

	f.mu.Lock()
	pinned := m.host.Fingerprint
	f.mu.Unlock()
	fp := client.Fingerprint()
	if pinned != "" && pinned != fp {
		client.Close()
		return fmt.Errorf("%w: host identity changed: pinned %s, got %s", protocol.ErrAuthentication, pinned, fp)
	}

	f.mu.Lock()
	m.client = client
	m.host.Fingerprint = fp
	m.host.Status = StatusConnected
	m.host.LastError = ""
	m.host.LastSeen = time.Now()
	f.mu.Unlock()

	if pinned == "" {
		log.Info("pinned host identity", "fingerprint", fp)
		f.persist(ctx, m)
	}
	log.Info("host connected", "fingerprint", fp)
	return nil
}

// heartbeat refreshes system_info until the channel fails.
func (f *Fleet) heartbeat(ctx context.Context, m *member) error {
	f.mu.Lock()
	client := m.client
	f.mu.Unlock()

	t := time.NewTicker(f.cfg.Heartbeat)
	defer t.Stop()
	for {
		var info hostinfo.SystemInfo
		resp, err := client.RoundTrip(ctx, protocol.Command{Type: protocol.CmdSystemInfo})
		if err != nil {
			return err
		}
		changed := false
		if err := resp.Bind(&info); err == nil {
			f.mu.Lock()
			changed = !bytes.Equal(m.host.SystemInfo, resp.Data)
			m.host.SystemInfo = resp.Data
			m.host.Hostname = info.Hostname
			m.host.OS = info.OS
			f.mu.Unlock()
		}
		f.touch(m, client)
		if changed {
			f.persist(ctx, m)
		} else if f.cfg.Store != nil {
			if err := f.cfg.Store.TouchHost(ctx, m.host.ID, time.Now()); err != nil && ctx.Err() == nil {
				f.log.Warn("touch host failed", "host", m.host.ID, "error", err)
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}

// touch records liveness after a successful round trip on client.
func (f *Fleet) touch(m *member, client *Client) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if m.client == client {
		m.host.LastSeen = time.Now()
	}
}

func (f *Fleet) detach(m *member) {
	f.mu.Lock()
	client := m.client
	m.client = nil
	f.mu.Unlock()
	if client != nil {
		client.Close()
	}
}

func (f *Fleet) setStatus(m *member, status Status, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m.host.Status = status
	if err != nil {
		m.host.LastError = err.Error()
	}
}

func (f *Fleet) persist(ctx context.Context, m *member) {
	if f.cfg.Store == nil {
		return
	}
	f.mu.Lock()
	h := m.host
	f.mu.Unlock()

	host, portStr, _ := net.SplitHostPort(h.ID)
	port, _ := strconv.Atoi(portStr)
	err := f.cfg.Store.UpsertHost(ctx, &store.HostRecord{
		ID:          h.ID,
		Host:        host,
		Port:        port,
		Hostname:    h.Hostname,
		OS:          h.OS,
		Fingerprint: h.Fingerprint,
		SystemInfo:  h.SystemInfo,
		LastSeen:    h.LastSeen,
	})
	if err != nil && ctx.Err() == nil {
		f.log.Warn("persist host failed", "host", h.ID, "error", err)
	}
}
