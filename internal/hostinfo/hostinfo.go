// Package hostinfo collects the telemetry the agent reports on the
// command channel: static system details, hardware load and network
// activity.
package hostinfo

import (
	"context"
	"log/slog"
	"net"
	"os"
	"os/user"
	"runtime"
	"strconv"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/mem"
	psnet "github.com/shirou/gopsutil/v4/net"

	"github.com/avaropoint/mcc/internal/protocol"
	"github.com/avaropoint/mcc/internal/version"
)

// SystemInfo holds everything we can discover about the host device.
type SystemInfo struct {
	Hostname        string                 `json:"hostname"`
	OS              string                 `json:"os"`
	Platform        string                 `json:"platform"`
	PlatformVersion string                 `json:"platform_version"`
	KernelVersion   string                 `json:"kernel_version"`
	Arch            string                 `json:"arch"`
	CPUModel        string                 `json:"cpu_model,omitempty"`
	CPUCount        int                    `json:"cpu_count"`
	MemoryTotal     uint64                 `json:"memory_total"`
	DiskPartitions  []string               `json:"disk_partitions"`
	Displays        []protocol.DisplayInfo `json:"displays"`
	LocalIPs        []string               `json:"local_ips"`
	Username        string                 `json:"username"`
	UptimeSeconds   uint64                 `json:"uptime_seconds"`
	AgentVersion    string                 `json:"agent_version"`
	Fingerprint     string                 `json:"fingerprint,omitempty"`
}

// DiskUsage is the usage of one mounted partition.
type DiskUsage struct {
	Total       uint64  `json:"total"`
	Used        uint64  `json:"used"`
	Free        uint64  `json:"free"`
	UsedPercent float64 `json:"percent"`
}

// IOCounters are cumulative network counters across all interfaces.
type IOCounters struct {
	BytesSent   uint64 `json:"bytes_sent"`
	BytesRecv   uint64 `json:"bytes_recv"`
	PacketsSent uint64 `json:"packets_sent"`
	PacketsRecv uint64 `json:"packets_recv"`
	ErrIn       uint64 `json:"errin"`
	ErrOut      uint64 `json:"errout"`
	DropIn      uint64 `json:"dropin"`
	DropOut     uint64 `json:"dropout"`
}

// MemoryUsage is a virtual memory snapshot.
type MemoryUsage struct {
	Total       uint64  `json:"total"`
	Available   uint64  `json:"available"`
	Used        uint64  `json:"used"`
	UsedPercent float64 `json:"percent"`
}

// HardwareStats is the hardware_monitor result.
type HardwareStats struct {
	CPUPercent  float64              `json:"cpu_percent"`
	MemoryUsage MemoryUsage          `json:"memory_usage"`
	DiskUsage   map[string]DiskUsage `json:"disk_usage"`
	NetworkIO   IOCounters           `json:"network_io"`
}

// Connection is one socket from the host's connection table.
type Connection struct {
	Family     uint32 `json:"family"`
	Type       uint32 `json:"type"`
	LocalAddr  string `json:"laddr"`
	RemoteAddr string `json:"raddr,omitempty"`
	Status     string `json:"status"`
	PID        int32  `json:"pid"`
}

// NetworkStats is the network_monitor result.
type NetworkStats struct {
	Connections []Connection `json:"connections"`
	IOCounters  IOCounters   `json:"io_counters"`
}

// Config configures a Collector.
type Config struct {
	// Fingerprint of the agent identity, reported in SystemInfo.
	Fingerprint string
	// Displays lists attached displays. Nil reports none.
	Displays func() []protocol.DisplayInfo
	// CPUSampleInterval is how long hardware_monitor samples CPU load.
	CPUSampleInterval time.Duration
	Logger            *slog.Logger
}

// Collector gathers host telemetry through gopsutil.
type Collector struct {
	cfg Config
	log *slog.Logger
}

// NewCollector creates a collector.
func NewCollector(cfg Config) *Collector {
	if cfg.CPUSampleInterval <= 0 {
		cfg.CPUSampleInterval = time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Collector{cfg: cfg, log: cfg.Logger.With("component", "hostinfo")}
}

// SystemInfo gathers static device details. Individual lookups that fail
// leave their fields empty.
func (c *Collector) SystemInfo(ctx context.Context) SystemInfo {
	info := SystemInfo{
		Hostname:     getHostname(),
		OS:           runtime.GOOS,
		Arch:         runtime.GOARCH,
		CPUCount:     runtime.NumCPU(),
		AgentVersion: version.Version,
		Fingerprint:  c.cfg.Fingerprint,
	}

	if h, err := host.InfoWithContext(ctx); err == nil {
		info.Platform = h.Platform
		info.PlatformVersion = h.PlatformVersion
		info.KernelVersion = h.KernelVersion
		info.UptimeSeconds = h.Uptime
	} else {
		c.log.Debug("host info unavailable", "error", err)
	}

	if n, err := cpu.CountsWithContext(ctx, true); err == nil && n > 0 {
		info.CPUCount = n
	}
	if ci, err := cpu.InfoWithContext(ctx); err == nil && len(ci) > 0 {
		info.CPUModel = ci[0].ModelName
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		info.MemoryTotal = vm.Total
	}
	if parts, err := disk.PartitionsWithContext(ctx, false); err == nil {
		for _, p := range parts {
			info.DiskPartitions = append(info.DiskPartitions, p.Mountpoint)
		}
	}

	if c.cfg.Displays != nil {
		info.Displays = c.cfg.Displays()
	}
	info.LocalIPs = collectLocalIPs()
	if u, err := user.Current(); err == nil {
		info.Username = u.Username
	}
	return info
}

// Hardware samples CPU, memory, per-partition disk usage and network
// counters. Partitions that cannot be read (empty card readers, network
// mounts that went away) are skipped.
func (c *Collector) Hardware(ctx context.Context) (HardwareStats, error) {
	var stats HardwareStats

	pct, err := cpu.PercentWithContext(ctx, c.cfg.CPUSampleInterval, false)
	if err != nil {
		return stats, err
	}
	if len(pct) > 0 {
		stats.CPUPercent = pct[0]
	}

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return stats, err
	}
	stats.MemoryUsage = MemoryUsage{Total: vm.Total, Available: vm.Available, Used: vm.Used, UsedPercent: vm.UsedPercent}

	stats.DiskUsage = make(map[string]DiskUsage)
	parts, err := disk.PartitionsWithContext(ctx, false)
	if err != nil {
		return stats, err
	}
	for _, p := range parts {
		u, err := disk.UsageWithContext(ctx, p.Mountpoint)
		if err != nil || u.Total == 0 {
			continue
		}
		stats.DiskUsage[p.Mountpoint] = DiskUsage{Total: u.Total, Used: u.Used, Free: u.Free, UsedPercent: u.UsedPercent}
	}

	stats.NetworkIO, err = ioCounters(ctx)
	return stats, err
}

// Network lists the host's inet connections and network counters.
func (c *Collector) Network(ctx context.Context) (NetworkStats, error) {
	var stats NetworkStats
	conns, err := psnet.ConnectionsWithContext(ctx, "inet")
	if err != nil {
		return stats, err
	}
	stats.Connections = make([]Connection, 0, len(conns))
	for _, cs := range conns {
		conn := Connection{
			Family:    cs.Family,
			Type:      cs.Type,
			LocalAddr: net.JoinHostPort(cs.Laddr.IP, itoa(cs.Laddr.Port)),
			Status:    cs.Status,
			PID:       cs.Pid,
		}
		if cs.Raddr.IP != "" {
			conn.RemoteAddr = net.JoinHostPort(cs.Raddr.IP, itoa(cs.Raddr.Port))
		}
		stats.Connections = append(stats.Connections, conn)
	}

	stats.IOCounters, err = ioCounters(ctx)
	return stats, err
}

func ioCounters(ctx context.Context) (IOCounters, error) {
	all, err := psnet.IOCountersWithContext(ctx, false)
	if err != nil {
		return IOCounters{}, err
	}
	if len(all) == 0 {
		return IOCounters{}, nil
	}
	s := all[0]
	return IOCounters{
		BytesSent: s.BytesSent, BytesRecv: s.BytesRecv,
		PacketsSent: s.PacketsSent, PacketsRecv: s.PacketsRecv,
		ErrIn: s.Errin, ErrOut: s.Errout, DropIn: s.Dropin, DropOut: s.Dropout,
	}, nil
}

// collectLocalIPs returns all non-loopback unicast IPv4/IPv6 addresses.
func collectLocalIPs() []string {
	var ips []string
	ifaces, err := net.Interfaces()
	if err != nil {
		return ips
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			if ip := extractIP(addr); ip != "" {
				ips = append(ips, ip)
			}
		}
	}
	return ips
}

// extractIP returns the string form of a non-loopback, non-link-local address.
func extractIP(addr net.Addr) string {
	var ip net.IP
	switch v := addr.(type) {
	case *net.IPNet:
		ip = v.IP
	case *net.IPAddr:
		ip = v.IP
	}
	if ip == nil || ip.IsLoopback() || ip.IsLinkLocalUnicast() {
		return ""
	}
	return ip.String()
}

func itoa(port uint32) string { return strconv.FormatUint(uint64(port), 10) }

// getHostname returns the system hostname or "unknown".
func getHostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return h
}
