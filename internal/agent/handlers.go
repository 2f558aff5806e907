package agent

import (
	"context"
	"errors"
	"log/slog"
	"net"

	"github.com/avaropoint/mcc/internal/dispatch"
	"github.com/avaropoint/mcc/internal/hostinfo"
	"github.com/avaropoint/mcc/internal/protocol"
	"github.com/avaropoint/mcc/internal/rdp"
)

// InfoSource provides the telemetry behind the monitoring commands.
type InfoSource interface {
	SystemInfo(ctx context.Context) hostinfo.SystemInfo
	Hardware(ctx context.Context) (hostinfo.HardwareStats, error)
	Network(ctx context.Context) (hostinfo.NetworkStats, error)
}

// RemoteDesktop starts and stops the frame endpoint.
type RemoteDesktop interface {
	Start(ctx context.Context) (protocol.RDPEndpoint, error)
	Stop() error
}

// Handlers implements the agent's command vocabulary.
type Handlers struct {
	Info  InfoSource
	Power hostinfo.PowerController
	Exec  hostinfo.CommandRunner // nil leaves execute_command unregistered
	RDP   RemoteDesktop
	Log   *slog.Logger
}

// Register installs every handler on d.
func (h *Handlers) Register(d *dispatch.Dispatcher) {
	if h.Log == nil {
		h.Log = slog.Default()
	}
	d.Handle(protocol.CmdSystemInfo, h.systemInfo)
	d.Handle(protocol.CmdHardwareMonitor, dispatch.Result(h.Info.Hardware))
	d.Handle(protocol.CmdNetworkMonitor, dispatch.Result(h.Info.Network))
	d.Handle(protocol.CmdPowerManagement, dispatch.Bind(h.power))
	d.Handle(protocol.CmdStartRDP, h.startRDP)
	d.Handle(protocol.CmdStopRDP, h.stopRDP)
	if h.Exec != nil {
		d.Handle(protocol.CmdExecuteCommand, dispatch.Bind(h.execute))
	}
}

func (h *Handlers) systemInfo(ctx context.Context, _ protocol.Command) protocol.Response {
	return protocol.Success(h.Info.SystemInfo(ctx))
}

func (h *Handlers) power(ctx context.Context, req hostinfo.PowerRequest) protocol.Response {
	if req.Action == "" {
		return protocol.Failure("power_management requires an action")
	}
	if err := h.Power.Power(ctx, req); err != nil {
		h.Log.Warn("power action failed", "action", req.Action, "error", err)
		return protocol.Failure("%s: %v", req.Action, err)
	}
	h.Log.Info("power action issued", "action", req.Action)
	return protocol.Success(map[string]string{"message": "power action " + req.Action + " issued"})
}

func (h *Handlers) execute(ctx context.Context, req hostinfo.ExecRequest) protocol.Response {
	res, err := h.Exec.Exec(ctx, req)
	if err != nil {
		h.Log.Warn("command execution failed", "error", err)
		return protocol.Failure("execute_command: %v", err)
	}
	h.Log.Info("command executed", "return_code", res.ReturnCode)
	return protocol.Success(res)
}

func (h *Handlers) startRDP(ctx context.Context, _ protocol.Command) protocol.Response {
	ep, err := h.RDP.Start(ctx)
	if err != nil {
		return protocol.Failure("start remote desktop: %v", err)
	}
	// A wildcard listener is reachable on whatever address the console
	// already used to reach us.
	if ip := net.ParseIP(ep.IP); ip == nil || ip.IsUnspecified() {
		if local := connIP(LocalAddr(ctx)); local != "" {
			ep.IP = local
		}
	}
	return protocol.Success(ep)
}

func (h *Handlers) stopRDP(context.Context, protocol.Command) protocol.Response {
	err := h.RDP.Stop()
	switch {
	case errors.Is(err, rdp.ErrNoSession):
		return protocol.Success(map[string]string{"message": "no active session"})
	case err != nil:
		// Teardown always leaves the supervisor idle, so report success.
		h.Log.Warn("remote desktop teardown", "error", err)
	}
	return protocol.Success(map[string]string{"message": "remote desktop stopped"})
}

func connIP(addr net.Addr) string {
	switch a := addr.(type) {
	case *net.TCPAddr:
		return a.IP.String()
	case nil:
		return ""
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return ""
	}
	return host
}
