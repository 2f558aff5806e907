// Command agent runs on a managed host. It serves the sealed command
// channel, reports telemetry, runs power actions and hosts remote-desktop
// sessions.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/avaropoint/mcc/internal/agent"
	"github.com/avaropoint/mcc/internal/capture"
	"github.com/avaropoint/mcc/internal/dispatch"
	"github.com/avaropoint/mcc/internal/hostinfo"
	"github.com/avaropoint/mcc/internal/input"
	"github.com/avaropoint/mcc/internal/protocol"
	"github.com/avaropoint/mcc/internal/rdp"
	"github.com/avaropoint/mcc/internal/security"
	"github.com/avaropoint/mcc/internal/version"
)

func main() {
	addr := flag.String("addr", ":5000", "Command channel listen address")
	rdpAddr := flag.String("rdp-addr", ":0", "Remote desktop frame listener address")
	dataDir := flag.String("data", "data", "Directory for the identity key and certificates")
	tlsMode := flag.String("tls", "off", "TLS mode: off, self-signed, custom, acme")
	certFile := flag.String("cert", "", "TLS certificate file (custom mode)")
	keyFile := flag.String("key", "", "TLS private key file (custom mode)")
	domain := flag.String("domain", "", "Comma-separated domains (acme mode)")
	captureMode := flag.String("capture", "screen", "Capture source: screen or pattern")
	display := flag.Int("display", 0, "Display index to capture")
	maxWidth := flag.Int("max-width", 0, "Downscale captures wider than this (0 keeps native size)")
	codecName := flag.String("codec", "png", "Frame codec: png (lossless, diffs) or jpeg")
	quality := flag.Int("quality", capture.DefaultJPEGQuality, "JPEG quality")
	interval := flag.Duration("interval", capture.DefaultInterval, "Capture interval")
	allowPower := flag.Bool("allow-power", false, "Allow power_management actions")
	allowExec := flag.Bool("allow-exec", false, "Allow execute_command (runs shell commands as the agent user)")
	logLevel := flag.String("log-level", "info", "Log level: debug, info, warn, error")
	flag.Parse()

	logger := newLogger(*logLevel)
	slog.SetDefault(logger)
	logger.Info(version.Banner("agent"))

	id, err := security.LoadOrCreateIdentity(*dataDir)
	if err != nil {
		fatal(logger, "load identity", err)
	}
	logger.Info("agent identity", "fingerprint", id.Fingerprint())

	mode, err := security.ParseTLSMode(*tlsMode)
	if err != nil {
		fatal(logger, "tls mode", err)
	}
	tlsResult, err := security.SetupTLS(security.TLSOptions{
		Mode:     mode,
		DataDir:  *dataDir,
		CertFile: *certFile,
		KeyFile:  *keyFile,
		Domains:  splitList(*domain),
	})
	if err != nil {
		fatal(logger, "tls setup", err)
	}
	if tlsResult.Paths != nil {
		logger.Info("self-signed TLS", "ca", tlsResult.Paths.CACertPath)
	}

	codec, err := capture.NewCodec(*codecName, *quality)
	if err != nil {
		fatal(logger, "codec", err)
	}

	var grabber capture.Grabber
	var displays func() []protocol.DisplayInfo
	switch *captureMode {
	case "screen":
		grabber = &capture.ScreenGrabber{Display: *display, MaxWidth: *maxWidth}
		displays = capture.Displays
	case "pattern":
		grabber = &capture.PatternGrabber{}
	default:
		fatal(logger, "capture", fmt.Errorf("unknown capture mode %q", *captureMode))
	}

	supervisor := rdp.NewSupervisor(rdp.Config{
		Addr:        *rdpAddr,
		TLS:         tlsResult.Config,
		Grabber:     grabber,
		Codec:       codec,
		Interval:    *interval,
		NewInjector: func() input.Injector { return input.NewInjector(logger) },
		Logger:      logger,
	})

	d := dispatch.New(logger)
	handlers := &agent.Handlers{
		Info: hostinfo.NewCollector(hostinfo.Config{
			Fingerprint: id.Fingerprint(),
			Displays:    displays,
			Logger:      logger,
		}),
		Power: hostinfo.NewExecPower(*allowPower),
		RDP:   supervisor,
		Log:   logger,
	}
	if *allowExec {
		handlers.Exec = hostinfo.NewShellRunner(true)
		logger.Warn("execute_command enabled")
	}
	handlers.Register(d)

	srv, err := agent.NewServer(agent.Config{
		Addr:       *addr,
		TLS:        tlsResult.Config,
		Identity:   id,
		Dispatcher: d,
		Logger:     logger,
	})
	if err != nil {
		fatal(logger, "server", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ln, err := srv.Listen(ctx)
	if err != nil {
		fatal(logger, "listen", err)
	}
	logger.Info("agent ready", "addr", ln.Addr().String(), "tls", mode.String(), "capture", *captureMode,
		"codec", codec.Name(), "power", *allowPower)

	err = srv.Serve(ctx, ln)
	if stopErr := supervisor.Stop(); stopErr == nil {
		logger.Info("remote desktop session closed on shutdown")
	}
	if err != nil {
		fatal(logger, "serve", err)
	}
	logger.Info("agent stopped")
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

func fatal(logger *slog.Logger, what string, err error) {
	logger.Error(what+" failed", "error", err)
	os.Exit(1)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
