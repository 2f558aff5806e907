// Command console manages a fleet of agents: it keeps their command
// channels open, runs one-off commands and opens remote-desktop sessions.
package main

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"image"
	"image/png"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"text/tabwriter"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/avaropoint/mcc/internal/console"
	"github.com/avaropoint/mcc/internal/protocol"
	"github.com/avaropoint/mcc/internal/security"
	"github.com/avaropoint/mcc/internal/store"
	"github.com/avaropoint/mcc/internal/version"
)

// connectTimeout bounds the wait for hosts before a one-off command.
const connectTimeout = 15 * time.Second

type options struct {
	hosts       []string
	dbPath      string
	useTLS      bool
	caFile      string
	insecure    bool
	cmdType     string
	cmdData     string
	rdpHost     string
	rdpDuration time.Duration
	snapshot    string
}

func main() {
	var opts options
	hosts := flag.String("hosts", "", "Comma-separated agent addresses (host[:port]) to add")
	flag.StringVar(&opts.dbPath, "db", "console.db", "SQLite database for the host registry")
	flag.BoolVar(&opts.useTLS, "tls", false, "Wrap command channels in TLS")
	flag.StringVar(&opts.caFile, "ca", "", "CA certificate that signs agent certificates (implies -tls)")
	flag.BoolVar(&opts.insecure, "insecure", false, "Skip agent certificate verification (implies -tls)")
	flag.StringVar(&opts.cmdType, "cmd", "", "Run one command on every host and print the responses")
	flag.StringVar(&opts.cmdData, "data", "{}", "JSON data for -cmd")
	flag.StringVar(&opts.rdpHost, "rdp", "", "Open a remote desktop session to this host")
	flag.DurationVar(&opts.rdpDuration, "rdp-duration", 10*time.Second, "How long to keep the remote desktop session open")
	flag.StringVar(&opts.snapshot, "snapshot", "", "Write the last remote desktop frame to this PNG file")
	logLevel := flag.String("log-level", "info", "Log level: debug, info, warn, error")
	flag.Parse()
	opts.hosts = splitList(*hosts)

	logger := newLogger(*logLevel)
	slog.SetDefault(logger)
	logger.Info(version.Banner("console"))

	if err := run(logger, opts); err != nil {
		logger.Error("console failed", "error", err)
		os.Exit(1)
	}
}

// run owns every resource the console opens, so deferred cleanup always
// happens before main exits.
func run(logger *slog.Logger, opts options) error {
	tlsConf, err := clientTLS(opts.useTLS, opts.caFile, opts.insecure)
	if err != nil {
		return fmt.Errorf("tls: %w", err)
	}

	db, err := store.NewSQLiteStore(opts.dbPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	fleet := console.NewFleet(console.FleetConfig{Store: db, TLS: tlsConf, Logger: logger})
	defer fleet.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := fleet.Load(ctx); err != nil {
		return fmt.Errorf("load hosts: %w", err)
	}
	for _, addr := range opts.hosts {
		host, port, err := console.ParseHostAddr(addr)
		if err != nil {
			return err
		}
		if _, err := fleet.Add(ctx, host, port); err != nil && !errors.Is(err, console.ErrHostExists) {
			return fmt.Errorf("add host: %w", err)
		}
	}

	switch {
	case opts.cmdType != "":
		var data map[string]any
		if err := json.Unmarshal([]byte(opts.cmdData), &data); err != nil {
			return fmt.Errorf("parse -data: %w", err)
		}
		return runCommand(ctx, fleet, protocol.Command{Type: opts.cmdType, Data: data})
	case opts.rdpHost != "":
		viewer := console.NewViewer(fleet, console.ViewerConfig{TLS: tlsConf, Store: db, Logger: logger})
		return runRemoteDesktop(ctx, fleet, viewer, opts.rdpHost, opts.rdpDuration, opts.snapshot, logger)
	default:
		monitor(ctx, fleet)
		return nil
	}
}

func clientTLS(useTLS bool, caFile string, insecure bool) (*tls.Config, error) {
	if !useTLS && caFile == "" && !insecure {
		return nil, nil
	}
	return security.ClientTLSConfig(caFile, insecure)
}

// waitHosts waits until every host is connected or the timeout passes.
func waitHosts(ctx context.Context, fleet *console.Fleet, ids []string) error {
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	for _, id := range ids {
		g.Go(func() error { return fleet.WaitConnected(gctx, id) })
	}
	return g.Wait()
}

// runCommand sends cmd to every connected host concurrently and prints
// each response as JSON.
func runCommand(ctx context.Context, fleet *console.Fleet, cmd protocol.Command) error {
	hosts := fleet.List()
	if len(hosts) == 0 {
		return errors.New("no hosts; add some with -hosts")
	}
	ids := make([]string, len(hosts))
	for i, h := range hosts {
		ids[i] = h.ID
	}
	if err := waitHosts(ctx, fleet, ids); err != nil {
		slog.Warn("not every host is connected", "error", err)
	}

	var mu sync.Mutex
	results := make(map[string]any, len(ids))
	var g errgroup.Group
	for _, id := range ids {
		g.Go(func() error {
			resp, err := fleet.Send(ctx, id, cmd)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				results[id] = map[string]string{"status": protocol.StatusError, "message": err.Error()}
				return nil
			}
			results[id] = resp
			return nil
		})
	}
	g.Wait()

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(results)
}

// runRemoteDesktop streams one host's screen for d, then prints the
// session statistics and optionally saves the last frame.
func runRemoteDesktop(ctx context.Context, fleet *console.Fleet, viewer *console.Viewer, addr string, d time.Duration, snapshot string, logger *slog.Logger) error {
	host, port, err := console.ParseHostAddr(addr)
	if err != nil {
		return err
	}
	id := console.HostID(host, port)
	if _, err := fleet.Get(id); err != nil {
		if _, err := fleet.Add(ctx, host, port); err != nil {
			return err
		}
	}
	if err := waitHosts(ctx, fleet, []string{id}); err != nil {
		return err
	}

	var mu sync.Mutex
	var last *image.NRGBA
	sink := console.FrameSinkFunc(func(img *image.NRGBA) error {
		mu.Lock()
		last = img
		mu.Unlock()
		return nil
	})

	if _, err := viewer.StartRemoteDesktop(ctx, id, sink); err != nil {
		return err
	}

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	case <-viewer.Done():
		logger.Warn("frame stream ended early")
	}

	stats, err := viewer.Stop(context.WithoutCancel(ctx))
	if err != nil {
		logger.Warn("stop", "error", err)
	}
	fmt.Printf("%s: %d frames, %d bytes in %s\n", id, stats.Frames, stats.Bytes, d)

	mu.Lock()
	img := last
	mu.Unlock()
	if snapshot == "" || img == nil {
		return nil
	}
	return writePNG(snapshot, img)
}

func writePNG(path string, img *image.NRGBA) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// monitor prints the fleet table every heartbeat until interrupted.
func monitor(ctx context.Context, fleet *console.Fleet) {
	t := time.NewTicker(console.DefaultHeartbeat)
	defer t.Stop()
	for {
		printFleet(fleet.List())
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

func printFleet(hosts []console.Host) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "HOST\tSTATUS\tHOSTNAME\tOS\tLAST SEEN\tFINGERPRINT")
	for _, h := range hosts {
		seen := "-"
		if !h.LastSeen.IsZero() {
			seen = time.Since(h.LastSeen).Truncate(time.Second).String() + " ago"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", h.ID, h.Status, h.Hostname, h.OS, seen, h.Fingerprint)
	}
	w.Flush()
	fmt.Println()
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
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
