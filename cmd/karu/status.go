package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/4xmen/karu/internal/cache"
	"github.com/4xmen/karu/internal/store"
	"github.com/4xmen/karu/pkg/config"
)

const statusTimeout = 5 * time.Second

type appStatus struct {
	GeneratedAt    time.Time
	Environment    string
	Port           string
	StoreDriver    string
	CacheDriver    string
	Stats          *store.Stats
	StoreWarning   string
	CacheReachable bool
	CacheWarning   string
}

type statusOptions struct {
	JSON bool
}

func parseStatusArgs(args []string) (statusOptions, error) {
	opts := statusOptions{}
	for _, arg := range args {
		switch arg {
		case "--json", "-j":
			opts.JSON = true
		default:
			return opts, fmt.Errorf("unknown status flag: %s", arg)
		}
	}
	return opts, nil
}

func runStatus(cfg *config.Config, log *zap.Logger, out io.Writer, args []string) error {
	opts, err := parseStatusArgs(args)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), statusTimeout)
	defer cancel()

	status := appStatus{
		GeneratedAt: time.Now(),
		Environment: cfg.Environment,
		Port:        cfg.Port,
		StoreDriver: cfg.StoreDriver,
		CacheDriver: cfg.CacheDriver,
	}

	st, err := openStore(ctx, cfg, log)
	if err != nil {
		status.StoreWarning = fmt.Sprintf("store unavailable: %v", err)
	} else {
		defer st.Close()
	}
	kv, err := openCache(cfg, log)
	if err != nil {
		status.CacheWarning = err.Error()
	} else {
		defer kv.Close()
	}

	collectStatus(ctx, &status, st, kv)
	if opts.JSON {
		return printStatusJSON(out, status)
	}
	printStatus(out, status)
	return nil
}

// collectStatus fills in what st and kv report. Either may be nil when it
// could not be opened.
func collectStatus(ctx context.Context, status *appStatus, st store.Store, kv cache.Cache) {
	if st != nil {
		stats, err := st.Stats(ctx)
		if err != nil {
			status.StoreWarning = fmt.Sprintf("could not read store stats: %v", err)
		} else {
			status.Stats = stats
		}
	}
	if kv != nil {
		if err := kv.Ping(ctx); err != nil {
			status.CacheWarning = fmt.Sprintf("cache unreachable: %v", err)
		} else {
			status.CacheReachable = true
		}
	}
}

func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

func printStatus(out io.Writer, status appStatus) {
	fmt.Fprintln(out, "Karu Status")
	fmt.Fprintf(out, "Generated at: %s\n", status.GeneratedAt.Format(time.RFC3339))
	fmt.Fprintf(out, "Environment : %s\n", status.Environment)
	fmt.Fprintf(out, "Port        : %s\n", status.Port)
	fmt.Fprintf(out, "Store       : %s\n", status.StoreDriver)
	fmt.Fprintf(out, "Cache       : %s\n", status.CacheDriver)
	fmt.Fprintln(out)

	fmt.Fprintln(out, "Data")
	if s := status.Stats; s != nil {
		fmt.Fprintf(out, "  Users         : %d\n", s.Users)
		fmt.Fprintf(out, "  Profiles      : %d\n", s.Profiles)
		fmt.Fprintf(out, "  Chats         : %d\n", s.Chats)
		fmt.Fprintf(out, "  Messages      : %d\n", s.Messages)
		fmt.Fprintf(out, "  Notifications : %d\n", s.Notifications)
		fmt.Fprintf(out, "  Storage size  : %s\n", formatBytes(s.SizeBytes))
	} else {
		fmt.Fprintln(out, "  Store metrics : n/a")
	}
	fmt.Fprintln(out)

	reach := "unreachable"
	if status.CacheReachable {
		reach = "ok"
	}
	fmt.Fprintf(out, "Cache ping    : %s\n", reach)

	for _, w := range []string{status.StoreWarning, status.CacheWarning} {
		if w != "" {
			fmt.Fprintf(out, "Warning: %s\n", w)
		}
	}
}

func printStatusJSON(out io.Writer, status appStatus) error {
	payload := map[string]any{
		"generated_at": status.GeneratedAt.Format(time.RFC3339),
		"environment":  status.Environment,
		"port":         status.Port,
		"store_driver": status.StoreDriver,
		"cache_driver": status.CacheDriver,
		"stats":        status.Stats,
		"cache": map[string]any{
			"reachable": status.CacheReachable,
		},
		"warnings": map[string]any{
			"store": status.StoreWarning,
			"cache": status.CacheWarning,
		},
	}
	if status.Stats != nil {
		payload["storage_hum"] = formatBytes(status.Stats.SizeBytes)
	}

	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(payload)
}
