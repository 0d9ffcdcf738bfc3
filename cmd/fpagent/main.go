// fpagent is the device-side agent: it captures field check-in events into
// an encrypted local queue and syncs them to the fieldproof server.
package main

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/fieldproof/fieldproof/internal/agent/capture"
	"github.com/fieldproof/fieldproof/internal/agent/client"
	"github.com/fieldproof/fieldproof/internal/agent/credstore"
	"github.com/fieldproof/fieldproof/internal/agent/queue"
	syncengine "github.com/fieldproof/fieldproof/internal/agent/sync"
	"github.com/fieldproof/fieldproof/internal/domain"
)

var (
	dataDir   string
	serverURL string
	deviceKey string
)

func main() {
	home, _ := os.UserHomeDir()
	defaultDir := filepath.Join(home, ".fpagent")

	rootCmd := &cobra.Command{
		Use:   "fpagent",
		Short: "Offline-first field check-in capture and sync",
	}

	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", defaultDir, "local data directory")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", os.Getenv("FPAGENT_SERVER"), "fieldproof server URL")
	rootCmd.PersistentFlags().StringVar(&deviceKey, "device-key", os.Getenv("FPAGENT_DEVICE_KEY"), "device API key")

	rootCmd.AddCommand(captureCmd())
	rootCmd.AddCommand(syncCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(registerCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// agentKey returns the device-held 32-byte encryption key from
// FPAGENT_QUEUE_KEY (64 hex characters). It seals both the queue and the
// credential file.
func agentKey() ([]byte, error) {
	keyHex := os.Getenv("FPAGENT_QUEUE_KEY")
	if keyHex == "" {
		return nil, fmt.Errorf("FPAGENT_QUEUE_KEY is not set")
	}
	key, err := hex.DecodeString(keyHex)
	if err != nil {
		return nil, fmt.Errorf("FPAGENT_QUEUE_KEY must be hex: %w", err)
	}
	return key, nil
}

func openQueue() (*queue.Queue, error) {
	key, err := agentKey()
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	return queue.Open(filepath.Join(dataDir, "queue.db"), key)
}

func openCredStore() (*credstore.Store, error) {
	key, err := agentKey()
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	return credstore.Open(filepath.Join(dataDir, "credentials.enc"), key)
}

// newClient builds the server client from flags and environment, falling
// back to credentials stored by `fpagent register`.
func newClient() (*client.Client, error) {
	url, key := serverURL, deviceKey

	if url == "" || key == "" {
		store, err := openCredStore()
		if err == nil {
			if creds, loadErr := store.Load(); loadErr == nil {
				if url == "" {
					url = creds.ServerURL
				}
				if key == "" {
					key = creds.DeviceKey
				}
			}
		}
	}

	if url == "" {
		return nil, fmt.Errorf("server URL is not set (--server, FPAGENT_SERVER, or fpagent register)")
	}
	if key == "" {
		return nil, fmt.Errorf("device key is not set (--device-key, FPAGENT_DEVICE_KEY, or fpagent register)")
	}
	return client.New(url, key), nil
}

// flagLocation feeds CLI-provided coordinates into the collector. A desktop
// agent has no GPS; missing coordinates are recorded as a location timeout,
// not an error, matching how a phone behaves without a fix.
type flagLocation struct {
	lat, lng, accuracy float64
	provided           bool
}

func (f *flagLocation) Current(_ context.Context) (domain.Geolocation, domain.LocationFlag, error) {
	if !f.provided {
		return domain.Geolocation{}, domain.LocationTimeout, nil
	}
	return domain.Geolocation{Lat: f.lat, Lng: f.lng, AccuracyM: f.accuracy}, domain.LocationGranted, nil
}

func captureCmd() *cobra.Command {
	var (
		note     string
		lat, lng float64
		accuracy float64
		andSync  bool
	)

	cmd := &cobra.Command{
		Use:   "capture [arrival|departure|explanation]",
		Short: "Capture a check-in event into the durable queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind := domain.EventKind(args[0])

			q, err := openQueue()
			if err != nil {
				return err
			}
			defer q.Close()

			loc := &flagLocation{lat: lat, lng: lng, accuracy: accuracy,
				provided: cmd.Flags().Changed("lat") && cmd.Flags().Changed("lng")}
			collector := capture.NewCollector(loc, nil)

			event, err := collector.Capture(cmd.Context(), kind, note)
			if err != nil {
				return err
			}

			rec, err := q.Enqueue(event)
			if err != nil {
				return err
			}

			fmt.Printf("Captured %s %s\n", kind, rec.LocalID)
			fmt.Printf("Queued at %s\n", rec.EnqueuedAt.Format(time.RFC3339))

			if !andSync {
				return nil
			}

			cli, err := newClient()
			if err != nil {
				return err
			}
			synced := syncengine.NewEngine(q, cli, 0).Drain(cmd.Context())
			fmt.Printf("Synced %d record(s)\n", synced)
			return nil
		},
	}

	cmd.Flags().StringVar(&note, "note", "", "free-text note")
	cmd.Flags().Float64Var(&lat, "lat", 0, "latitude")
	cmd.Flags().Float64Var(&lng, "lng", 0, "longitude")
	cmd.Flags().Float64Var(&accuracy, "accuracy", 10, "accuracy radius in meters")
	cmd.Flags().BoolVar(&andSync, "sync", false, "sync immediately after capturing")

	return cmd
}

func syncCmd() *cobra.Command {
	var (
		retryFailed bool
		watch       bool
		interval    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Drain the queue to the server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			q, err := openQueue()
			if err != nil {
				return err
			}
			defer q.Close()

			if retryFailed {
				n, retryErr := q.RetryTerminal()
				if retryErr != nil {
					return retryErr
				}
				fmt.Printf("Re-queued %d failed record(s)\n", n)
			}

			cli, err := newClient()
			if err != nil {
				return err
			}

			engine := syncengine.NewEngine(q, cli, interval)
			if watch {
				engine.Run(cmd.Context())
				return nil
			}

			synced := engine.Drain(cmd.Context())
			fmt.Printf("Synced %d record(s)\n", synced)

			stats, err := q.Stats()
			if err != nil {
				return err
			}
			if stats.Queued > 0 || stats.Failed > 0 {
				fmt.Printf("Remaining: %d queued, %d failed\n", stats.Queued, stats.Failed)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&retryFailed, "retry-failed", false, "re-queue terminally failed records first")
	cmd.Flags().BoolVar(&watch, "watch", false, "keep running and sync periodically")
	cmd.Flags().DurationVar(&interval, "interval", time.Minute, "periodic sync interval with --watch")

	return cmd
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show local queue and server sync status",
		RunE: func(cmd *cobra.Command, _ []string) error {
			q, err := openQueue()
			if err != nil {
				return err
			}
			defer q.Close()

			stats, err := q.Stats()
			if err != nil {
				return err
			}

			fmt.Printf("Local queue: %d queued, %d syncing, %d failed\n",
				stats.Queued, stats.Syncing, stats.Failed)
			if !stats.OldestPending.IsZero() {
				fmt.Printf("Oldest pending: %s\n", stats.OldestPending.Format(time.RFC3339))
			}

			cli, err := newClient()
			if err != nil {
				fmt.Printf("Server: not configured (%v)\n", err)
				return nil
			}

			remote, err := cli.Status(cmd.Context())
			if err != nil {
				fmt.Printf("Server: unreachable (%v)\n", err)
				return nil
			}

			fmt.Printf("Server: %d ingested, last seq %d\n", remote.IngestedCount, remote.LastSeq)
			if remote.LastReceivedAt != nil {
				fmt.Printf("Last received: %s\n", remote.LastReceivedAt.Format(time.RFC3339))
			}
			return nil
		},
	}
}

func registerCmd() *cobra.Command {
	var (
		email    string
		password string
		name     string
	)

	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register this device with the server (admin credentials required)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if serverURL == "" {
				return fmt.Errorf("server URL is not set (--server or FPAGENT_SERVER)")
			}

			token, err := adminLogin(cmd.Context(), email, password)
			if err != nil {
				return err
			}

			rawKey, deviceID, err := registerDevice(cmd.Context(), token, name)
			if err != nil {
				return err
			}

			fmt.Printf("Registered device %s (%s)\n", name, deviceID)

			store, err := openCredStore()
			if err != nil {
				fmt.Printf("Device key (could not open credential store, save it now):\n%s\n", rawKey)
				return err
			}
			if err := store.Save(&credstore.Credentials{
				ServerURL: serverURL,
				DeviceKey: rawKey,
				DeviceID:  deviceID,
			}); err != nil {
				fmt.Printf("Device key (could not persist, save it now):\n%s\n", rawKey)
				return err
			}

			fmt.Println("Credentials stored; capture and sync are ready.")
			return nil
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "admin email")
	cmd.Flags().StringVar(&password, "password", "", "admin password")
	cmd.Flags().StringVar(&name, "name", "", "device display name")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")
	_ = cmd.MarkFlagRequired("name")

	return cmd
}

func adminLogin(ctx context.Context, email, password string) (string, error) {
	body, _ := json.Marshal(map[string]string{"email": email, "password": password})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		serverURL+"/api/v1/auth/login", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("login failed: status %d", resp.StatusCode)
	}

	var out struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	return out.AccessToken, nil
}

func registerDevice(ctx context.Context, token, name string) (rawKey, deviceID string, err error) {
	body, _ := json.Marshal(map[string]string{"name": name})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		serverURL+"/api/v1/devices", bytes.NewReader(body))
	if err != nil {
		return "", "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("device registration failed: status %d", resp.StatusCode)
	}

	var out struct {
		Device struct {
			ID string `json:"id"`
		} `json:"device"`
		Key string `json:"key"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", "", err
	}
	return out.Key, out.Device.ID, nil
}
