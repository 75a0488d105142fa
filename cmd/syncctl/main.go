// Package main provides the syncctl operator CLI for inspecting the local
// sync store: queued operations, queue statistics and recorded conflicts.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/plateshare/synckit/internal/cache"
	"github.com/plateshare/synckit/internal/config"
	"github.com/plateshare/synckit/internal/gateway"
	"github.com/plateshare/synckit/internal/logging"
	"github.com/plateshare/synckit/internal/models"
	"github.com/plateshare/synckit/internal/queue"
	"github.com/plateshare/synckit/internal/store"
)

var (
	configPath string
	dataDir    string
)

func main() {
	// The CLI reads the same store the daemon writes; keep its own logs quiet.
	logging.Init(os.Stderr, logging.LevelError)

	root := &cobra.Command{
		Use:           "syncctl",
		Short:         "Inspect and manage the local sync store",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "synckit.yaml", "path to the config file")
	root.PersistentFlags().StringVar(&dataDir, "data-dir", "", "data directory (overrides config)")

	root.AddCommand(queueCmd(), conflictsCmd(), syncCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "syncctl: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads the config file, falling back to defaults when it does
// not exist.
func loadConfig() (*config.Config, error) {
	cfg := config.DefaultConfig()
	if _, err := os.Stat(configPath); err == nil {
		loaded, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	return cfg, nil
}

// openRepo opens the local store read-write.
func openRepo() (*store.DB, *store.Repository, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}

	db, err := store.Open(cfg.DataDir)
	if err != nil {
		return nil, nil, err
	}
	return db, store.NewRepository(db), nil
}

func queueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect the offline operation queue",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List queued operations",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, repo, err := openRepo()
			if err != nil {
				return err
			}
			defer db.Close()
			defer repo.Close()

			ops, err := repo.Operations()
			if err != nil {
				return err
			}
			if len(ops) == 0 {
				fmt.Println("queue is empty")
				return nil
			}

			fmt.Printf("%-36s  %-20s  %-10s  %-9s  %-7s  %s\n",
				"ID", "TYPE", "STATUS", "PRIORITY", "RETRIES", "CREATED")
			for _, op := range ops {
				fmt.Printf("%-36s  %-20s  %-10s  %-9s  %d/%d      %s\n",
					op.ID, op.OperationType, op.Status, op.Priority.String(),
					op.RetryCount, op.MaxRetries,
					op.CreatedAtTime().Format(time.RFC3339))
				if op.LastError != "" {
					fmt.Printf("    last error: %s\n", op.LastError)
				}
				if len(op.DependsOn) > 0 {
					fmt.Printf("    depends on: %v\n", op.DependsOn)
				}
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Show operation counts per status",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, repo, err := openRepo()
			if err != nil {
				return err
			}
			defer db.Close()
			defer repo.Close()

			ops, err := repo.Operations()
			if err != nil {
				return err
			}

			stats := map[string]int{}
			for _, op := range ops {
				stats[string(op.Status)]++
			}
			fmt.Printf("total: %d\n", len(ops))
			for status, n := range stats {
				fmt.Printf("%s: %d\n", status, n)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "retry-failed",
		Short: "Reset failed operations back to pending",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, repo, err := openRepo()
			if err != nil {
				return err
			}
			defer db.Close()
			defer repo.Close()

			// Failed operations are terminal; the daemon's restore skips
			// them, so reset them directly in the store.
			ops, err := repo.Operations()
			if err != nil {
				return err
			}
			count := 0
			for _, op := range ops {
				if op.Status != models.StatusFailed {
					continue
				}
				op.Status = models.StatusPending
				op.RetryCount = 0
				op.LastError = ""
				op.NextRetryAt = time.Now().Unix()
				if err := repo.SaveOperation(op); err != nil {
					return err
				}
				count++
			}
			fmt.Printf("reset %d failed operation(s)\n", count)
			return nil
		},
	})

	return cmd
}

func syncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Drain the offline queue through the remote gateway once",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.Gateway.URL == "" {
				return fmt.Errorf("no gateway url configured")
			}

			db, err := store.Open(cfg.DataDir)
			if err != nil {
				return err
			}
			defer db.Close()
			repo := store.NewRepository(db)
			defer repo.Close()

			q := queue.NewOperationStore(queue.Options{
				MaxRetries:  cfg.Queue.MaxRetries,
				Persistence: repo,
			})
			if err := q.Load(); err != nil {
				return err
			}

			orch := cache.NewOrchestrator(cache.Options{
				Gateway:   gateway.NewHTTPClient(cfg.Gateway.URL, cfg.Gateway.AuthToken, cfg.Gateway.Timeout),
				Store:     repo,
				Queue:     q,
				Conflicts: repo,
			})
			n := orch.DrainQueue(cmd.Context())
			fmt.Printf("completed %d operation(s)\n", n)
			return nil
		},
	}
}

func conflictsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "conflicts",
		Short: "Inspect and resolve recorded sync conflicts",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List recorded conflicts",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, repo, err := openRepo()
			if err != nil {
				return err
			}
			defer db.Close()
			defer repo.Close()

			conflicts, err := repo.Conflicts()
			if err != nil {
				return err
			}
			if len(conflicts) == 0 {
				fmt.Println("no recorded conflicts")
				return nil
			}

			for _, c := range conflicts {
				fmt.Printf("%s  %s/%s  fields=%v  detected=%s\n",
					c.ID, c.EntityType, c.EntityID, c.ConflictingFields,
					c.DetectedAtTime().Format(time.RFC3339))
				fmt.Printf("    local  (ts %d): %s\n", c.LocalTimestamp, c.LocalPayload)
				fmt.Printf("    remote (ts %d): %s\n", c.RemoteTimestamp, c.RemotePayload)
			}
			return nil
		},
	})

	var choice string
	resolve := &cobra.Command{
		Use:   "resolve <conflict-id>",
		Short: "Resolve a recorded conflict by keeping one side",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if choice != "local" && choice != "remote" {
				return fmt.Errorf("choice must be local or remote, got %q", choice)
			}

			db, repo, err := openRepo()
			if err != nil {
				return err
			}
			defer db.Close()
			defer repo.Close()

			conflicts, err := repo.Conflicts()
			if err != nil {
				return err
			}
			for _, c := range conflicts {
				if c.ID.String() != args[0] {
					continue
				}
				payload := c.LocalPayload
				if choice == "remote" {
					payload = c.RemotePayload
				}
				if err := repo.DeleteConflict(args[0]); err != nil {
					return err
				}
				fmt.Printf("resolved %s keeping the %s version:\n%s\n", args[0], choice, payload)
				return nil
			}
			return fmt.Errorf("no conflict with id %s", args[0])
		},
	}
	resolve.Flags().StringVar(&choice, "choice", "remote", "side to keep: local or remote")
	cmd.AddCommand(resolve)

	return cmd
}
