package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/vonshlovens/prompit/internal/config"
	"github.com/vonshlovens/prompit/internal/errs"
	"github.com/vonshlovens/prompit/internal/identity"
	"github.com/vonshlovens/prompit/internal/library"
	"github.com/vonshlovens/prompit/internal/model"
	"github.com/vonshlovens/prompit/internal/remote"
	"github.com/vonshlovens/prompit/internal/store"
	syncer "github.com/vonshlovens/prompit/internal/sync"
	"github.com/vonshlovens/prompit/internal/watcher"
)

var (
	cfgFile string
	verbose bool
	version = "dev"
)

func main() {
	rootCmd := &cobra.Command{
		Use:     "prompit",
		Short:   "Offline-first prompt library with Postgres sync",
		Long:    `A personal prompt library. Everything works offline against local state; edits queue up and sync to a remote PostgreSQL database whenever it is reachable.`,
		Version: version,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Setup logging
			level := slog.LevelInfo
			if verbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
				Level: level,
			})))
		},
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")

	rootCmd.AddCommand(
		initCmd(),
		daemonCmd(),
		syncCmd(),
		statusCmd(),
		migrateCmd(),
		loginCmd(),
		verifyCmd(),
		logoutCmd(),
		addCmd(),
		listCmd(),
		showCmd(),
		useCmd(),
		favCmd(),
		rmCmd(),
		folderCmd(),
		categoryCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// openService builds the local surface: store plus identity. Every
// command works from this even when the database is unreachable.
func openService() (*library.Service, *config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	st, err := store.Open(cfg.StateDir)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open local store: %w", err)
	}
	ids, err := identity.Load(cfg.StateDir)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load identity: %w", err)
	}

	return library.NewService(st, ids), cfg, nil
}

func syncOptions(cfg *config.Config) syncer.Options {
	return syncer.Options{
		RequestTimeout: time.Duration(cfg.Sync.RequestTimeoutMs) * time.Millisecond,
		ProbeTimeout:   time.Duration(cfg.Sync.ProbeTimeoutMs) * time.Millisecond,
		BackoffBase:    time.Duration(cfg.Sync.BackoffBaseMs) * time.Millisecond,
		BackoffMax:     time.Duration(cfg.Sync.BackoffMaxMs) * time.Millisecond,
	}
}

// attachRemote connects the database and wires it into the service.
// Returns nil when the database is unreachable; the command then runs
// local-only with mutations left queued.
func attachRemote(ctx context.Context, svc *library.Service, cfg *config.Config) *remote.DB {
	db, err := remote.New(ctx, &cfg.Database)
	if err != nil {
		slog.Debug("database unreachable, staying offline", "error", err)
		return nil
	}
	svc.AttachRemote(db, db, syncOptions(cfg))
	return db
}

func daemonCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "Start the background sync process",
		Long:  `Starts a daemon that drains the mutation queue, listens for remote changes, and picks up edits made by one-shot prompit invocations.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			svc, cfg, err := openService()
			if err != nil {
				return err
			}

			db, err := remote.New(ctx, &cfg.Database)
			if err != nil {
				return fmt.Errorf("failed to connect to database: %w", err)
			}
			defer db.Close()
			svc.AttachRemote(db, db, syncOptions(cfg))

			// Initial reconcile; a failure is not fatal, the daemon
			// keeps retrying on its ticker.
			slog.Info("performing initial sync")
			if err := svc.SyncNow(ctx); err != nil {
				slog.Error("initial sync failed", "error", err)
			}

			// Remote change notifications collapse into a single
			// pending reconcile signal.
			remoteCh := make(chan struct{}, 1)
			listener := remote.NewListener(db, func() {
				select {
				case remoteCh <- struct{}{}:
				default:
				}
			})
			go listener.Run(ctx)

			// Watch the state dir for edits by one-shot invocations.
			w, err := watcher.NewWatcher(cfg.StateDir, cfg.Sync.DebounceMs, store.BucketFiles()...)
			if err != nil {
				return fmt.Errorf("failed to create watcher: %w", err)
			}
			if err := w.Start(ctx); err != nil {
				return fmt.Errorf("failed to start watcher: %w", err)
			}

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

			slog.Info("daemon started", "state_dir", cfg.StateDir)
			fmt.Println("Syncing prompt library. Press Ctrl+C to stop.")

			drainTicker := time.NewTicker(time.Duration(cfg.Sync.DrainIntervalSec) * time.Second)
			defer drainTicker.Stop()

			for {
				select {
				case <-sigCh:
					slog.Info("shutting down...")
					w.Stop()
					svc.Engine().Stop()
					return nil

				case event := <-w.Events():
					slog.Debug("state file changed", "file", event.Path, "type", event.EventType)
					if err := svc.Reload(); err != nil {
						slog.Error("reload failed", "error", err)
						continue
					}
					svc.Engine().Process(ctx)

				case <-remoteCh:
					slog.Debug("remote change notification")
					if err := svc.SyncNow(ctx); err != nil {
						slog.Error("sync failed", "error", err)
					}

				case <-drainTicker.C:
					svc.Engine().Process(ctx)
				}
			}
		},
	}
}

func syncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "One-time full sync, then exit",
		Long:  `Reconciles local state against the database, drains the mutation queue, and exits.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			svc, cfg, err := openService()
			if err != nil {
				return err
			}

			db, err := remote.New(ctx, &cfg.Database)
			if err != nil {
				return fmt.Errorf("failed to connect to database: %w", err)
			}
			defer db.Close()
			svc.AttachRemote(db, db, syncOptions(cfg))

			if err := svc.SyncNow(ctx); err != nil {
				return fmt.Errorf("sync failed: %w", err)
			}

			if pending := svc.Pending(); pending > 0 {
				fmt.Printf("Sync finished with %d mutations still queued.\n", pending)
			} else {
				fmt.Println("Sync completed successfully.")
			}
			return nil
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show connection status and library info",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			svc, cfg, err := openService()
			if err != nil {
				return err
			}

			fmt.Println("=== Prompit Status ===")

			db, derr := remote.New(ctx, &cfg.Database)
			if derr != nil {
				fmt.Printf("Database Status: Disconnected\n")
				fmt.Printf("  Error: %v\n", derr)
			} else {
				defer db.Close()
				fmt.Printf("Database Status: Connected\n")
				fmt.Printf("  Host: %s\n", cfg.Database.Host)
				fmt.Printf("  Database: %s\n", cfg.Database.Database)
				fmt.Printf("  Schema: %s\n", cfg.Database.Schema)
			}
			fmt.Println()

			ids := svc.Identity()
			fmt.Printf("Device ID: %s\n", ids.DeviceID())
			if s := ids.Session(); s != nil {
				fmt.Printf("Signed in as: %s\n", s.Email)
			} else {
				fmt.Println("Signed in as: (guest)")
			}
			fmt.Println()

			fmt.Printf("Library:\n")
			fmt.Printf("  Prompts: %d\n", len(svc.ListRecords(store.Filter{})))
			fmt.Printf("  Folders: %d\n", len(svc.Folders()))
			fmt.Printf("  Categories: %d\n", len(svc.Categories()))
			fmt.Printf("  Queued mutations: %d\n", svc.Pending())

			return nil
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		Long:  `Runs all pending database migrations.`,
	}

	migrationsDir := ""
	statusOnly := false
	cmd.Flags().StringVar(&migrationsDir, "dir", "migrations", "migrations directory")
	cmd.Flags().BoolVar(&statusOnly, "status", false, "print migration status instead of applying")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		cfg, err := config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		db, err := remote.New(ctx, &cfg.Database)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer db.Close()

		// Resolve migrations directory
		if !filepath.IsAbs(migrationsDir) {
			// Try relative to executable first
			exe, _ := os.Executable()
			exeDir := filepath.Dir(exe)
			if _, err := os.Stat(filepath.Join(exeDir, migrationsDir)); err == nil {
				migrationsDir = filepath.Join(exeDir, migrationsDir)
			} else {
				// Try relative to current directory
				cwd, _ := os.Getwd()
				migrationsDir = filepath.Join(cwd, migrationsDir)
			}
		}

		if statusOnly {
			return db.MigrationStatus(migrationsDir)
		}

		if err := db.RunMigrations(ctx, migrationsDir); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}

		fmt.Println("Migrations completed successfully.")
		return nil
	}

	return cmd
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Interactive setup to create config file",
		Long:  `Interactively creates a configuration file and prints next steps.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			reader := bufio.NewReader(os.Stdin)

			fmt.Println("=== Prompit Setup ===")
			fmt.Println()

			fmt.Println("Database Configuration:")
			fmt.Print("  Host: ")
			host, _ := reader.ReadString('\n')
			host = strings.TrimSpace(host)

			fmt.Print("  Port [5432]: ")
			portStr, _ := reader.ReadString('\n')
			portStr = strings.TrimSpace(portStr)
			port := 5432
			if portStr != "" {
				p, err := strconv.Atoi(portStr)
				if err != nil {
					return fmt.Errorf("invalid port: %s", portStr)
				}
				port = p
			}

			fmt.Print("  User: ")
			user, _ := reader.ReadString('\n')
			user = strings.TrimSpace(user)

			fmt.Print("  Password: ")
			password, _ := reader.ReadString('\n')
			password = strings.TrimSpace(password)

			fmt.Print("  Database name: ")
			dbName, _ := reader.ReadString('\n')
			dbName = strings.TrimSpace(dbName)
			if dbName == "" {
				return fmt.Errorf("database name is required")
			}

			fmt.Printf("  Schema name [prompit]: ")
			schemaName, _ := reader.ReadString('\n')
			schemaName = strings.TrimSpace(schemaName)
			if schemaName == "" {
				schemaName = "prompit"
			}

			fmt.Print("  SSL mode [require]: ")
			sslMode, _ := reader.ReadString('\n')
			sslMode = strings.TrimSpace(sslMode)
			if sslMode == "" {
				sslMode = "require"
			}

			cfg := config.DefaultConfig()
			cfg.Database.Host = host
			cfg.Database.Port = port
			cfg.Database.User = user
			cfg.Database.Password = "${PROMPIT_DATABASE_PASSWORD}"
			cfg.Database.Database = dbName
			cfg.Database.Schema = config.SanitizeIdentifier(schemaName)
			cfg.Database.SSLMode = sslMode

			data, err := yaml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("failed to render config: %w", err)
			}

			configPath, err := config.ConfigFilePath()
			if err != nil {
				return err
			}
			if err := os.WriteFile(configPath, data, 0600); err != nil {
				return fmt.Errorf("failed to write config file: %w", err)
			}

			fmt.Printf("\nConfig file written to: %s\n", configPath)
			fmt.Printf("\nIMPORTANT: Set the PROMPIT_DATABASE_PASSWORD environment variable:\n")
			fmt.Printf("  export PROMPIT_DATABASE_PASSWORD='%s'\n", password)
			fmt.Println("\nTo test the connection, run: prompit status")
			fmt.Println("To run migrations, run: prompit migrate")
			fmt.Println("To start syncing, run: prompit daemon")

			return nil
		},
	}
}

func loginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login <email>",
		Short: "Request a one-time login code",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			email := args[0]

			svc, cfg, err := openService()
			if err != nil {
				return err
			}
			db := attachRemote(ctx, svc, cfg)
			if db == nil {
				return fmt.Errorf("cannot log in: %w", errs.ErrOffline)
			}
			defer db.Close()

			if err := svc.RequestLogin(ctx, email); err != nil {
				return fmt.Errorf("failed to request login code: %w", err)
			}

			fmt.Printf("A one-time code was issued for %s.\n", email)
			fmt.Printf("Complete the sign-in with: prompit verify %s <code>\n", email)
			return nil
		},
	}
}

func verifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <email> <code>",
		Short: "Exchange a one-time code for a session",
		Long:  `Verifies a login code, signs in, migrates device-owned prompts to the account, and runs a full sync.`,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			svc, cfg, err := openService()
			if err != nil {
				return err
			}
			db := attachRemote(ctx, svc, cfg)
			if db == nil {
				return fmt.Errorf("cannot verify: %w", errs.ErrOffline)
			}
			defer db.Close()

			if err := svc.VerifyLogin(ctx, args[0], args[1]); err != nil {
				if errors.Is(err, errs.ErrChallengeExpired) {
					return fmt.Errorf("code is invalid or expired; request a new one with: prompit login %s", args[0])
				}
				return err
			}

			fmt.Printf("Signed in as %s. Your prompts now follow your account.\n", args[0])
			return nil
		},
	}
}

func logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out",
		Long:  `Clears the local session. Prompts stay on this device but stop syncing to the account until the next sign-in.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, _, err := openService()
			if err != nil {
				return err
			}
			if err := svc.SignOut(); err != nil {
				return err
			}
			fmt.Println("Signed out.")
			return nil
		},
	}
}

func addCmd() *cobra.Command {
	var (
		body     string
		tags     []string
		category string
		favorite bool
		folder   string
	)

	cmd := &cobra.Command{
		Use:   "add <title>",
		Short: "Save a new prompt",
		Long:  `Saves a new prompt. The body is read from --body, or from stdin when the flag is omitted.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			svc, cfg, err := openService()
			if err != nil {
				return err
			}
			if db := attachRemote(ctx, svc, cfg); db != nil {
				defer db.Close()
			}

			if body == "" {
				data, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("failed to read prompt body from stdin: %w", err)
				}
				body = strings.TrimSpace(string(data))
			}
			if body == "" {
				return fmt.Errorf("prompt body is empty")
			}

			in := library.RecordInput{
				Title:    args[0],
				Body:     body,
				Tags:     tags,
				Category: category,
				Favorite: favorite,
			}
			if folder != "" {
				f, err := resolveFolder(svc, folder)
				if err != nil {
					return err
				}
				in.FolderRef = &f.LocalID
			}

			rec, err := svc.CreateRecord(ctx, in)
			if err != nil {
				return err
			}

			fmt.Printf("Saved %s  [%s]\n", shortID(rec.LocalID), rec.SyncStatus)
			return nil
		},
	}

	cmd.Flags().StringVarP(&body, "body", "b", "", "prompt body (defaults to stdin)")
	cmd.Flags().StringSliceVarP(&tags, "tag", "t", nil, "tag (repeatable)")
	cmd.Flags().StringVar(&category, "category", "", "category (defaults to \"other\")")
	cmd.Flags().BoolVar(&favorite, "fav", false, "mark as favorite")
	cmd.Flags().StringVar(&folder, "folder", "", "folder name or id")
	return cmd
}

func listCmd() *cobra.Command {
	var (
		text     string
		pattern  string
		category string
		favOnly  bool
		folder   string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List prompts, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, _, err := openService()
			if err != nil {
				return err
			}

			f := store.Filter{
				Text:          text,
				Pattern:       pattern,
				Category:      category,
				FavoritesOnly: favOnly,
			}
			if folder != "" {
				fl, err := resolveFolder(svc, folder)
				if err != nil {
					return err
				}
				f.Folder = fl.LocalID
			}

			records := svc.ListRecords(f)
			if len(records) == 0 {
				fmt.Println("No prompts found.")
				return nil
			}

			for _, r := range records {
				marker := " "
				if r.Favorite {
					marker = "*"
				}
				line := fmt.Sprintf("%s %s  %-10s  %s", marker, shortID(r.LocalID), r.Category, r.Title)
				if len(r.Tags) > 0 {
					line += "  (" + model.JoinTags(r.Tags) + ")"
				}
				if r.SyncStatus != model.StatusSynced {
					line += "  [" + string(r.SyncStatus) + "]"
				}
				fmt.Println(line)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&text, "search", "q", "", "substring search over title, body, and tags")
	cmd.Flags().StringVarP(&pattern, "match", "m", "", "glob over category/title and tags (supports **)")
	cmd.Flags().StringVar(&category, "category", "", "restrict to a category")
	cmd.Flags().BoolVar(&favOnly, "fav", false, "favorites only")
	cmd.Flags().StringVar(&folder, "folder", "", "restrict to a folder")
	return cmd
}

func showCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Print a prompt's full details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, _, err := openService()
			if err != nil {
				return err
			}

			rec, err := resolveRecord(svc, args[0])
			if err != nil {
				return err
			}

			fmt.Printf("Title:     %s\n", rec.Title)
			fmt.Printf("Category:  %s\n", rec.Category)
			if len(rec.Tags) > 0 {
				fmt.Printf("Tags:      %s\n", model.JoinTags(rec.Tags))
			}
			fmt.Printf("Favorite:  %v\n", rec.Favorite)
			fmt.Printf("Used:      %d times\n", rec.UsageCount)
			fmt.Printf("Status:    %s\n", rec.SyncStatus)
			fmt.Printf("Updated:   %s\n", rec.UpdatedAt.Local().Format(time.RFC3339))
			fmt.Println()
			fmt.Println(rec.Body)
			return nil
		},
	}
}

func useCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "use <id>",
		Short: "Print a prompt's body and bump its usage counter",
		Long:  `Prints the prompt body to stdout, suitable for piping into a clipboard tool, and records the use.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			svc, cfg, err := openService()
			if err != nil {
				return err
			}
			if db := attachRemote(ctx, svc, cfg); db != nil {
				defer db.Close()
			}

			rec, err := resolveRecord(svc, args[0])
			if err != nil {
				return err
			}
			if _, err := svc.RecordUsed(ctx, rec.LocalID); err != nil {
				return err
			}

			fmt.Print(rec.Body)
			return nil
		},
	}
}

func favCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fav <id>",
		Short: "Toggle a prompt's favorite flag",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			svc, cfg, err := openService()
			if err != nil {
				return err
			}
			if db := attachRemote(ctx, svc, cfg); db != nil {
				defer db.Close()
			}

			rec, err := resolveRecord(svc, args[0])
			if err != nil {
				return err
			}
			updated, err := svc.ToggleFavorite(ctx, rec.LocalID)
			if err != nil {
				return err
			}

			if updated.Favorite {
				fmt.Printf("Favorited %q.\n", updated.Title)
			} else {
				fmt.Printf("Unfavorited %q.\n", updated.Title)
			}
			return nil
		},
	}
}

func rmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <id>",
		Short: "Delete a prompt",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			svc, cfg, err := openService()
			if err != nil {
				return err
			}
			if db := attachRemote(ctx, svc, cfg); db != nil {
				defer db.Close()
			}

			rec, err := resolveRecord(svc, args[0])
			if err != nil {
				return err
			}
			if err := svc.DeleteRecord(ctx, rec.LocalID); err != nil {
				return err
			}

			fmt.Printf("Deleted %q.\n", rec.Title)
			return nil
		},
	}
}

func folderCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "folder",
		Short: "Manage folders",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "add <name>",
			Short: "Create a folder",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				ctx := context.Background()

				svc, cfg, err := openService()
				if err != nil {
					return err
				}
				if db := attachRemote(ctx, svc, cfg); db != nil {
					defer db.Close()
				}

				f, err := svc.CreateFolder(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Printf("Created folder %q (%s).\n", f.Name, shortID(f.LocalID))
				return nil
			},
		},
		&cobra.Command{
			Use:   "rm <name-or-id>",
			Short: "Delete a folder (its prompts are kept)",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				ctx := context.Background()

				svc, cfg, err := openService()
				if err != nil {
					return err
				}
				if db := attachRemote(ctx, svc, cfg); db != nil {
					defer db.Close()
				}

				f, err := resolveFolder(svc, args[0])
				if err != nil {
					return err
				}
				if err := svc.DeleteFolder(ctx, f.LocalID); err != nil {
					return err
				}
				fmt.Printf("Deleted folder %q. Its prompts were kept.\n", f.Name)
				return nil
			},
		},
		&cobra.Command{
			Use:   "list",
			Short: "List folders",
			RunE: func(cmd *cobra.Command, args []string) error {
				svc, _, err := openService()
				if err != nil {
					return err
				}

				folders := svc.Folders()
				if len(folders) == 0 {
					fmt.Println("No folders.")
					return nil
				}
				for _, f := range folders {
					n := len(svc.ListRecords(store.Filter{Folder: f.LocalID}))
					fmt.Printf("%s  %-20s  %d prompts\n", shortID(f.LocalID), f.Name, n)
				}
				return nil
			},
		},
	)

	return cmd
}

func categoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "category",
		Short: "Manage categories",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "add <name>",
			Short: "Add a category",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				ctx := context.Background()

				svc, cfg, err := openService()
				if err != nil {
					return err
				}
				if db := attachRemote(ctx, svc, cfg); db != nil {
					defer db.Close()
				}

				added, err := svc.AddCategory(ctx, args[0])
				if err != nil {
					return err
				}
				if !added {
					fmt.Printf("Category %q already exists.\n", args[0])
					return nil
				}
				fmt.Printf("Added category %q.\n", args[0])
				return nil
			},
		},
		&cobra.Command{
			Use:   "list",
			Short: "List categories",
			RunE: func(cmd *cobra.Command, args []string) error {
				svc, _, err := openService()
				if err != nil {
					return err
				}
				for _, c := range svc.Categories() {
					fmt.Println(c)
				}
				return nil
			},
		},
	)

	return cmd
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// resolveRecord finds a record by full local id or unique prefix.
func resolveRecord(svc *library.Service, arg string) (*model.Record, error) {
	if rec, ok := svc.Record(arg); ok {
		return rec, nil
	}

	var matches []*model.Record
	for _, r := range svc.ListRecords(store.Filter{}) {
		if strings.HasPrefix(r.LocalID, arg) {
			matches = append(matches, r)
		}
	}
	switch len(matches) {
	case 1:
		return matches[0], nil
	case 0:
		return nil, fmt.Errorf("prompt %q: %w", arg, errs.ErrNotFound)
	default:
		return nil, fmt.Errorf("prompt id %q is ambiguous (%d matches)", arg, len(matches))
	}
}

// resolveFolder finds a folder by name (case-insensitive), full local
// id, or unique id prefix.
func resolveFolder(svc *library.Service, arg string) (*model.Folder, error) {
	var matches []*model.Folder
	for _, f := range svc.Folders() {
		if strings.EqualFold(f.Name, arg) || f.LocalID == arg {
			return f, nil
		}
		if strings.HasPrefix(f.LocalID, arg) {
			matches = append(matches, f)
		}
	}
	switch len(matches) {
	case 1:
		return matches[0], nil
	case 0:
		return nil, fmt.Errorf("folder %q: %w", arg, errs.ErrNotFound)
	default:
		return nil, fmt.Errorf("folder id %q is ambiguous (%d matches)", arg, len(matches))
	}
}
