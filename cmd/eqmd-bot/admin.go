package main

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/carlosapgomes/eqmd-sub012/internal/config"
	"github.com/carlosapgomes/eqmd-sub012/internal/domain/binding"
	"github.com/carlosapgomes/eqmd-sub012/internal/domain/dmroom"
	"github.com/carlosapgomes/eqmd-sub012/internal/platform/audit"
	"github.com/carlosapgomes/eqmd-sub012/internal/platform/db"
	"github.com/carlosapgomes/eqmd-sub012/migrations"
)

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// withPostgres runs fn against the configured database. Administrative
// commands have nothing to act on with the memory driver.
func withPostgres(ctx context.Context, fn func(cfg *config.Config, st *stores) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if !cfg.UsesPostgres() {
		return fmt.Errorf("this command requires STORE_DRIVER=postgres")
	}
	st, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()
	return fn(cfg, st)
}

func migrationFiles(dir string) fs.FS {
	if dir == "" {
		return migrations.FS
	}
	return os.DirFS(dir)
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")
			return withPostgres(cmd.Context(), func(_ *config.Config, st *stores) error {
				count, err := db.NewMigrator(st.pool, migrationFiles(dir)).Up(cmd.Context())
				if err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s).\n", count)
				return nil
			})
		},
	}
	upCmd.Flags().String("dir", "", "Read migrations from this directory instead of the embedded set")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")
			return withPostgres(cmd.Context(), func(_ *config.Config, st *stores) error {
				statuses, err := db.NewMigrator(st.pool, migrationFiles(dir)).Status(cmd.Context())
				if err != nil {
					return fmt.Errorf("failed to get migration status: %w", err)
				}
				return printMigrations(cmd.OutOrStdout(), statuses)
			})
		},
	}
	statusCmd.Flags().String("dir", "", "Read migrations from this directory instead of the embedded set")
	cmd.AddCommand(statusCmd)

	return cmd
}

func printMigrations(out io.Writer, statuses []db.MigrationStatus) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "VERSION\tNAME\tSTATUS\tAPPLIED AT")
	for _, s := range statuses {
		status, appliedAt := "pending", ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", s.Version, s.Name, status, appliedAt)
	}
	return w.Flush()
}

func bindingCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "binding",
		Short: "Manage chat user to identity bindings",
	}

	withService := func(cmd *cobra.Command, fn func(svc *binding.Service) error) error {
		return withPostgres(cmd.Context(), func(cfg *config.Config, st *stores) error {
			return fn(binding.NewService(st.bindings, newLogger(cfg)))
		})
	}

	setCmd := &cobra.Command{
		Use:   "set <chat-user-id> <surrogate-key>",
		Short: "Create or replace a binding (unverified)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := uuid.Parse(args[1])
			if err != nil {
				return fmt.Errorf("invalid surrogate key: %w", err)
			}
			return withService(cmd, func(svc *binding.Service) error {
				b, err := svc.Set(cmd.Context(), args[0], key)
				if err != nil {
					return err
				}
				return printBindings(cmd.OutOrStdout(), []*binding.Binding{b})
			})
		},
	}

	verifyCmd := &cobra.Command{
		Use:   "verify <chat-user-id>",
		Short: "Mark a binding as verified",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd, func(svc *binding.Service) error {
				b, err := svc.Verify(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printBindings(cmd.OutOrStdout(), []*binding.Binding{b})
			})
		},
	}

	deactivateCmd := &cobra.Command{
		Use:   "deactivate <chat-user-id>",
		Short: "Deactivate a binding",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd, func(svc *binding.Service) error {
				if err := svc.Deactivate(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Binding for %s deactivated.\n", args[0])
				return nil
			})
		},
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List bindings",
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			offset, _ := cmd.Flags().GetInt("offset")
			return withService(cmd, func(svc *binding.Service) error {
				items, total, err := svc.List(cmd.Context(), limit, offset)
				if err != nil {
					return err
				}
				if err := printBindings(cmd.OutOrStdout(), items); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d of %d binding(s)\n", len(items), total)
				return nil
			})
		},
	}
	listCmd.Flags().Int("limit", 50, "Maximum rows to show")
	listCmd.Flags().Int("offset", 0, "Rows to skip")

	cmd.AddCommand(setCmd, verifyCmd, deactivateCmd, listCmd)
	return cmd
}

func printBindings(out io.Writer, items []*binding.Binding) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CHAT USER\tSURROGATE KEY\tVERIFIED\tACTIVE\tUPDATED")
	for _, b := range items {
		fmt.Fprintf(w, "%s\t%s\t%t\t%t\t%s\n",
			b.ChatUserID, b.SurrogateKey, b.Verified, b.Active, b.UpdatedAt.Format(time.RFC3339))
	}
	return w.Flush()
}

func roomCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "room",
		Short: "Manage direct message rooms",
	}

	provisionCmd := &cobra.Command{
		Use:   "provision",
		Short: "Create (or show) the direct room for an identity",
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, _ := cmd.Flags().GetString("key")
			key, err := uuid.Parse(raw)
			if err != nil {
				return fmt.Errorf("invalid --key: %w", err)
			}
			return withPostgres(cmd.Context(), func(cfg *config.Config, st *stores) error {
				logger := newLogger(cfg)
				mx, err := newMatrixClient(cfg, logger)
				if err != nil {
					return err
				}
				registry := dmroom.NewRegistry(st.rooms, binding.NewService(st.bindings, logger), mx, logger)
				room, err := registry.Provision(cmd.Context(), key)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", room.SurrogateKey, room.RoomID)
				return nil
			})
		},
	}
	provisionCmd.Flags().String("key", "", "Surrogate key of the identity")
	_ = provisionCmd.MarkFlagRequired("key")

	cmd.AddCommand(provisionCmd)
	return cmd
}

func auditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Audit trail maintenance",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "prune",
		Short: "Delete audit segments past the retention horizon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			loc, err := cfg.Location()
			if err != nil {
				return err
			}
			removed, err := audit.Retention{
				Dir:      cfg.AuditDir,
				Days:     cfg.AuditRetentionDays,
				Location: loc,
				Logger:   newLogger(cfg),
			}.Prune(time.Now())
			if err != nil {
				return err
			}
			for _, name := range removed {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d segment(s).\n", len(removed))
			return nil
		},
	})
	return cmd
}
