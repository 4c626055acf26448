package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/zatekoja/onesystem-clinic/internal/application/services"
	"github.com/zatekoja/onesystem-clinic/internal/bootstrap"
	"github.com/zatekoja/onesystem-clinic/internal/infrastructure/observability"
	"github.com/zatekoja/onesystem-clinic/pkg/config"
	"github.com/zatekoja/onesystem-clinic/pkg/secrets"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "clinicctl",
		Short:         "Operate the clinic store",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	root.AddCommand(migrateCmd())
	root.AddCommand(healthCmd())
	root.AddCommand(countsCmd())
	root.AddCommand(seedCmd())
	root.AddCommand(wipeCmd())
	root.AddCommand(reorderCmd())
	root.AddCommand(nextTokenCmd())
	root.AddCommand(mirrorCmd())
	root.AddCommand(auditCmd())
	return root
}

// withCore loads configuration, builds the runtime and runs fn against it
func withCore(cmd *cobra.Command, fn func(ctx context.Context, core *services.Core) (interface{}, error)) error {
	if _, err := secrets.ApplyFromEnv(cmd.Context()); err != nil {
		return err
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	observability.InitLogger("clinicctl", cfg.App.Env, cfg.App.LogLevel)

	ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
	defer cancel()

	rt, err := bootstrap.Build(ctx, cfg, nil)
	if err != nil {
		return err
	}
	defer rt.Close()

	out, err := fn(ctx, rt.Core)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCore(cmd, func(ctx context.Context, core *services.Core) (interface{}, error) {
				report := core.Health.Check(ctx)
				return map[string]interface{}{"backend": report.Backend, "version": report.Version}, nil
			})
		},
	}
}

func healthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Probe every collection of the store",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCore(cmd, func(ctx context.Context, core *services.Core) (interface{}, error) {
				report := core.Health.Check(ctx)
				if !report.OK {
					_ = json.NewEncoder(cmd.OutOrStdout()).Encode(report)
					return nil, fmt.Errorf("store unhealthy")
				}
				return report, nil
			})
		},
	}
}

func countsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "counts",
		Short: "Show today's headline counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCore(cmd, func(ctx context.Context, core *services.Core) (interface{}, error) {
				return core.Diagnostics.Counts(ctx)
			})
		},
	}
}

func seedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load the demo data set",
		RunE: func(cmd *cobra.Command, args []string) error {
			force, _ := cmd.Flags().GetBool("force")
			return withCore(cmd, func(ctx context.Context, core *services.Core) (interface{}, error) {
				seeded, err := core.Diagnostics.Seed(ctx, force)
				if err != nil {
					return nil, err
				}
				return map[string]bool{"seeded": seeded}, nil
			})
		},
	}
	cmd.Flags().Bool("force", false, "Seed even when demo data was loaded before")
	return cmd
}

func wipeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "wipe",
		Short: "Clear clinical data while keeping settings, sequences and the audit chain",
		RunE: func(cmd *cobra.Command, args []string) error {
			user, _ := cmd.Flags().GetString("user")
			confirm, _ := cmd.Flags().GetBool("confirm")
			if user == "" {
				return fmt.Errorf("--user is required")
			}
			if !confirm {
				return fmt.Errorf("refusing to wipe without --confirm")
			}
			return withCore(cmd, func(ctx context.Context, core *services.Core) (interface{}, error) {
				if err := core.Diagnostics.Wipe(ctx, user); err != nil {
					return nil, err
				}
				return map[string]bool{"wiped": true}, nil
			})
		},
	}
	cmd.Flags().String("user", "", "Operator recorded in the audit log")
	cmd.Flags().Bool("confirm", false, "Confirm the wipe")
	return cmd
}

func reorderCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reorder",
		Short: "Build a reorder suggestion from current stock",
		RunE: func(cmd *cobra.Command, args []string) error {
			var supplier *int64
			if cmd.Flags().Changed("supplier") {
				id, _ := cmd.Flags().GetInt64("supplier")
				supplier = &id
			}
			return withCore(cmd, func(ctx context.Context, core *services.Core) (interface{}, error) {
				return core.Inventory.BuildReorder(ctx, supplier)
			})
		},
	}
	cmd.Flags().Int64("supplier", 0, "Restrict the suggestion to one supplier")
	return cmd
}

func nextTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "next-token",
		Short: "Allocate the next value of today's daily sequence",
		RunE: func(cmd *cobra.Command, args []string) error {
			purpose, _ := cmd.Flags().GetString("purpose")
			return withCore(cmd, func(ctx context.Context, core *services.Core) (interface{}, error) {
				n, err := core.Sequences.NextToken(ctx, purpose)
				if err != nil {
					return nil, err
				}
				return map[string]interface{}{"purpose": purpose, "value": n}, nil
			})
		},
	}
	cmd.Flags().String("purpose", services.PurposeToken, "Sequence purpose")
	return cmd
}

func mirrorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mirror",
		Short: "Work with the cloud document mirror",
	}

	push := &cobra.Command{
		Use:   "push",
		Short: "Push patients and one day's bookings to the mirror",
		RunE: func(cmd *cobra.Command, args []string) error {
			date, _ := cmd.Flags().GetString("date")
			return withCore(cmd, func(ctx context.Context, core *services.Core) (interface{}, error) {
				if date == "" {
					date = core.Clock.Today()
				}
				return core.Mirror.Push(ctx, date)
			})
		},
	}
	push.Flags().String("date", "", "Booking day to push (YYYY-MM-DD), defaults to today")
	cmd.AddCommand(push)
	return cmd
}

func auditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect the audit chain",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "verify",
		Short: "Check the hash chain of the audit log",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCore(cmd, func(ctx context.Context, core *services.Core) (interface{}, error) {
				broken, err := core.Audit.Verify(ctx)
				if err != nil {
					return nil, err
				}
				if broken != 0 {
					_ = json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]interface{}{"intact": false, "broken_id": broken})
					return nil, fmt.Errorf("audit chain broken at record %d", broken)
				}
				return map[string]bool{"intact": true}, nil
			})
		},
	})
	return cmd
}
