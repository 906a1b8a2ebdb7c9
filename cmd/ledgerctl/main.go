package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	_ "github.com/joho/godotenv/autoload"
	"github.com/spf13/cobra"

	"github.com/sjperalta/rcm-ledger/internal/app"
	"github.com/sjperalta/rcm-ledger/internal/config"
	"github.com/sjperalta/rcm-ledger/internal/database"
	"github.com/sjperalta/rcm-ledger/internal/handlers"
	"github.com/sjperalta/rcm-ledger/internal/services"
	"github.com/sjperalta/rcm-ledger/pkg/logger"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "ledgerctl",
		Short:         "RCM ledger maintenance commands",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(importEraCmd())
	rootCmd.AddCommand(reconcileCmd())
	rootCmd.AddCommand(reverseCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger.Setup(cfg.Environment, cfg.LogLevel)
	return cfg, nil
}

// withLedger builds the ledger, runs fn and shuts everything down
func withLedger(fn func(ctx context.Context, ledger *app.App) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ledger, err := app.New(cfg, false)
	if err != nil {
		return err
	}

	runErr := fn(context.Background(), ledger)
	if err := ledger.Close(); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the ledger schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			db, err := database.Open(cfg.DatabaseURL, database.Options{MaxOpenConns: cfg.DBMaxOpenConns})
			if err != nil {
				return err
			}
			defer database.Close(db)

			if err := database.Migrate(db); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Ledger schema is up to date.")
			return nil
		},
	}
}

// loadEraFile reads a JSON batch in the same shape POST /era/batches accepts.
// The file name defaults to the base name of path.
func loadEraFile(path string) (*handlers.CreateBatchRequest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read era file: %w", err)
	}

	var req handlers.CreateBatchRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("parse era file %s: %w", path, err)
	}
	if len(req.Items) == 0 {
		return nil, fmt.Errorf("era file %s has no items", path)
	}
	if req.FileName == "" {
		req.FileName = filepath.Base(path)
	}
	return &req, nil
}

func importEraCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import-era <file.json>",
		Short: "Process an ERA batch file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			autoPost, _ := cmd.Flags().GetBool("auto-post")
			actorID, _ := cmd.Flags().GetUint("actor")
			batchSize, _ := cmd.Flags().GetInt("batch-size")

			file, err := loadEraFile(args[0])
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("auto-post") {
				file.AutoPost = autoPost
			}
			if batchSize > 0 {
				file.BatchSize = batchSize
			}
			req, err := file.ToBatchRequest(actorID)
			if err != nil {
				return err
			}

			return withLedger(func(ctx context.Context, ledger *app.App) error {
				res, err := ledger.Services.Batch.ProcessBatch(ctx, req)
				if err != nil {
					return err
				}
				if err := printJSON(cmd.OutOrStdout(), res); err != nil {
					return err
				}
				if res.Outcome == services.OutcomeFailed {
					return fmt.Errorf("every line in %s failed", req.FileName)
				}
				return nil
			})
		},
	}
	cmd.Flags().Bool("auto-post", false, "Post paid lines as payments (overrides the file)")
	cmd.Flags().Uint("actor", 0, "User id recorded as the poster")
	cmd.Flags().Int("batch-size", 0, "Lines per chunk (default from BATCH_SIZE)")
	return cmd
}

func reconcileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Compare account balances with their claims",
		RunE: func(cmd *cobra.Command, args []string) error {
			patientID, _ := cmd.Flags().GetUint("patient")

			return withLedger(func(ctx context.Context, ledger *app.App) error {
				if patientID != 0 {
					rec, err := ledger.Services.Reconciliation.ReconcileAccount(ctx, patientID)
					if err != nil {
						return err
					}
					return printJSON(cmd.OutOrStdout(), rec)
				}

				report, err := ledger.Services.Reconciliation.ReconcileAll(ctx)
				if err != nil {
					return err
				}
				if err := printJSON(cmd.OutOrStdout(), report); err != nil {
					return err
				}
				if report.DriftedAccounts > 0 || len(report.UnbalancedClaims) > 0 {
					return fmt.Errorf("%d drifted accounts, %d unbalanced claims", report.DriftedAccounts, len(report.UnbalancedClaims))
				}
				return nil
			})
		},
	}
	cmd.Flags().Uint("patient", 0, "Reconcile a single patient account")
	return cmd
}

func reverseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reverse",
		Short: "Reverse a posted payment",
		RunE: func(cmd *cobra.Command, args []string) error {
			paymentID, _ := cmd.Flags().GetUint("payment")
			actorID, _ := cmd.Flags().GetUint("actor")
			reason, _ := cmd.Flags().GetString("reason")

			return withLedger(func(ctx context.Context, ledger *app.App) error {
				res, err := ledger.Services.Reversal.Reverse(ctx, services.ReverseRequest{
					PaymentID: paymentID,
					ActorID:   actorID,
					Reason:    reason,
				})
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), res)
			})
		},
	}
	cmd.Flags().Uint("payment", 0, "Payment id to reverse")
	cmd.Flags().Uint("actor", 0, "User id recorded on the reversal")
	cmd.Flags().String("reason", "", "Why the payment is reversed")
	_ = cmd.MarkFlagRequired("payment")
	_ = cmd.MarkFlagRequired("reason")
	return cmd
}
