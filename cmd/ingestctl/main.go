// ingestctl is the operator CLI: it loads attempt-event files straight into
// the store through the same pipeline the gateway uses, and prints
// summaries for quick inspection.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/assessops/platform/internal/config"
	"github.com/assessops/platform/internal/db"
	"github.com/assessops/platform/internal/ingestfile"
	"github.com/assessops/platform/internal/logx"
	"github.com/assessops/platform/internal/pipeline"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		color.Red("Error: %v", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "ingestctl",
		Short:        "Ingest and inspect assessment attempt data",
		SilenceUsage: true,
	}
	root.AddCommand(ingestCmd(), analyzeCmd(), statsCmd(), leaderboardCmd(), resetCmd())
	return root
}

func openStore(ctx context.Context) (*pipeline.SQLStore, *sql.DB, config.Config, error) {
	cfg := config.FromEnv()
	dbh, err := db.Open(ctx, db.Driver(cfg.DBDriver), cfg.DBDSN)
	if err != nil {
		return nil, nil, cfg, fmt.Errorf("open db: %w", err)
	}
	return pipeline.NewSQLStore(dbh), dbh, cfg, nil
}

func ingestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ingest <file>",
		Short: "Ingest a JSON or CSV event file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := logx.WithLogger(cmd.Context(), logx.New("warn", "text"))

			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			events, err := ingestfile.ParseFile(args[0], data)
			if err != nil {
				return err
			}

			store, dbh, cfg, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer dbh.Close()

			pipe := pipeline.New(store,
				pipeline.WithDedupWindow(cfg.DedupWindow),
				pipeline.WithSimilarityThreshold(cfg.SimilarityThreshold),
			)

			start := time.Now()
			br := pipe.ProcessBatch(ctx, events)

			color.Cyan("Processed %d events in %s", len(events), time.Since(start).Round(time.Millisecond))
			table := tablewriter.NewWriter(os.Stdout)
			table.SetHeader([]string{"Scored", "Duplicates", "Skipped", "Warnings", "Errors"})
			table.Append([]string{
				strconv.Itoa(br.Ingested),
				strconv.Itoa(br.Duplicates),
				strconv.Itoa(br.Skipped),
				strconv.Itoa(br.Warnings),
				strconv.Itoa(br.Errors),
			})
			table.Render()

			for _, res := range br.Results {
				if res.Status == pipeline.ResultError || res.Status == pipeline.ResultWarning {
					color.Yellow("%s: %s (%s)", res.SourceEventID, res.Status, res.Message)
				}
			}
			if br.Errors > 0 {
				return fmt.Errorf("%d events failed", br.Errors)
			}
			return nil
		},
	}
}

func analyzeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "analyze <file>",
		Short: "Analyze a JSON or CSV event file without ingesting",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			events, err := ingestfile.ParseFile(args[0], data)
			if err != nil {
				return err
			}
			an := ingestfile.Analyze(events)

			color.Cyan("Analysis of %s", args[0])
			fmt.Printf("Events: %d  Students: %d  Emails: %d  Phones: %d\n",
				an.TotalEvents, an.UniqueStudents, an.UniqueEmails, an.UniquePhones)
			fmt.Printf("Answers: %d total, %d answered, %d skipped (%.1f%% skip rate)\n",
				an.TotalAnswers, an.AnsweredCount, an.SkipCount, an.SkipRatePercent)
			fmt.Printf("Potential duplicate groups: %d\n", an.PotentialDuplicateGroups)

			if len(an.Tests) > 0 {
				color.Yellow("\nTests")
				table := tablewriter.NewWriter(os.Stdout)
				table.SetHeader([]string{"Test", "Events", "Max Marks"})
				for _, t := range an.Tests {
					table.Append([]string{t.Name, strconv.Itoa(t.Count), strconv.Itoa(t.MaxMarks)})
				}
				table.Render()
			}
			return nil
		},
	}
}

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show database statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, dbh, _, err := openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer dbh.Close()

			st, err := store.Stats(cmd.Context())
			if err != nil {
				return err
			}
			table := tablewriter.NewWriter(os.Stdout)
			table.SetHeader([]string{"Attempts", "Students", "Tests", "Scored", "Deduped", "Flagged"})
			table.Append([]string{
				strconv.Itoa(st.TotalAttempts),
				strconv.Itoa(st.TotalStudents),
				strconv.Itoa(st.TotalTests),
				strconv.Itoa(st.Scored),
				strconv.Itoa(st.Deduped),
				strconv.Itoa(st.Flagged),
			})
			table.Render()
			return nil
		},
	}
}

func leaderboardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "leaderboard <test-name>",
		Short: "Print the leaderboard for a test",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, dbh, _, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer dbh.Close()

			test, err := store.GetTestByName(ctx, args[0])
			if err != nil {
				if errors.Is(err, pipeline.ErrTestNotFound) {
					return fmt.Errorf("no test named %q", args[0])
				}
				return err
			}
			lb, err := pipeline.NewLeaderboardRanker(store).Rank(ctx, test.ID)
			if err != nil {
				return err
			}

			color.Yellow("Leaderboard: %s (%d students)", lb.TestName, len(lb.Entries))
			table := tablewriter.NewWriter(os.Stdout)
			table.SetHeader([]string{"Rank", "Student", "Score", "Accuracy", "Net", "C/W/S", "Submitted"})
			for _, e := range lb.Entries {
				table.Append([]string{
					strconv.Itoa(e.Rank),
					e.FullName,
					fmt.Sprintf("%.2f", e.Score),
					fmt.Sprintf("%.2f", e.Accuracy),
					strconv.Itoa(e.NetCorrect),
					fmt.Sprintf("%d/%d/%d", e.Correct, e.Wrong, e.Skipped),
					e.SubmittedAt.Format(time.RFC3339),
				})
			}
			table.Render()
			return nil
		},
	}
}

func resetCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete all ingested data",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("refusing to reset without --yes")
			}
			store, dbh, _, err := openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer dbh.Close()

			if err := store.Reset(cmd.Context()); err != nil {
				return err
			}
			color.Green("All data cleared")
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm the reset")
	return cmd
}
