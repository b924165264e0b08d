package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/kjstillabower/rainfall-advisory-service/internal/advisory"
	"github.com/kjstillabower/rainfall-advisory-service/internal/observability"
	"github.com/kjstillabower/rainfall-advisory-service/internal/predictlog"
	"github.com/kjstillabower/rainfall-advisory-service/internal/report"
)

const defaultLogPath = "prediction_log.csv"

// newRootCommand builds the CLI. The log path resolves from --log, then
// ADVISORY_LOG_PATH, then the default next to the working directory.
func newRootCommand(v *viper.Viper) *cobra.Command {
	var logger *zap.Logger

	root := &cobra.Command{
		Use:           "advisoryctl",
		Short:         "Rainfall advisory and prediction log tools",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			l, err := observability.NewCLILogger(v.GetBool("verbose"))
			if err != nil {
				return fmt.Errorf("logger: %w", err)
			}
			logger = l
			return nil
		},
	}

	root.PersistentFlags().String("log", defaultLogPath, "Path to the prediction log CSV")
	root.PersistentFlags().BoolP("verbose", "v", false, "Enable debug logging on stderr")
	_ = v.BindPFlags(root.PersistentFlags())
	_ = v.BindEnv("log", "ADVISORY_LOG_PATH")

	openStore := func() *predictlog.FileStore {
		return predictlog.NewFileStore(v.GetString("log"), logger)
	}

	root.AddCommand(
		classifyCommand(),
		tailCommand(openStore),
		reportCommand(openStore),
		exportCommand(openStore),
	)
	return root
}

func classifyCommand() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "classify <mm>",
		Short: "Print the crop advisory for a rainfall figure in millimeters",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mm, err := strconv.ParseFloat(args[0], 64)
			if err != nil {
				return fmt.Errorf("rainfall must be a number, got %q", args[0])
			}
			a := advisory.Classify(mm)
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(a)
			}
			_, err = fmt.Fprintf(out, "%s\n\n%s\nMaize: %s\nBeans: %s\n", a.Title, a.General, a.Maize, a.Beans)
			return err
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the advisory as JSON")
	return cmd
}

func tailCommand(openStore func() *predictlog.FileStore) *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Print the most recent prediction log rows as CSV",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, err := openStore().Tail(cmd.Context(), n)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if snap.State == predictlog.StateAbsent {
				fmt.Fprintln(cmd.ErrOrStderr(), "prediction log is empty")
				return nil
			}
			if _, err := out.Write(predictlog.EncodeHeader()); err != nil {
				return err
			}
			for _, rec := range snap.Records {
				line, err := predictlog.EncodeRecord(rec)
				if err != nil {
					return err
				}
				if _, err := out.Write(line); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&n, "lines", "n", 10, "Number of rows to print")
	return cmd
}

func reportCommand(openStore func() *predictlog.FileStore) *cobra.Command {
	return &cobra.Command{
		Use:   "report",
		Short: "Print the advisory report for the latest prediction",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, err := openStore().Tail(cmd.Context(), 1)
			if err != nil {
				return err
			}
			return report.WriteText(cmd.OutOrStdout(), report.NewReport(snap.Records, time.Now()))
		},
	}
}

func exportCommand(openStore func() *predictlog.FileStore) *cobra.Command {
	var (
		output string
		n      int
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write recent predictions to an .xlsx spreadsheet",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			if n < 1 {
				return fmt.Errorf("-n must be at least 1")
			}
			snap, err := openStore().Tail(cmd.Context(), n)
			if err != nil {
				return err
			}
			f, err := os.Create(output)
			if err != nil {
				return fmt.Errorf("create %s: %w", output, err)
			}
			defer func() {
				if cerr := f.Close(); err == nil && cerr != nil {
					err = cerr
				}
			}()
			if err := report.WriteXLSX(f, snap.Records); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "wrote %d predictions to %s\n", len(snap.Records), output)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "prediction_history.xlsx", "Spreadsheet file to write")
	cmd.Flags().IntVarP(&n, "lines", "n", 50, "Number of recent predictions to export")
	return cmd
}
