package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"seatwatch/internal/app"
	"seatwatch/internal/memory"
	"seatwatch/internal/schedule"
	"seatwatch/pkg/logx"
)

func memoryCmd(cfgPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "memory",
		Short: "Inspect or back up the persisted record",
	}
	cmd.AddCommand(memoryShowCmd(cfgPath), memoryBackupCmd(cfgPath), memoryBackupsCmd(cfgPath))
	return cmd
}

func memoryShowCmd(cfgPath *string) *cobra.Command {
	var (
		asJSON   bool
		failures int
	)
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the persisted record",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, err := app.LoadConfig(ctx, *cfgPath)
			if err != nil {
				return err
			}
			st, err := app.OpenMemory(ctx, cfg, logx.NewConsole("warn"))
			if err != nil {
				return err
			}
			defer st.Close()
			rec, err := st.Load(ctx)
			if err != nil {
				return err
			}
			if asJSON {
				b, err := memory.Encode(rec)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), string(b))
				return err
			}
			printRecord(cmd.OutOrStdout(), rec, failures)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the raw JSON record")
	cmd.Flags().IntVar(&failures, "failures", 10, "number of recent failure_log entries to show")
	return cmd
}

func printRecord(w io.Writer, rec memory.Record, failures int) {
	header := color.New(color.Bold)
	zero := color.New(color.FgYellow)
	open := color.New(color.FgGreen)
	bad := color.New(color.FgRed)

	header.Fprintf(w, "Known items (%d)\n", len(rec.KnownItems))
	codes := make([]string, 0, len(rec.KnownItems))
	for c := range rec.KnownItems {
		codes = append(codes, c)
	}
	sort.Strings(codes)
	for _, c := range codes {
		q := rec.KnownItems[c]
		qty := open.Sprint(q)
		if q == 0 {
			qty = zero.Sprint(q)
		}
		fmt.Fprintf(w, "  %-12s %s\n", c, qty)
	}

	fmt.Fprintln(w)
	header.Fprintf(w, "Release hours (%d samples)\n", len(rec.ReleaseHours))
	counts := map[int]int{}
	for _, h := range rec.ReleaseHours {
		counts[h]++
	}
	mode, hasMode := schedule.ModeHour(rec.ReleaseHours)
	for h := 0; h < 24; h++ {
		n := counts[h]
		if n == 0 {
			continue
		}
		line := fmt.Sprintf("  %02d:00 %s %d", h, strings.Repeat("#", n), n)
		if hasMode && h == mode {
			line = open.Sprint(line + "  (most frequent)")
		}
		fmt.Fprintln(w, line)
	}

	fmt.Fprintln(w)
	header.Fprintf(w, "Failure log (%d entries)\n", len(rec.FailureLog))
	tail := rec.FailureLog
	if failures >= 0 && len(tail) > failures {
		tail = tail[len(tail)-failures:]
	}
	for _, f := range tail {
		fmt.Fprintf(w, "  %s\n", bad.Sprint(f))
	}
}

func memoryBackupCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "backup",
		Short: "Write a timestamped copy of the record into memory.backup.dir",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, err := app.LoadConfig(ctx, *cfgPath)
			if err != nil {
				return err
			}
			log := logx.NewConsole("warn")
			st, err := app.OpenMemory(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer st.Close()
			b, err := app.NewBackup(cfg, st, log)
			if err != nil {
				return err
			}
			path, err := b.Run(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}
}

func memoryBackupsCmd(cfgPath *string) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "backups",
		Short: "List backups, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := app.LoadConfig(cmd.Context(), *cfgPath)
			if err != nil {
				return err
			}
			names, err := memory.ListBackups(cfg.Memory.Backup.Dir)
			if err != nil {
				return err
			}
			if asJSON {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(names)
			}
			for _, n := range names {
				fmt.Fprintln(cmd.OutOrStdout(), n)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print as a JSON array")
	return cmd
}
