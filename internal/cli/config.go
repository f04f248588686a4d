package cli

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"seatwatch/internal/app"
)

func configCmd(cfgPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Config file helpers",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "check",
		Short: "Parse, expand and validate the config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := app.LoadConfig(cmd.Context(), *cfgPath)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "%s %s\n", color.New(color.FgGreen).Sprint("OK"), *cfgPath)
			fmt.Fprintf(w, "  portal:   prefix %s, headless %v\n", cfg.Portal.Prefix, cfg.Portal.IsHeadless())
			fmt.Fprintf(w, "  memory:   %s\n", orDefault(cfg.Memory.Driver, "file"))
			fmt.Fprintf(w, "  notifier: %s\n", orDefault(cfg.Notifier.Driver, "telegram"))
			fmt.Fprintf(w, "  commands: %v\n", cfg.Telegram.Commands)
			fmt.Fprintf(w, "  backup:   %s\n", orDefault(cfg.Memory.Backup.Schedule, "off"))
			fmt.Fprintf(w, "  ops:      %v\n", cfg.Ops.Enabled)
			return nil
		},
	})
	return cmd
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
