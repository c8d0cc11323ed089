package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/recera/livetag/cmd/livetag/internal/config"
	"github.com/spf13/cobra"
)

const sampleRules = `configuration:
  rules:
    ignorePinch: true
  events:
    "tap.single.handleTap:.LoginButton.LoginScreen":
      title: login
    "scroll":
      ignoreElement: true
`

func newInitCommand(_ *globalFlags) *cobra.Command {
	var dir string
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default livetag.json and sample rules",
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath := filepath.Join(dir, config.FileName)
			if _, err := os.Stat(configPath); err == nil && !force {
				return fmt.Errorf("%s already exists, use --force to overwrite", configPath)
			}

			cfg := config.DefaultConfig()
			cfg.Live.Token = uuid.NewString()
			if err := config.Save(cfg, dir); err != nil {
				return fmt.Errorf("failed to write config: %w", err)
			}

			rulesPath := filepath.Join(dir, cfg.Rules.Path)
			if _, err := os.Stat(rulesPath); os.IsNotExist(err) {
				if err := os.WriteFile(rulesPath, []byte(sampleRules), 0644); err != nil {
					return fmt.Errorf("failed to write rules: %w", err)
				}
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s (token %s)\n", configPath, cfg.Live.Token)
			return nil
		},
	}

	cmd.Flags().StringVarP(&dir, "dir", "d", ".", "Directory to write into")
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing livetag.json")

	return cmd
}
