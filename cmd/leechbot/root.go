package main

import (
	"github.com/gin-gonic/gin"
	"github.com/pokerjest/animeleech/internal/config"
	"github.com/spf13/cobra"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func newRootCommand() *cobra.Command {
	var configDir string

	rootCmd := &cobra.Command{
		Use:           "leechbot",
		Short:         "Anime leech bot",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			if err := config.LoadConfig(configDir); err != nil {
				return err
			}
			gin.SetMode(config.AppConfig.Server.Mode)
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	rootCmd.PersistentFlags().StringVarP(&configDir, "config", "c", "", "Directory containing config.yaml")

	rootCmd.AddCommand(newRunCommand())
	rootCmd.AddCommand(newSweepCommand())
	rootCmd.AddCommand(newVersionCommand())
	return rootCmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Println("leechbot " + version)
		},
	}
}
