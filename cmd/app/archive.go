package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	cfgpkg "github.com/local/aihelper/internal/config"
	logpkg "github.com/local/aihelper/internal/logger"
)

var archiveCmd = &cobra.Command{
	Use:   "archive",
	Short: "Read archived session transcripts",
}

var archiveGetCmd = &cobra.Command{
	Use:   "get KEY",
	Short: "Download a transcript, decrypting it with the configured password",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := cfgpkg.Load(cfgFile)
		if err != nil {
			return err
		}
		initLogging(cfg, os.Stderr)
		defer logpkg.Close()
		arc, err := newArchiver(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		md, err := arc.Fetch(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), md)
		return nil
	},
}

func init() {
	archiveCmd.AddCommand(archiveGetCmd)
}
