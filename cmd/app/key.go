package main

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/local/aihelper/internal/ai"
	"github.com/local/aihelper/internal/credential"
)

var keyCmd = &cobra.Command{
	Use:   "key",
	Short: "Manage provider API keys in the OS keyring",
}

var keySetCmd = &cobra.Command{
	Use:   "set PROVIDER",
	Short: "Store an API key read from stdin",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		vendor, err := ai.ParseVendor(args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "API key for %s: ", vendor)
		line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		if err != nil && line == "" {
			return fmt.Errorf("read key: %w", err)
		}
		key := strings.TrimSpace(line)
		if key == "" {
			return errors.New("empty key")
		}
		ks, err := credential.Open()
		if err != nil {
			return err
		}
		if err := ks.Set(vendor.KeyName(), key); err != nil {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "\nStored. Restart aihelper for the new key to take effect.\n")
		return nil
	},
}

var keyDeleteCmd = &cobra.Command{
	Use:   "delete PROVIDER",
	Short: "Remove a stored API key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		vendor, err := ai.ParseVendor(args[0])
		if err != nil {
			return err
		}
		ks, err := credential.Open()
		if err != nil {
			return err
		}
		return ks.Delete(vendor.KeyName())
	},
}

func init() {
	keyCmd.AddCommand(keySetCmd, keyDeleteCmd)
}
