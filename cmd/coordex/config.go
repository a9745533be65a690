package main

import (
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/coordex/internal/config"
	"github.com/ShayCichocki/coordex/internal/sessionconfig"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Get and set budget/session configuration by dot-path",
}

func init() {
	configCmd.AddCommand(configGetCmd)
	configCmd.AddCommand(configSetCmd)
}

func openSessionConfig() (*sessionconfig.Store, error) {
	path := filepath.Join(config.UserConfigDir(), "budget.json")
	return sessionconfig.Open(path)
}

var configGetCmd = &cobra.Command{
	Use:   "get <dot.path>",
	Short: "Print the value at a dot-path, e.g. budget.monthlyLimit",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSessionConfig()
		if err != nil {
			return fail(err)
		}
		value := s.Get(args[0])
		if value == "" {
			warn("(not set)")
			return nil
		}
		info(value)
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <dot.path> <value>",
	Short: "Set the value at a dot-path, auto-creating intermediate objects",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSessionConfig()
		if err != nil {
			return fail(err)
		}
		if err := s.Set(args[0], args[1]); err != nil {
			return fail(err)
		}
		if err := s.FlushSync(); err != nil {
			return fail(err)
		}
		ok("set %s = %s", args[0], args[1])
		return nil
	},
}
