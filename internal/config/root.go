package config

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// NewRootCommand builds a cobra command shared by syndicate-ug,
// syndicate-rg, and syndicate-ag: it binds spec §6's flags, loads
// config (honoring -R's read-args-from-stdin), validates it, and
// hands the result and the bound flag set to run. use is the
// command's argv[0]-style name (e.g. "syndicate-ug"), shown in
// --help. extraFlags registers deployment-specific, binary-local
// flags (e.g. where each role's driver executables live) that spec
// §6's own CLI surface doesn't name; it runs after the shared flags
// are bound. run receives the same *pflag.FlagSet extraFlags
// registered on (cmd.Flags(), not the package-level pflag.CommandLine)
// so it can read those binary-local values back after parsing.
func NewRootCommand(use string, run func(cfg *Config, flags *pflag.FlagSet) error, extraFlags ...func(*pflag.FlagSet)) *cobra.Command {
	var bindErr error

	cmd := &cobra.Command{
		Use:  use,
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if bindErr != nil {
				return bindErr
			}

			readStdin, _ := cmd.Flags().GetBool("read-args-from-stdin")
			if readStdin {
				stdinArgs, err := ReadStdinArgs(os.Stdin)
				if err != nil {
					return fmt.Errorf("reading args from stdin: %w", err)
				}
				if err := cmd.Flags().Parse(stdinArgs); err != nil {
					return fmt.Errorf("parsing stdin args: %w", err)
				}
			}

			cfgFile, _ := cmd.Flags().GetString("config-file")
			cfg, err := Load(cfgFile)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			return run(cfg, cmd.Flags())
		},
	}

	bindErr = BindFlags(cmd.Flags())
	for _, fn := range extraFlags {
		fn(cmd.Flags())
	}
	return cmd
}

// Execute runs cmd, printing any error to stderr and exiting 1 (spec
// §6 "Exit code 0 on clean shutdown, 1 on init failure"), matching
// the teacher's cmd.Execute().
func Execute(cmd *cobra.Command) {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	// reset viper's global state so a subsequent Execute (e.g. in
	// tests that construct multiple root commands) doesn't inherit
	// stale bindings from a previous one.
	viper.Reset()
}
