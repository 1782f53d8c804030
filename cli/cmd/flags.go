// Package cmd provides CLI commands for the ecsu binary.
package cmd

import "github.com/urfave/cli/v2"

// Shared flags for read-only commands.
var (
	// FormatFlag selects output format: json, table, yaml.
	FormatFlag = &cli.StringFlag{
		Name:  "format",
		Usage: "Output format: json, table, yaml",
	}

	// TUIFlag enables Bubble Tea interactive mode.
	// Only valid for list.
	TUIFlag = &cli.BoolFlag{
		Name:  "tui",
		Usage: "Enable interactive TUI mode (list only)",
	}
)

// Global flags, accepted before the command name.
var (
	// ConfigFlag overrides the config file location.
	ConfigFlag = &cli.StringFlag{
		Name:    "config",
		Usage:   "Path to config file (default ~/.ecsu/config.yaml)",
		EnvVars: []string{"ECSU_CONFIG"},
	}

	// ProfileFlag selects the settings profile.
	ProfileFlag = &cli.StringFlag{
		Name:    "profile",
		Usage:   "Settings profile",
		Value:   "default",
		EnvVars: []string{"ECSU_PROFILE"},
	}

	// LogLevelFlag overrides the configured log level.
	LogLevelFlag = &cli.StringFlag{
		Name:  "log-level",
		Usage: "Log level: debug, info, warn, error",
	}
)

// ReadOnlyFlags returns the shared flags for all read-only commands.
// Includes --tui so that unsupported commands can provide explicit error messages
// instead of generic "flag not defined" errors.
func ReadOnlyFlags() []cli.Flag {
	return []cli.Flag{
		FormatFlag,
		TUIFlag,
	}
}

// GlobalFlags returns the flags every command inherits.
func GlobalFlags() []cli.Flag {
	return []cli.Flag{
		ConfigFlag,
		ProfileFlag,
		LogLevelFlag,
	}
}

// statsFlag prints the transfer counters after a transfer.
var statsFlag = &cli.BoolFlag{
	Name:  "stats",
	Usage: "Print transfer counters when done",
}

// profileFlag lets a transfer command take --profile after its name.
// It is built per command so no set state is shared between them.
func profileFlag() cli.Flag {
	return &cli.StringFlag{
		Name:  "profile",
		Usage: "Settings profile (overrides the global --profile)",
	}
}

// passwordFlags select the encryption password source.
func passwordFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "password",
			Usage:   "Encryption password",
			EnvVars: []string{"ECSU_PASSWORD"},
		},
		&cli.StringFlag{
			Name:  "password-file",
			Usage: "Read the encryption password from the first line of a file",
		},
	}
}
