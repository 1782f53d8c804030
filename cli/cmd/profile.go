package cmd

import (
	"fmt"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/Kovercrosser/easy-cold-storage-uploader/cli/config"
	"github.com/Kovercrosser/easy-cold-storage-uploader/cli/render"
	"github.com/Kovercrosser/easy-cold-storage-uploader/transfer"
)

// secretMask replaces secret values in output.
const secretMask = "********"

// ProfileCommand returns the profile command with subcommands. Settings
// are written to the config file; --profile selects the profile.
func ProfileCommand() *cli.Command {
	return &cli.Command{
		Name:  "profile",
		Usage: "Read and write profile settings",
		Subcommands: []*cli.Command{
			{
				Name:      "set",
				Usage:     "Set a setting (an empty value removes it)",
				ArgsUsage: "<key> <value>",
				Action:    profileSetAction,
			},
			{
				Name:      "get",
				Usage:     "Print a setting",
				ArgsUsage: "<key>",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "show-secret", Usage: "Print secret values unmasked"},
				},
				Action: profileGetAction,
			},
			{
				Name:   "list",
				Usage:  "List profiles and their settings",
				Flags:  ReadOnlyFlags(),
				Action: profileListAction,
			},
			{
				Name:   "keys",
				Usage:  "List the known setting keys",
				Action: profileKeysAction,
			},
		},
	}
}

// profileName returns the innermost --profile that was set, so
// "ecsu upload --profile work" and "ecsu --profile work upload" agree.
func profileName(c *cli.Context) string {
	for _, ctx := range c.Lineage() {
		if ctx.IsSet("profile") {
			if p := ctx.String("profile"); p != "" {
				return p
			}
		}
	}
	return config.DefaultProfile
}

func profileSetAction(c *cli.Context) error {
	if c.NArg() != 2 {
		return transfer.ConfigError("profile", "usage: profile set <key> <value>")
	}
	path, err := configPath(c)
	if err != nil {
		return transfer.ConfigError("profile", "%v", err)
	}
	// Unexpanded, so ${VAR} references survive the rewrite.
	cfg, err := config.LoadForEdit(path)
	if err != nil {
		return transfer.ConfigError("profile", "%v", err)
	}
	profile, key := profileName(c), c.Args().Get(0)
	if err := cfg.Set(profile, key, c.Args().Get(1)); err != nil {
		return transfer.ConfigError("profile", "%v", err)
	}
	if err := config.Save(path, cfg); err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "%s.%s updated in %s\n", profile, key, path)
	return nil
}

func profileGetAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return transfer.ConfigError("profile", "usage: profile get <key>")
	}
	e, err := loadEnv(c)
	if err != nil {
		return err
	}
	key := c.Args().First()
	v, ok := e.cfg.Setting(e.profile, key)
	if !ok {
		return transfer.ConfigError("profile", "%s is not set in profile %q", key, e.profile)
	}
	if config.IsSecret(key) && !c.Bool("show-secret") {
		v = secretMask
	}
	fmt.Fprintln(e.stdout, v)
	return nil
}

// ProfileSettings is the list output for one profile.
type ProfileSettings struct {
	Name     string            `json:"name" yaml:"name"`
	Settings map[string]string `json:"settings" yaml:"settings"`
}

func profileListAction(c *cli.Context) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}
	if c.Bool("tui") {
		return cli.Exit("--tui is not supported for profile commands", 1)
	}
	e, err := loadEnv(c)
	if err != nil {
		return err
	}

	out := make([]ProfileSettings, 0, len(e.cfg.Profiles))
	for _, name := range e.cfg.ProfileNames() {
		settings := make(map[string]string, len(e.cfg.Profiles[name]))
		for k, v := range e.cfg.Profiles[name] {
			if config.IsSecret(k) {
				v = secretMask
			}
			settings[k] = v
		}
		out = append(out, ProfileSettings{Name: name, Settings: settings})
	}
	if r.Format() == render.FormatTable {
		for _, p := range out {
			fmt.Fprintf(e.stdout, "[%s]\n", p.Name)
			if err := render.NewRendererWithWriter(render.FormatTable, e.stdout).Render(p.Settings); err != nil {
				return err
			}
		}
		return nil
	}
	return r.Render(out)
}

func profileKeysAction(c *cli.Context) error {
	_, err := fmt.Fprintln(c.App.Writer, strings.Join(config.KnownKeys(), "\n"))
	return err
}
