package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/urfave/cli/v2"
	"golang.org/x/term"

	"github.com/Kovercrosser/easy-cold-storage-uploader/filter"
	"github.com/Kovercrosser/easy-cold-storage-uploader/transfer"
)

// resolvePassword returns the encryption password from --password,
// --password-file or an interactive prompt, in that order. With confirm
// set the prompt asks twice.
func resolvePassword(c *cli.Context, prompt io.Writer, confirm bool) (string, error) {
	if p := c.String("password"); p != "" {
		return p, nil
	}
	if path := c.String("password-file"); path != "" {
		return readPasswordFile(path)
	}

	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", transfer.ConfigError("password", "%v: use --password or --password-file", filter.ErrPasswordRequired)
	}
	pw, err := promptPassword(fd, prompt, "Password: ")
	if err != nil {
		return "", err
	}
	if confirm {
		again, err := promptPassword(fd, prompt, "Repeat password: ")
		if err != nil {
			return "", err
		}
		if again != pw {
			return "", transfer.ConfigError("password", "passwords do not match")
		}
	}
	return pw, nil
}

// readPasswordFile returns the first line of path, trimmed.
func readPasswordFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", transfer.ConfigError("password", "read password file: %v", err)
	}
	line, _, _ := strings.Cut(string(data), "\n")
	line = strings.TrimSpace(line)
	if line == "" {
		return "", transfer.ConfigError("password", "password file %s is empty", path)
	}
	return line, nil
}

func promptPassword(fd int, out io.Writer, label string) (string, error) {
	fmt.Fprint(out, label)
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(out)
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	if len(b) == 0 {
		return "", transfer.ConfigError("password", "%v", filter.ErrPasswordRequired)
	}
	return string(b), nil
}
