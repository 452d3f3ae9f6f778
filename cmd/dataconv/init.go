package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/goliatone/go-dataconv"
	"github.com/goliatone/go-dataconv/pkg/config"
)

type initFlags struct {
	output string
	force  bool
	yes    bool
}

func newInitCmd() *cobra.Command {
	flags := &initFlags{}
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a configuration file and starter templates",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var p prompter = surveyPrompter{}
			if flags.yes {
				p = defaultsPrompter{}
			}
			return runInit(cmd, p, flags)
		},
	}
	cmd.Flags().StringVarP(&flags.output, "output", "o", "dataconv.yaml", "configuration file to write")
	cmd.Flags().BoolVarP(&flags.force, "force", "f", false, "overwrite existing files")
	cmd.Flags().BoolVarP(&flags.yes, "yes", "y", false, "accept every default without prompting")
	return cmd
}

func runInit(cmd *cobra.Command, p prompter, flags *initFlags) error {
	if !flags.force {
		if _, err := os.Stat(flags.output); err == nil {
			return fmt.Errorf("init: %s exists, use --force to overwrite", flags.output)
		}
	}

	cfg := config.Default()
	var err error
	if cfg.Server.Listen, err = p.Input("HTTP listen address", cfg.Server.Listen); err != nil {
		return err
	}
	if cfg.Templates.Storage, err = p.Select("Template storage",
		[]string{config.StorageFS, config.StorageRedis}, cfg.Templates.Storage); err != nil {
		return err
	}

	starter := false
	switch cfg.Templates.Storage {
	case config.StorageRedis:
		if cfg.Redis.Addr, err = p.Input("Redis address", "localhost:6379"); err != nil {
			return err
		}
	default:
		if cfg.Templates.Root, err = p.Input("Template root", cfg.Templates.Root); err != nil {
			return err
		}
		if cfg.Templates.Watch, err = p.Confirm("Reload templates when files change?", true); err != nil {
			return err
		}
		if starter, err = p.Confirm("Copy starter templates?", true); err != nil {
			return err
		}
	}
	if cfg.Formats.CSV.Delimiter, err = p.Input("CSV delimiter", cfg.Formats.CSV.Delimiter); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	out, err := cfg.Marshal()
	if err != nil {
		return err
	}
	if err := os.WriteFile(flags.output, out, 0o644); err != nil {
		return fmt.Errorf("init: write %s: %w", flags.output, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", flags.output)

	if !starter {
		return nil
	}
	n, err := copyStarterTemplates(dataconv.StarterTemplates(), cfg.Templates.Root, flags.force)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "copied %d templates to %s\n", n, cfg.Templates.Root)
	return nil
}

// copyStarterTemplates writes every file in src under root. Existing files are
// kept unless force is set.
func copyStarterTemplates(src fs.FS, root string, force bool) (int, error) {
	copied := 0
	err := fs.WalkDir(src, ".", func(path string, entry fs.DirEntry, err error) error {
		if err != nil || entry.IsDir() {
			return err
		}
		dst := filepath.Join(root, filepath.FromSlash(path))
		if !force {
			if _, err := os.Stat(dst); err == nil {
				return nil
			} else if !errors.Is(err, fs.ErrNotExist) {
				return err
			}
		}
		body, err := fs.ReadFile(src, path)
		if err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(dst, body, 0o644); err != nil {
			return err
		}
		copied++
		return nil
	})
	if err != nil {
		return copied, fmt.Errorf("init: copy templates: %w", err)
	}
	return copied, nil
}

// defaultsPrompter answers every question with its default.
type defaultsPrompter struct{}

func (defaultsPrompter) Input(_, def string) (string, error) { return strings.TrimSpace(def), nil }

func (defaultsPrompter) Select(_ string, options []string, def string) (string, error) {
	if def == "" && len(options) > 0 {
		return options[0], nil
	}
	return def, nil
}

func (defaultsPrompter) Confirm(_ string, def bool) (bool, error) { return def, nil }
