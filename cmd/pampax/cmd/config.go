package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/pampax/pampax/configs"
	"github.com/pampax/pampax/internal/config"
	"github.com/pampax/pampax/internal/errors"
	"github.com/pampax/pampax/internal/output"
)

func newConfigCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect, validate, or export configuration",
	}
	cmd.AddCommand(
		newConfigInitCmd(root),
		newConfigShowCmd(root),
		newConfigValidateCmd(root),
		newConfigExportCmd(root),
	)
	return cmd
}

func newConfigInitCmd(root *rootOptions) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the annotated starter config to .pampax.yaml",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			start := time.Now()
			path := filepath.Join(root.root, config.ProjectFileName)

			if _, err := os.Stat(path); err == nil && !force {
				return errors.Ef(errors.KindConflict, "cmd.configInit",
					"%s already exists, use --force to overwrite", path)
			}
			if err := os.WriteFile(path, configs.DefaultTemplate, 0o644); err != nil {
				return errors.Wrap(errors.KindInternal, "cmd.configInit", err)
			}
			if root.jsonOut {
				return emit(cmd, root, "config init", map[string]string{"path": path}, start)
			}
			output.New(cmd.OutOrStdout()).Successf("wrote %s", path)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing project file")
	return cmd
}

func newConfigShowCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration after all layers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			start := time.Now()
			cfg, err := loadConfig(root)
			if err != nil {
				return err
			}
			if root.jsonOut {
				return emit(cmd, root, "config show", cfg, start)
			}

			data, err := yaml.Marshal(cfg)
			if err != nil {
				return errors.Wrap(errors.KindInternal, "cmd.configShow", err)
			}
			fmt.Fprint(cmd.OutOrStdout(), string(data))
			return nil
		},
	}
}

func newConfigValidateCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the layered configuration for problems",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			start := time.Now()
			cfg, err := loadConfig(root)
			if err != nil {
				if root.jsonOut {
					return emitError(cmd, root, "config validate", err, start)
				}
				return err
			}

			verr := cfg.Validate()
			if root.jsonOut {
				if verr != nil {
					return emitError(cmd, root, "config validate", verr, start)
				}
				return emit(cmd, root, "config validate", map[string]any{
					"valid":    true,
					"warnings": cfg.Warnings(),
				}, start)
			}

			out := output.New(cmd.OutOrStdout())
			for _, w := range cfg.Warnings() {
				out.Warningf("%s", w)
			}
			if verr != nil {
				return verr
			}
			out.Successf("configuration is valid")
			return nil
		},
	}
}

func newConfigExportCmd(root *rootOptions) *cobra.Command {
	var dest string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the effective configuration to a project file",
		Long: `Export writes the effective configuration as YAML, by default to
.pampax.yaml at the repository root. An existing file is kept as a
.bak alongside the new one.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			start := time.Now()
			cfg, err := loadConfig(root)
			if err != nil {
				return err
			}

			path := dest
			if path == "" {
				path = filepath.Join(root.root, config.ProjectFileName)
			}
			if err := cfg.Save(path); err != nil {
				if root.jsonOut {
					return emitError(cmd, root, "config export", err, start)
				}
				return err
			}
			if root.jsonOut {
				return emit(cmd, root, "config export", map[string]string{"path": path}, start)
			}
			output.New(cmd.OutOrStdout()).Successf("wrote %s", path)
			return nil
		},
	}

	cmd.Flags().StringVarP(&dest, "output", "o", "", "destination file (defaults to .pampax.yaml)")
	return cmd
}

func loadConfig(root *rootOptions) (*config.Config, error) {
	abs, err := filepath.Abs(root.root)
	if err != nil {
		return nil, errors.Wrap(errors.KindInvalidInput, "cmd.loadConfig", err)
	}
	return config.Load(abs)
}
