package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/aquamarinepk/vstore"
	"github.com/aquamarinepk/vstore/internal/app"
)

const appVersion = "v0.1.0"

type rootFlags struct {
	config string
	set    []string
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}
	root := &cobra.Command{
		Use:   "vstore",
		Short: "Versioned entity store",
		Long: `vstore keeps a live version of every entity row plus draft branches that
are folded back into live by merge.

Configuration is read from config.yaml, VSTORE_* environment variables and
--set key=value overrides, in that order.`,
		Version:       appVersion,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flags.config, "config", "", "path of the YAML config file")
	root.PersistentFlags().StringArrayVar(&flags.set, "set", nil, "override a config key, e.g. --set store.driver=postgres")

	root.AddCommand(
		newServeCmd(flags),
		newMigrateCmd(flags),
		newBranchCmd(flags),
		newMergeCmd(flags),
	)
	return root
}

// configArgs turns the persistent flags into the --key=value form read by
// vstore.LoadConfig.
func (f *rootFlags) configArgs() ([]string, error) {
	var args []string
	if f.config != "" {
		args = append(args, "--"+vstore.ConfigFileArg+"="+f.config)
	}
	for _, kv := range f.set {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || strings.TrimSpace(key) == "" {
			return nil, fmt.Errorf("--set %q: expected key=value", kv)
		}
		args = append(args, "--"+strings.TrimSpace(key)+"="+value)
	}
	return args, nil
}

func (f *rootFlags) load() (*vstore.Config, vstore.Logger, error) {
	args, err := f.configArgs()
	if err != nil {
		return nil, nil, err
	}
	cfg, err := vstore.LoadConfig(app.Namespace, args)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, vstore.NewLogger(cfg.GetStringOrDef("log.level", "info")), nil
}

// withApp opens the app for a one shot command and closes it afterwards.
func (f *rootFlags) withApp(ctx context.Context, fn func(*app.App) error) (err error) {
	cfg, log, err := f.load()
	if err != nil {
		return err
	}
	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.Close(context.Background()); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(a)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
