// Command ft-server serves the food token HTTP API.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/and161185/foodtoken/internal/config"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

type rootFlags struct {
	configPath string
	dev        bool
	backend    string
	dsn        string
	addr       string
}

func newRootCmd() *cobra.Command {
	f := &rootFlags{}
	root := &cobra.Command{
		Use:           "ft-server",
		Short:         "Issue and redeem single-use food tokens",
		Version:       fmt.Sprintf("%s (built: %s)", version, buildDate),
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	pf := root.PersistentFlags()
	pf.StringVar(&f.configPath, "config", "", "path to YAML config file")
	pf.BoolVar(&f.dev, "dev", false, "development logging")
	pf.StringVar(&f.backend, "backend", "", "record store: postgres, redis, badger or memory")
	pf.StringVar(&f.dsn, "dsn", "", "PostgreSQL DSN")
	pf.StringVar(&f.addr, "addr", "", "listen address")

	root.AddCommand(
		newServeCmd(f),
		newMigrateCmd(f),
		newHashPasswordCmd(),
		newOperatorCmd(f),
	)
	return root
}

// load merges file, env and the flags the user actually set.
func (f *rootFlags) load(cmd *cobra.Command) (config.Config, error) {
	ov := map[string]any{}
	flags := cmd.Flags()
	if flags.Changed("dev") {
		ov["dev"] = f.dev
	}
	if flags.Changed("backend") {
		ov["store.backend"] = f.backend
	}
	if flags.Changed("dsn") {
		ov["store.dsn"] = f.dsn
	}
	if flags.Changed("addr") {
		ov["server.addr"] = f.addr
	}
	return config.Load(f.configPath, ov)
}

func newLogger(dev bool) (*zap.Logger, error) {
	if dev {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
