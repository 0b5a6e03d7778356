package cli

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/headline-goat/funnel-engine/internal/config"
)

var (
	configFile string
	cfg        *config.Config
	logger     = logrus.New()
)

var rootCmd = &cobra.Command{
	Use:   "fnl",
	Short: "Funnel engine - metrics, funnels, alerts and split-test routing",
	Long: `fnl derives analytics from a marketing event stream and routes
split-test traffic.

It evaluates metric definitions into values and daily series, breaks funnels
down by step and source, raises alerts when event streams go quiet, and
assigns visitors to experiment variants with sticky cookies backed by a
durable ledger.`,
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configFile, "config", "", "config file (default: ./fnl.yaml or ./config/fnl.yaml)")
	pf.String("db", "", "database path or DSN (overrides database.dsn)")
	pf.String("driver", "", "database driver: sqlite or postgres (overrides database.driver)")
	pf.String("log-level", "", "log level (overrides log.level)")
}

func loadConfig(cmd *cobra.Command, args []string) error {
	v := viper.New()
	if err := config.BindFlags(v, cmd.Flags()); err != nil {
		return err
	}
	c, err := config.Load(v, configFile)
	if err != nil {
		return err
	}
	cfg = c
	return setupLogging(c)
}

func setupLogging(c *config.Config) error {
	level, err := logrus.ParseLevel(c.Log.Level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", c.Log.Level, err)
	}
	logger.SetLevel(level)
	logger.SetOutput(os.Stderr)
	if c.Log.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return nil
}
