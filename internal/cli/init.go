package cli

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/headline-goat/funnel-engine/internal/config"
)

// setupAnswers are the settings collected by fnl init.
type setupAnswers struct {
	Driver       string
	DSN          string
	Port         int
	LedgerDriver string
	RedisAddr    string
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write an fnl.yaml config interactively",
	Long: `Ask for the database, port and assignment ledger and write them to
fnl.yaml. Every other setting keeps its default and can be added to the
file or given as an FNL_* environment variable.

Example:
  fnl init
  fnl init --output ./config/fnl.yaml`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().StringP("output", "o", "fnl.yaml", "path of the config file to write")
	initCmd.Flags().Bool("force", false, "overwrite an existing file")
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("output")
	force, _ := cmd.Flags().GetBool("force")
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}

	answers, err := promptSetup()
	if errors.Is(err, promptui.ErrInterrupt) {
		return nil
	}
	if err != nil {
		return err
	}

	if err := writeConfig(path, answers); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n\n", path)
	fmt.Fprintln(cmd.OutOrStdout(), "Next steps:")
	fmt.Fprintln(cmd.OutOrStdout(), "  fnl metric create \"Signups\" --kind event --types signup")
	fmt.Fprintln(cmd.OutOrStdout(), "  fnl experiment create <slug> --variant \"A=https://...\" --variant \"B=https://...\"")
	fmt.Fprintln(cmd.OutOrStdout(), "  fnl serve")
	return nil
}

func promptSetup() (setupAnswers, error) {
	var a setupAnswers

	drivers := []string{"sqlite", "postgres"}
	idx, _, err := (&promptui.Select{Label: "Database", Items: drivers}).Run()
	if err != nil {
		return a, err
	}
	a.Driver = drivers[idx]

	dsnDefault := "./fnl.db"
	if a.Driver == "postgres" {
		dsnDefault = "postgres://localhost:5432/fnl?sslmode=disable"
	}
	if a.DSN, err = (&promptui.Prompt{Label: "Database DSN", Default: dsnDefault}).Run(); err != nil {
		return a, err
	}

	portStr, err := (&promptui.Prompt{Label: "HTTP port", Default: "8080", Validate: validatePort}).Run()
	if err != nil {
		return a, err
	}
	a.Port, _ = strconv.Atoi(portStr)

	ledgers := []string{"sql", "redis"}
	idx, _, err = (&promptui.Select{Label: "Assignment ledger", Items: ledgers}).Run()
	if err != nil {
		return a, err
	}
	a.LedgerDriver = ledgers[idx]

	if a.LedgerDriver == "redis" {
		if a.RedisAddr, err = (&promptui.Prompt{Label: "Redis address", Default: "localhost:6379"}).Run(); err != nil {
			return a, err
		}
	}
	return a, nil
}

func validatePort(s string) error {
	p, err := strconv.Atoi(s)
	if err != nil || p < 1 || p > 65535 {
		return fmt.Errorf("port must be a number between 1 and 65535")
	}
	return nil
}

// writeConfig writes the answers to path after checking that the result
// loads as a valid configuration.
func writeConfig(path string, a setupAnswers) error {
	v := viper.New()
	v.Set("database.driver", a.Driver)
	v.Set("database.dsn", a.DSN)
	v.Set("server.port", a.Port)
	v.Set("ledger.driver", a.LedgerDriver)
	if a.RedisAddr != "" {
		v.Set("redis.addr", a.RedisAddr)
	}

	var c config.Config
	check := viper.New()
	config.SetDefaults(check)
	if err := check.MergeConfigMap(v.AllSettings()); err != nil {
		return fmt.Errorf("failed to build config: %w", err)
	}
	if err := check.Unmarshal(&c); err != nil {
		return fmt.Errorf("failed to build config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return err
	}

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
