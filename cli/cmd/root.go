package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/absfs/securefs"
)

var (
	cfgFile string

	cfg   *securefs.Config
	keys  *securefs.KeyStore
	store *securefs.Store
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "securefs",
	Short: "Encrypted at-rest file storage",
	Long: `securefs stores files as authenticated ciphertext in a local directory.
Each file is sealed with XChaCha20-Poly1305 under a locally generated key,
with the logical filename bound as additional authenticated data, so stored
objects cannot be renamed, swapped, or modified without detection.`,
	PersistentPreRunE: initializeStore,
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if keys != nil {
			return keys.Close()
		}
		return nil
	},
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		if securefs.IsAuthError(err) {
			fmt.Fprintln(os.Stderr, "Error: decryption failed - the data is not authentic (wrong key, renamed object, or tampering)")
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is config.json)")
	rootCmd.PersistentFlags().String("log-level", "warn", "log level (trace, debug, info, warn, error)")

	// Accept underscore spellings for multi-word flags
	rootCmd.PersistentFlags().SetNormalizeFunc(func(f *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	bindFlagOrPanic("log_level", "log-level")
}

func bindFlagOrPanic(configKey, flagName string) {
	if err := viper.BindPFlag(configKey, rootCmd.PersistentFlags().Lookup(flagName)); err != nil {
		panic(fmt.Sprintf("failed to bind %s flag: %v", flagName, err))
	}
}

func initConfig() {
	viper.SetDefault("log_level", "warn")

	viper.SetEnvPrefix("SECUREFS")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	level, err := logrus.ParseLevel(viper.GetString("log_level"))
	if err != nil {
		level = logrus.WarnLevel
	}
	logrus.SetLevel(level)
}

// configPath resolves the config file location: flag, then environment,
// then the default next to the working directory.
func configPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	return securefs.DefaultConfigPath
}

// initializeStore loads the configuration and opens the key store and
// object store for every command that operates on existing storage.
// Commands that set up or inspect state before a store exists skip it.
func initializeStore(cmd *cobra.Command, args []string) error {
	switch cmd.Name() {
	case "help", "completion", "__complete", "init", "status":
		return nil
	}

	var err error
	cfg, err = securefs.LoadConfigWithEnv(configPath())
	if err != nil {
		return err
	}

	keys, err = securefs.OpenKeyStore(securefs.NewOSFS(), cfg.KeyPath)
	if err != nil {
		return err
	}

	store, err = securefs.NewStore(securefs.NewOSFS(), cfg.StorageDir, keys, nil)
	if err != nil {
		keys.Close()
		return err
	}

	return nil
}
