package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	adecrypt "github.com/phdsystems/ade-crypt"
	"github.com/phdsystems/ade-crypt/audit"
)

const passphraseEnvVar = "ADE_CRYPT_PASSPHRASE"

var (
	cfgFile   string
	vaultHome string
	vault     adecrypt.Service
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "ade-crypt",
	Short: "An encrypted secret vault with key lifecycle management",
	Long: `ade-crypt keeps secrets encrypted on the local filesystem under named keys.
Secrets are versioned on every write and can expire; keys can be generated,
health-checked, revoked and rotated, with every secret migrated to the new
key. All files are owner-only and the ciphertext format is stable, so a
vault directory can be backed up or synced with ordinary tools.`,
	PersistentPreRunE: openVault,
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if vault != nil {
			return vault.Close()
		}
		return nil
	},
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	// Accept underscore spellings for every flag
	rootCmd.PersistentFlags().SetNormalizeFunc(func(f *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.ade-crypt.yaml)")
	rootCmd.PersistentFlags().StringVarP(&vaultHome, "home", "H", "", "vault directory (default is $HOME/.ade-crypt)")
	rootCmd.PersistentFlags().String("passphrase", "", "vault passphrase (or use "+passphraseEnvVar+" env var)")
	rootCmd.PersistentFlags().String("default-key", "", "name of the default encryption key")

	bindFlagOrPanic("vault.home", "home")
	bindFlagOrPanic("vault.passphrase", "passphrase")
	bindFlagOrPanic("vault.default_key", "default-key")

	rootCmd.PersistentFlags().Bool("audit", false, "enable audit logging")
	rootCmd.PersistentFlags().String("audit-type", "", "audit logger type (file, syslog)")
	rootCmd.PersistentFlags().String("audit-file", "", "audit log file path")

	bindFlagOrPanic("audit.enabled", "audit")
	bindFlagOrPanic("audit.type", "audit-type")
	bindFlagOrPanic("audit.options.file_path", "audit-file")
}

func bindFlagOrPanic(configKey, flagName string) {
	if err := viper.BindPFlag(configKey, rootCmd.PersistentFlags().Lookup(flagName)); err != nil {
		panic(fmt.Sprintf("failed to bind %s flag: %v", flagName, err))
	}
}

func initConfig() {
	setDefaults()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home)
		}
		viper.AddConfigPath(".")

		viper.SetConfigType("yaml")
		viper.SetConfigName(".ade-crypt")
	}

	viper.SetEnvPrefix("ADE_CRYPT")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			fmt.Fprintf(os.Stderr, "Error reading config file: %v\n", err)
		}
		// Missing config file is fine, defaults and env vars apply
	}
}

func setDefaults() {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	viper.SetDefault("vault.home", filepath.Join(home, ".ade-crypt"))
	viper.SetDefault("vault.default_key", "default")

	viper.SetDefault("audit.enabled", false)
	viper.SetDefault("audit.type", "file")
	viper.SetDefault("audit.log_level", "info")
	viper.SetDefault("audit.options.file_path", "")
}

func openVault(cmd *cobra.Command, args []string) error {
	// Skip initialization for commands that never touch the vault
	switch cmd.Name() {
	case "help", "completion", "__complete", "version":
		return nil
	}

	vaultHome = viper.GetString("vault.home")

	config := adecrypt.DefaultConfig(vaultHome)
	config.DefaultKeyName = viper.GetString("vault.default_key")
	config.DerivationPassphrase = viper.GetString("vault.passphrase")
	config.EnvPassphraseVar = passphraseEnvVar

	if viper.GetBool("audit.enabled") {
		auditFile := viper.GetString("audit.options.file_path")
		if auditFile == "" {
			auditFile = filepath.Join(vaultHome, "audit.log")
		}
		config.Audit = &audit.Config{
			Enabled: true,
			Type:    audit.ConfigType(viper.GetString("audit.type")),
			Options: map[string]interface{}{
				"file_path": auditFile,
			},
			LogLevel: viper.GetString("audit.log_level"),
		}
	}

	v, err := adecrypt.New(config)
	if err != nil {
		return fmt.Errorf("failed to open vault at %s: %w", vaultHome, err)
	}
	vault = v
	return nil
}
