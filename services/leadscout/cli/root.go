package cli

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/shubhanshu-sudo/Scrapper/services/leadscout/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:          "leadscout",
	Short:        "leadscout collects business leads from map search results",
	SilenceUsage: true,
}

// Execute is the entry point called from cmd/leadscout/main.go.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path (default: ./leadscout.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level: debug | info | warn | error")
	rootCmd.PersistentFlags().String("store", "sqlite", "lead store: sqlite | postgres")
	rootCmd.PersistentFlags().String("sqlite-path", "leadscout.db", "SQLite database file")
	rootCmd.PersistentFlags().String("postgres-dsn", "", "PostgreSQL DSN")
	rootCmd.PersistentFlags().String("redis-addr", "", "Redis address (host:port); empty keeps task state in memory")
	rootCmd.PersistentFlags().String("kafka-brokers", "", "comma-separated Kafka broker addresses; empty disables events")
	rootCmd.PersistentFlags().String("phone-policy", "strict-mobile", "phone acceptance: strict-mobile | any-valid")
	rootCmd.PersistentFlags().Bool("headless", true, "run Chrome without a window")
	rootCmd.PersistentFlags().String("chrome-path", "", "Chrome executable; empty searches the usual locations")

	bindFlag("log_level", rootCmd.PersistentFlags(), "log-level")
	bindFlag("store", rootCmd.PersistentFlags(), "store")
	bindFlag("sqlite_path", rootCmd.PersistentFlags(), "sqlite-path")
	bindFlag("postgres_dsn", rootCmd.PersistentFlags(), "postgres-dsn")
	bindFlag("redis_addr", rootCmd.PersistentFlags(), "redis-addr")
	bindFlag("kafka_brokers", rootCmd.PersistentFlags(), "kafka-brokers")
	bindFlag("phone_policy", rootCmd.PersistentFlags(), "phone-policy")
	bindFlag("headless", rootCmd.PersistentFlags(), "headless")
	bindFlag("chrome_path", rootCmd.PersistentFlags(), "chrome-path")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(scrapeCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(newInitCmd("leadscout", defaultLeadscoutYAML))
	rootCmd.AddCommand(versionCmd)
}

func initConfig() {
	// A missing .env is normal outside development.
	_ = godotenv.Load()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, _ := os.UserHomeDir()
		viper.SetConfigName("leadscout")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath(home + "/.leadscout")
		viper.AddConfigPath("/etc/leadscout")
	}

	config.SetDefaults(viper.GetViper())
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		_, notFound := err.(viper.ConfigFileNotFoundError)
		if !notFound && !os.IsNotExist(err) {
			fmt.Fprintln(os.Stderr, "error reading config file:", err)
			os.Exit(1)
		}
	} else {
		fmt.Fprintln(os.Stderr, "config:", viper.ConfigFileUsed())
	}
}

func buildLogger(level, service string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})).
		With(slog.String("service", service))
}

func bindFlag(viperKey string, fs *pflag.FlagSet, flagName string) {
	if err := viper.BindPFlag(viperKey, fs.Lookup(flagName)); err != nil {
		panic(fmt.Sprintf("bindFlag %q → %q: %v", flagName, viperKey, err))
	}
}
