package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dfonseca/quadro/internal/lifecycle"
	"github.com/dfonseca/quadro/internal/models"
	"github.com/dfonseca/quadro/internal/output"
	"github.com/dfonseca/quadro/internal/store"
)

// Package-level shared dependencies, initialized in cobra.OnInitialize.
var (
	ui        *output.UI
	dataStore store.Store
	lcService *lifecycle.Service

	verbose bool
	dryRun  bool
)

var rootCmd = &cobra.Command{
	Use:   "quadro",
	Short: "Sprint board - track sprints, projects, and card lifecycles",
	Long: `quadro tracks delivery work across sprints.
Cards move through a fixed lifecycle (todo, in_progress, blocked,
in_review, done, infeasible) under sprint-window and required-field
rules, and every change lands in a per-card audit trail.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	DisableAutoGenTag: true,
}

// Execute is the main entry point called from main.go.
func Execute(version, commit, date string) {
	buildVersion = version
	buildCommit = commit
	buildDate = date

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig, initDeps)

	rootCmd.RunE = func(cmd *cobra.Command, args []string) error {
		return rootRun(cmd)
	}

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().BoolVarP(&dryRun, "dry-run", "n", false, "Show what would happen without making changes")
	rootCmd.PersistentFlags().String("config", "", "Config file (default ~/.config/quadro/config.yaml)")
	rootCmd.PersistentFlags().String("as", "", "Act as this user name (overrides actor.name)")
	rootCmd.PersistentFlags().String("role", "", "Act with this role: member, supervisor, admin (overrides actor.role)")
}

func initConfig() {
	// If --config is explicitly set, use that file
	if cfgFile, _ := rootCmd.PersistentFlags().GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: cannot find home directory: %v\n", err)
			os.Exit(1)
		}

		configDir := filepath.Join(home, ".config", "quadro")
		viper.AddConfigPath(configDir)
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("QUADRO")
	viper.AutomaticEnv()

	// Defaults via viper.SetDefault()
	home, _ := os.UserHomeDir()
	defaultConfigDir := filepath.Join(home, ".config", "quadro")

	viper.SetDefault("state_dir", defaultConfigDir)
	viper.SetDefault("db_path", filepath.Join(defaultConfigDir, "quadro.db"))
	viper.SetDefault("actor.name", "")
	viper.SetDefault("actor.role", "member")
	viper.SetDefault("anthropic.api_key", "")
	viper.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	viper.SetDefault("port", 8080)

	// Read config file if it exists (optional)
	_ = viper.ReadInConfig()
}

func initDeps() {
	ui = output.New()
	ui.Verbose = verbose
	ui.DryRun = dryRun

	// The store is opened lazily so config/version commands run without a db.
}

// rootRun handles `quadro` with no subcommand: show the current sprint board.
func rootRun(cmd *cobra.Command) error {
	if _, err := getStore(); err != nil {
		return cmd.Help()
	}
	return statusOverviewRun("")
}

// getStore returns the shared store, initializing it on first call.
func getStore() (store.Store, error) {
	if dataStore != nil {
		return dataStore, nil
	}

	dbPath := viper.GetString("db_path")
	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := s.Migrate(rootCmd.Context()); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	dataStore = s
	return dataStore, nil
}

// getService returns the shared lifecycle service, initializing it on first call.
func getService() (*lifecycle.Service, error) {
	if lcService != nil {
		return lcService, nil
	}
	s, err := getStore()
	if err != nil {
		return nil, err
	}
	lcService = lifecycle.NewService(s, nil)
	return lcService, nil
}

// getActor resolves the acting user from flags, config, and the OS user.
func getActor() models.Actor {
	name, _ := rootCmd.PersistentFlags().GetString("as")
	if name == "" {
		name = viper.GetString("actor.name")
	}
	if name == "" {
		name = os.Getenv("USER")
	}
	if name == "" {
		name = "anonymous"
	}

	role, _ := rootCmd.PersistentFlags().GetString("role")
	if role == "" {
		role = viper.GetString("actor.role")
	}
	r := models.Role(role)
	switch r {
	case models.RoleMember, models.RoleSupervisor, models.RoleAdmin:
	default:
		r = models.RoleMember
	}

	return models.Actor{ID: name, Name: name, Role: r}
}
