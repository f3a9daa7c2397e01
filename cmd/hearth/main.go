package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hearth-home/hearth/internal/profile"
	"github.com/hearth-home/hearth/internal/version"
	"github.com/hearth-home/hearth/server"
	apiv1 "github.com/hearth-home/hearth/server/router/api/v1"
	"github.com/hearth-home/hearth/store"
	"github.com/hearth-home/hearth/store/db"
)

var rootCmd = &cobra.Command{
	Use:   "hearth",
	Short: `A guided home-onboarding dialogue service. Captures a family's name, members, and rooms through conversation.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Systemd units carry their environment in the unit file; .env is
		// for direct binary execution only.
		if !isRunningAsSystemdService() {
			_ = godotenv.Load()
		}
		return nil
	},
	Run: func(_ *cobra.Command, _ []string) {
		instanceProfile := loadProfile()

		ctx, cancel := context.WithCancel(context.Background())
		dbDriver, err := db.NewDBDriver(instanceProfile)
		if err != nil {
			cancel()
			printDatabaseError(err, instanceProfile)
			slog.Error("failed to create db driver", "error", err)
			return
		}

		storeInstance := store.New(dbDriver, instanceProfile)
		if err := storeInstance.Migrate(ctx); err != nil {
			cancel()
			slog.Error("failed to migrate", "error", err)
			return
		}

		s, err := server.NewServer(ctx, instanceProfile, storeInstance)
		if err != nil {
			cancel()
			slog.Error("failed to create server", "error", err)
			return
		}

		c := make(chan os.Signal, 1)
		// SIGTERM is the graceful-shutdown request sent by most process
		// managers (systemd, kubernetes) and by plain `kill`.
		signal.Notify(c, terminationSignals...)

		if err := s.Start(ctx); err != nil {
			if !errors.Is(err, http.ErrServerClosed) {
				slog.Error("failed to start server", "error", err)
				cancel()
			}
		}

		printGreetings(instanceProfile)

		go func() {
			<-c
			s.Shutdown(ctx)
			cancel()
		}()

		<-ctx.Done()
	},
}

// tokenCmd mints a development bearer token for the onboarding API.
var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a bearer token for the onboarding API using HEARTH_JWT_SECRET",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if !isRunningAsSystemdService() {
			_ = godotenv.Load()
		}
		secret := os.Getenv("HEARTH_JWT_SECRET")
		if secret == "" {
			return errors.New("HEARTH_JWT_SECRET is not set")
		}
		userID, _ := cmd.Flags().GetString("user")
		familyID, _ := cmd.Flags().GetString("family")
		ttl, _ := cmd.Flags().GetDuration("ttl")

		token, err := apiv1.SignIdentityToken(secret, familyID, userID, ttl)
		if err != nil {
			return err
		}
		fmt.Println(token)
		return nil
	},
}

func loadProfile() *profile.Profile {
	instanceProfile := &profile.Profile{
		Mode:    viper.GetString("mode"),
		Addr:    viper.GetString("addr"),
		Port:    viper.GetInt("port"),
		Data:    viper.GetString("data"),
		Driver:  viper.GetString("driver"),
		DSN:     viper.GetString("dsn"),
		Version: version.GetCurrentVersion(viper.GetString("mode")),
	}
	instanceProfile.FromEnv()

	// The flag can only turn the stub on; HEARTH_STUB_ENABLED already did
	// the rest in FromEnv.
	if viper.GetBool("with-stub") {
		instanceProfile.StubEnabled = true
	}

	if err := instanceProfile.Validate(); err != nil {
		panic(err)
	}
	return instanceProfile
}

func init() {
	viper.SetDefault("mode", "dev")
	viper.SetDefault("driver", "sqlite")
	viper.SetDefault("port", 8787)

	rootCmd.PersistentFlags().String("mode", "dev", `mode of server, can be "prod" or "dev" or "demo"`)
	rootCmd.PersistentFlags().String("addr", "", "address of server")
	rootCmd.PersistentFlags().Int("port", 8787, "port of server")
	rootCmd.PersistentFlags().String("data", "", "data directory")
	rootCmd.PersistentFlags().String("driver", "sqlite", "database driver (sqlite, postgres)")
	rootCmd.PersistentFlags().String("dsn", "", "database source name(aka. DSN)")
	rootCmd.PersistentFlags().Bool("with-stub", false, "mount the built-in stub backend in-process")

	for _, name := range []string{"mode", "addr", "port", "data", "driver", "dsn", "with-stub"} {
		if err := viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name)); err != nil {
			panic(err)
		}
	}

	tokenCmd.Flags().String("user", "", "user id the token identifies")
	tokenCmd.Flags().String("family", "", "family id the token carries, if already bound")
	tokenCmd.Flags().Duration("ttl", 24*time.Hour, "token lifetime")
	_ = tokenCmd.MarkFlagRequired("user")
	rootCmd.AddCommand(tokenCmd)

	viper.SetEnvPrefix("hearth")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
}

func printGreetings(profile *profile.Profile) {
	fmt.Printf("Hearth %s started successfully!\n", profile.Version)

	if profile.IsDev() {
		fmt.Fprint(os.Stderr, "Development mode is enabled\n")
		if profile.DSN != "" {
			fmt.Fprintf(os.Stderr, "Database: %s\n", profile.DSN)
		}
	}

	fmt.Printf("Mode: %s\n", profile.Mode)
	if profile.StubEnabled {
		fmt.Printf("Data directory: %s\n", profile.Data)
		fmt.Printf("Database driver: %s\n", profile.Driver)
		fmt.Println("Built-in stub backend mounted under /stub")
	} else {
		fmt.Printf("Backend: %s\n", profile.BackendBaseURL)
	}

	if len(profile.Addr) == 0 {
		fmt.Printf("Server running on port %d\n", profile.Port)
		fmt.Printf("Try it: curl http://localhost:%d/healthz\n", profile.Port)
	} else {
		fmt.Printf("Server running on %s:%d\n", profile.Addr, profile.Port)
	}
}

// isRunningAsSystemdService detects if the process is running under systemd.
func isRunningAsSystemdService() bool {
	return os.Getenv("INVOCATION_ID") != "" || os.Getenv("WATCHDOG_USEC") != ""
}

// printDatabaseError gives actionable hints for the common ways the stub's
// database fails to open.
func printDatabaseError(err error, profile *profile.Profile) {
	fmt.Fprintln(os.Stderr, "\nDatabase connection failed")

	errMsg := err.Error()
	switch {
	case strings.Contains(errMsg, "connection refused") || strings.Contains(errMsg, "no such host"):
		fmt.Fprintln(os.Stderr, "\nPostgreSQL is not reachable.")
		fmt.Fprintln(os.Stderr, "  - Check HEARTH_DSN, or start the database")
		fmt.Fprintln(os.Stderr, "  - Or use SQLite for development: --driver=sqlite --data=./data")

	case strings.Contains(errMsg, "SSL is not enabled") || strings.Contains(errMsg, "sslmode"):
		fmt.Fprintln(os.Stderr, "\nPostgreSQL SSL configuration mismatch.")
		fmt.Fprintln(os.Stderr, "  - Add ?sslmode=disable to HEARTH_DSN for local setups")

	case strings.Contains(errMsg, "unable to access data folder"):
		fmt.Fprintln(os.Stderr, "\nThe data directory does not exist.")
		fmt.Fprintf(os.Stderr, "  - Create it, or point --data somewhere writable (got %q)\n", profile.Data)

	default:
		fmt.Fprintln(os.Stderr, "\nError:", errMsg)
	}

	if _, statErr := os.Stat(".env"); statErr != nil {
		fmt.Fprintln(os.Stderr, "\nTip: create a .env file for local configuration")
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		panic(err)
	}
}
