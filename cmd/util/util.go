package util

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ValentinKolb/dps/lib/backend"
	"github.com/ValentinKolb/dps/lib/backend/engines/boltdb"
	"github.com/ValentinKolb/dps/lib/backend/engines/memdb"
	"github.com/ValentinKolb/dps/lib/backend/engines/redisdb"
	"github.com/ValentinKolb/dps/lib/directory"
	"github.com/ValentinKolb/dps/lib/logging"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50
)

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var wrappedLines []string
	var currentLine strings.Builder
	lineWidth := 0

	for _, word := range strings.Fields(text) {
		wordWidth := len(word)

		// Check if we need to wrap
		if lineWidth > 0 && lineWidth+1+wordWidth > Wrap {
			wrappedLines = append(wrappedLines, currentLine.String())
			currentLine.Reset()
			lineWidth = 0
		}

		// Add space before word (if not first word on line)
		if lineWidth > 0 {
			currentLine.WriteString(" ")
			lineWidth++
		}

		// Add the word
		currentLine.WriteString(word)
		lineWidth += wordWidth
	}

	// Add any remaining text
	if currentLine.Len() > 0 {
		wrappedLines = append(wrappedLines, currentLine.String())
	}

	return strings.Join(wrappedLines, "\n")
}

// SetupBackendFlags adds the common backend connection flags to a command
func SetupBackendFlags(cmd *cobra.Command) {
	key := "backend"
	cmd.PersistentFlags().String(key, "memdb", WrapString("backend engine to use (memdb, boltdb, redisdb)"))

	key = "bolt-path"
	cmd.PersistentFlags().String(key, "dps.db", WrapString("path of the bbolt file (boltdb engine only)"))

	key = "redis-endpoints"
	cmd.PersistentFlags().String(key, "localhost:6379", WrapString("Redis endpoints as a comma-separated list (redisdb engine only)"))

	key = "redis-password"
	cmd.PersistentFlags().String(key, "", WrapString("Redis AUTH password (redisdb engine only)"))

	key = "redis-db"
	cmd.PersistentFlags().Int(key, 0, WrapString("logical Redis database (redisdb engine only)"))

	key = "timeout"
	cmd.PersistentFlags().Int(key, 10, WrapString("The timeout in seconds of one operation"))

	key = "log-level"
	cmd.PersistentFlags().String(key, "info", WrapString("log level (debug, info, warn, error)"))
}

// InitConfig initializes configuration from environment variables
func InitConfig() {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	// initialize viper
	viper.SetEnvPrefix("dps")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match
}

// BindCommandFlags binds a command's flags to viper
func BindCommandFlags(cmd *cobra.Command) error {
	return viper.BindPFlags(cmd.Flags())
}

// GetTimeout returns the configured per-operation timeout
func GetTimeout() time.Duration {
	return time.Duration(viper.GetInt("timeout")) * time.Second
}

// GetBackend creates the configured backend engine and the directory over
// it. The caller owns the backend and must Close it.
func GetBackend(ctx context.Context) (backend.Backend, *directory.Directory, error) {
	logging.InitLoggers(viper.GetString("log-level"))

	var (
		be  backend.Backend
		err error
	)
	switch viper.GetString("backend") {
	case "memdb":
		be = memdb.New(nil)
	case "boltdb":
		be, err = boltdb.New(viper.GetString("bolt-path"), nil)
	case "redisdb":
		be, err = redisdb.New(ctx, &redisdb.Options{
			Endpoints: strings.Split(viper.GetString("redis-endpoints"), ","),
			Password:  viper.GetString("redis-password"),
			DB:        viper.GetInt("redis-db"),
		})
	default:
		err = fmt.Errorf("invalid backend %s", viper.GetString("backend"))
	}
	if err != nil {
		return nil, nil, err
	}

	dir := directory.New(be)
	if err := dir.EnsurePartitions(ctx); err != nil {
		_ = be.Close()
		return nil, nil, err
	}
	return be, dir, nil
}
