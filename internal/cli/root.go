package cli

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"strings"

	"github.com/golang/glog"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// options are the command line settings shared by every subcommand. Non-empty
// values override the YAML config.
type options struct {
	configPath  string
	port        string
	publicURL   string
	redisAddr   string
	postgresURL string
	rabbitURL   string
	jwtSecret   string
}

// Execute runs the CLI.
func Execute() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Printf("failed to load .env: %v\n", err)
	}
	defer glog.Flush()
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	v := viper.New()
	v.SetEnvPrefix("QUIZ")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:           "live-quiz",
		Short:         "Live quiz game sessions over HTTP, SSE and WebSocket",
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// glog refuses to log until the go flag set counts as parsed
			return flag.CommandLine.Parse(nil)
		},
	}

	_ = flag.Set("logtostderr", "true")

	pfs := cmd.PersistentFlags()
	pfs.StringVar(&opts.configPath, "config", "config/config.yaml", "path to YAML config (env: QUIZ_CONFIG)")
	pfs.StringVar(&opts.port, "port", "", "port to listen on (env: QUIZ_PORT)")
	pfs.StringVar(&opts.publicURL, "public-url", "", "base URL encoded into join QR codes (env: QUIZ_PUBLIC_URL)")
	pfs.StringVar(&opts.redisAddr, "redis-addr", "", "redis address; empty keeps games in memory (env: QUIZ_REDIS_ADDR)")
	pfs.StringVar(&opts.postgresURL, "postgres-url", "", "postgres DSN of the quiz store (env: QUIZ_POSTGRES_URL)")
	pfs.StringVar(&opts.rabbitURL, "rabbit-url", "", "AMQP URL for lifecycle events (env: QUIZ_RABBIT_URL)")
	pfs.StringVar(&opts.jwtSecret, "jwt-secret", "", "HS256 secret for bearer tokens (env: QUIZ_JWT_SECRET)")
	pfs.AddGoFlagSet(flag.CommandLine)

	pfs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = pfs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.AddCommand(newStartCmd(opts))
	cmd.AddCommand(newMigrateCmd(opts))
	cmd.AddCommand(newTokenCmd(opts))
	return cmd
}
