package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"go.pilab.hu/forumsso/log"
)

const appName = "ssoctl"

var errNoSecret = errors.New("no secret: pass --secret or set DISCOURSE_SSO_SECRET")

// NewRootCmd builds the command tree. Each call returns fresh flag state.
func NewRootCmd() *cobra.Command {
	v := viper.New()
	var verbose bool

	rootCmd := &cobra.Command{
		Use:   appName,
		Short: "ssoctl signs and inspects Discourse SSO payloads",
		Long: `A command-line tool for operators debugging the Discourse SSO handshake.
It signs arbitrary payloads, verifies captured requests and builds redirect URLs
with the same code the bridge server uses.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level := zerolog.WarnLevel
			if verbose {
				level = zerolog.DebugLevel
			}
			cmd.SetContext(withLogger(cmd.Context(), log.NewZerologAdapter(level, true)))
			return nil
		},
	}

	rootCmd.PersistentFlags().String("secret", "", "shared SSO secret (env DISCOURSE_SSO_SECRET)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	_ = v.BindPFlag("secret", rootCmd.PersistentFlags().Lookup("secret"))
	_ = v.BindEnv("secret", "DISCOURSE_SSO_SECRET")

	rootCmd.AddCommand(newSignCmd(v), newVerifyCmd(v), newURLCmd(v))

	return rootCmd
}

// Execute runs the CLI and exits non-zero on failure.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func secretFrom(v *viper.Viper) ([]byte, error) {
	secret := v.GetString("secret")
	if secret == "" {
		return nil, errNoSecret
	}
	return []byte(secret), nil
}

type loggerKey struct{}

func withLogger(ctx context.Context, l log.Logger) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, loggerKey{}, l)
}

func loggerFrom(ctx context.Context) log.Logger {
	if ctx != nil {
		if l, ok := ctx.Value(loggerKey{}).(log.Logger); ok {
			return l
		}
	}
	return log.NewNop()
}
