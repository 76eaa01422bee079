package cmd

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"go.pilab.hu/forumsso"
)

func newSignCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:     "sign key=value...",
		Short:   "Encode and sign a payload",
		Example: `  ssoctl sign --secret topsecret nonce=cb6882 email=jane@example.com username=jane_doe`,
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			secret, err := secretFrom(v)
			if err != nil {
				return err
			}

			values := url.Values{}
			for _, arg := range args {
				key, value, ok := strings.Cut(arg, "=")
				if !ok || key == "" {
					return fmt.Errorf("invalid field %q, expected key=value", arg)
				}
				values.Add(key, value)
			}

			token := forumsso.EncodeValues(values)
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "sso=%s\n", token)
			fmt.Fprintf(out, "sig=%s\n", forumsso.Sign(token, secret))
			return nil
		},
	}
}
