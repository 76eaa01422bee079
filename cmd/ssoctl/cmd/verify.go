package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"go.pilab.hu/forumsso"
)

func newVerifyCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "verify <sso> <sig>",
		Short: "Verify a captured request and print its payload",
		Long: `Runs the inbound checks of the bridge without consuming the nonce.
On success the payload is printed as JSON; otherwise the rejection reason.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			secret, err := secretFrom(v)
			if err != nil {
				return err
			}

			svc, err := forumsso.NewService(forumsso.ServiceConfig{Secret: secret},
				forumsso.WithLogger(loggerFrom(cmd.Context())))
			if err != nil {
				return err
			}

			payload, err := svc.CheckRequest(cmd.Context(), args[0], args[1])
			if err != nil {
				return fmt.Errorf("rejected (%s): %w", forumsso.RejectionReason(err), err)
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(payload)
		},
	}
}
