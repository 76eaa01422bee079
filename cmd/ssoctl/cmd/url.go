package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"go.pilab.hu/forumsso"
	"go.pilab.hu/forumsso/domain"
)

func newURLCmd(v *viper.Viper) *cobra.Command {
	var (
		user         domain.User
		discourseURL string
		returnURL    string
	)

	cmd := &cobra.Command{
		Use:   "url",
		Short: "Build the signed Discourse redirect for a user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			secret, err := secretFrom(v)
			if err != nil {
				return err
			}

			redirect, err := forumsso.GenerateSSOURL(discourseURL, secret, &user, returnURL)
			if err != nil {
				return err
			}

			loggerFrom(cmd.Context()).Debug(cmd.Context(), "Generated redirect", map[string]interface{}{
				"external_id": user.ID,
			})
			fmt.Fprintln(cmd.OutOrStdout(), redirect)
			return nil
		},
	}

	cmd.Flags().StringVar(&discourseURL, "discourse-url", forumsso.DefaultDiscourseURL, "forum base URL")
	cmd.Flags().StringVar(&returnURL, "return-url", "", "return_sso_url to forward")
	cmd.Flags().StringVar(&user.ID, "id", "", "local user id (external_id)")
	cmd.Flags().StringVar(&user.Email, "email", "", "user email")
	cmd.Flags().StringVar(&user.Name, "name", "", "user full name")
	cmd.Flags().StringVar(&user.DisplayName, "display-name", "", "preferred display name")
	cmd.Flags().StringVar(&user.Image, "avatar", "", "avatar URL")
	_ = cmd.MarkFlagRequired("id")
	_ = cmd.MarkFlagRequired("email")

	return cmd
}
