package provisionuser

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/openkcm/session-auth/internal/business"
	"github.com/openkcm/session-auth/internal/cmdutils"
	"github.com/openkcm/session-auth/internal/config"
)

// PasswordEnv is read when --password is not given, keeping the password
// out of the process list.
const PasswordEnv = "SESSION_AUTH_USER_PASSWORD"

func Cmd(buildInfo string) *cobra.Command {
	var req business.ProvisionUserRequest

	cmd := cmdutils.CobraCommand(
		"provision-user",
		"Session Auth account provisioning",
		"Creates or updates an account with an optional password and adds providers to its allow-list",
		buildInfo,
		cmdutils.RunAsJob,
		func(ctx context.Context, cfg *config.Config) error {
			if req.Password == "" {
				req.Password = os.Getenv(PasswordEnv)
			}
			return business.ProvisionUserMain(ctx, cfg, req)
		},
	)

	cmd.Flags().StringVar(&req.Email, "email", "", "email of the account, matched case-insensitively")
	cmd.Flags().StringVar(&req.DisplayName, "display-name", "", "display name of the account")
	cmd.Flags().StringVar(&req.Password, "password", "", "password of the account, or $"+PasswordEnv)
	cmd.Flags().StringSliceVar(&req.AllowedProviders, "allow-provider", nil, "provider the account may sign in with; repeatable")
	_ = cmd.MarkFlagRequired("email")

	return cmd
}
