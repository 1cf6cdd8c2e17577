package migrate

import (
	"github.com/spf13/cobra"

	"github.com/openkcm/session-auth/internal/business"
	"github.com/openkcm/session-auth/internal/cmdutils"
)

func Cmd(buildInfo string) *cobra.Command {
	return cmdutils.CobraCommand(
		"migrate",
		"Session Auth database migrations",
		"Applies the embedded schema migrations to the configured database",
		buildInfo,
		cmdutils.RunAsJob,
		business.MigrateMain,
	)
}
