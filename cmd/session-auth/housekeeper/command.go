package housekeeper

import (
	"github.com/spf13/cobra"

	"github.com/openkcm/session-auth/internal/business"
	"github.com/openkcm/session-auth/internal/cmdutils"
)

func Cmd(buildInfo string) *cobra.Command {
	return cmdutils.CobraCommand(
		"housekeeper",
		"Session Auth housekeeping job",
		"Session Auth housekeeping job periodically removes expired sessions",
		buildInfo,
		cmdutils.RunAsService,
		business.HousekeeperMain,
	)
}
