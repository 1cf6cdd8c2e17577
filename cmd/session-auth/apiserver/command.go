package apiserver

import (
	"github.com/spf13/cobra"

	"github.com/openkcm/session-auth/internal/business"
	"github.com/openkcm/session-auth/internal/cmdutils"
)

func Cmd(buildInfo string) *cobra.Command {
	return cmdutils.CobraCommand(
		"api-server",
		"Session Auth API server",
		"Session Auth API server hosts the public sign-in, sign-out and session endpoints",
		buildInfo,
		cmdutils.RunAsService,
		business.Main,
	)
}
