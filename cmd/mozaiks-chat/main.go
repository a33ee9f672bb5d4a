package main

import (
	clay "github.com/go-go-golems/clay/pkg"
	"github.com/go-go-golems/glazed/pkg/cmds/logging"
	"github.com/go-go-golems/glazed/pkg/help"
	help_cmd "github.com/go-go-golems/glazed/pkg/help/cmd"
	"github.com/spf13/cobra"

	mozaiks_cmds "github.com/BlocUnited-LLC/mozaiks-ai-sub004/cmd/mozaiks-chat/cmds"
)

var rootCmd = &cobra.Command{
	Use:   "mozaiks-chat",
	Short: "mozaiks-chat is a terminal client for MozaiksAI agent workflows",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// reinitialize the logger once --log-level and co are parsed
		return logging.InitLoggerFromCobra(cmd)
	},
}

func main() {
	helpSystem := help.NewHelpSystem()
	help_cmd.SetupCobraRootCommand(helpSystem, rootCmd)

	err := clay.InitGlazed("mozaiks", rootCmd)
	cobra.CheckErr(err)

	err = mozaiks_cmds.AddChatCommand(rootCmd)
	cobra.CheckErr(err)
	err = mozaiks_cmds.AddReplayCommand(rootCmd)
	cobra.CheckErr(err)
	err = mozaiks_cmds.AddWorkflowsCommands(rootCmd)
	cobra.CheckErr(err)
	err = mozaiks_cmds.AddTokensCommands(rootCmd)
	cobra.CheckErr(err)
	err = mozaiks_cmds.AddSessionsCommands(rootCmd)
	cobra.CheckErr(err)

	cobra.CheckErr(rootCmd.Execute())
}
