package cmds

import (
	"context"
	"strings"

	"github.com/go-go-golems/glazed/pkg/cli"
	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/values"
	"github.com/go-go-golems/glazed/pkg/middlewares"
	"github.com/go-go-golems/glazed/pkg/settings"
	"github.com/go-go-golems/glazed/pkg/types"
	"github.com/spf13/cobra"

	"github.com/BlocUnited-LLC/mozaiks-ai-sub004/pkg/client"
)

var workflowsCmd = &cobra.Command{
	Use:   "workflows",
	Short: "Discover workflows on the platform",
}

// AddWorkflowsCommands mounts workflows list on the root.
func AddWorkflowsCommands(root *cobra.Command) error {
	listCmd, err := NewWorkflowsListCommand()
	if err != nil {
		return err
	}
	cobraCmd, err := cli.BuildCobraCommand(listCmd)
	if err != nil {
		return err
	}
	workflowsCmd.AddCommand(cobraCmd)
	root.AddCommand(workflowsCmd)
	return nil
}

type WorkflowsListCommand struct {
	*cmds.CommandDescription
}

func NewWorkflowsListCommand() (*WorkflowsListCommand, error) {
	glazedLayer, err := settings.NewGlazedSection()
	if err != nil {
		return nil, err
	}
	commandSettingsLayer, err := cli.NewCommandSettingsSection()
	if err != nil {
		return nil, err
	}

	desc := cmds.NewCommandDescription(
		"list",
		cmds.WithShort("List workflows available to the enterprise"),
		withConnFlags(),
		cmds.WithSections(glazedLayer, commandSettingsLayer),
	)
	return &WorkflowsListCommand{CommandDescription: desc}, nil
}

func (c *WorkflowsListCommand) RunIntoGlazeProcessor(
	ctx context.Context,
	parsedLayers *values.Values,
	gp middlewares.Processor,
) error {
	connSettings := &ConnSettings{}
	if err := parsedLayers.DecodeSectionInto(values.DefaultSlug, connSettings); err != nil {
		return err
	}
	conn, err := connSettings.resolve()
	if err != nil {
		return err
	}
	rest, err := client.NewRestClient(conn.BaseURL)
	if err != nil {
		return err
	}

	workflows, err := rest.ListWorkflows(ctx)
	if err != nil {
		return err
	}
	for _, wf := range workflows {
		row := types.NewRow(
			types.MRP("name", wf.Name),
			types.MRP("description", wf.Description),
			types.MRP("agents", strings.Join(wf.Agents, ",")),
		)
		if err := gp.AddRow(ctx, row); err != nil {
			return err
		}
	}
	return nil
}

var _ cmds.GlazeCommand = &WorkflowsListCommand{}
