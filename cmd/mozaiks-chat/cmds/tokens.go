package cmds

import (
	"context"

	"github.com/go-go-golems/glazed/pkg/cli"
	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/fields"
	"github.com/go-go-golems/glazed/pkg/cmds/values"
	"github.com/go-go-golems/glazed/pkg/middlewares"
	"github.com/go-go-golems/glazed/pkg/settings"
	"github.com/go-go-golems/glazed/pkg/types"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/BlocUnited-LLC/mozaiks-ai-sub004/pkg/client"
)

var tokensCmd = &cobra.Command{
	Use:   "tokens",
	Short: "Token accounting for the enterprise",
}

// AddTokensCommands mounts tokens balance/consume on the root.
func AddTokensCommands(root *cobra.Command) error {
	balanceCmd, err := NewTokensBalanceCommand()
	if err != nil {
		return err
	}
	consumeCmd, err := NewTokensConsumeCommand()
	if err != nil {
		return err
	}
	for _, c := range []cmds.GlazeCommand{balanceCmd, consumeCmd} {
		cobraCmd, err := cli.BuildCobraCommand(c)
		if err != nil {
			return err
		}
		tokensCmd.AddCommand(cobraCmd)
	}
	root.AddCommand(tokensCmd)
	return nil
}

type TokensBalanceCommand struct {
	*cmds.CommandDescription
}

func NewTokensBalanceCommand() (*TokensBalanceCommand, error) {
	glazedLayer, err := settings.NewGlazedSection()
	if err != nil {
		return nil, err
	}
	commandSettingsLayer, err := cli.NewCommandSettingsSection()
	if err != nil {
		return nil, err
	}

	desc := cmds.NewCommandDescription(
		"balance",
		cmds.WithShort("Show the remaining token balance"),
		withConnFlags(),
		cmds.WithSections(glazedLayer, commandSettingsLayer),
	)
	return &TokensBalanceCommand{CommandDescription: desc}, nil
}

func (c *TokensBalanceCommand) RunIntoGlazeProcessor(
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
	if conn.EnterpriseID == "" {
		return errors.New("enterprise-id is required (flag or profile)")
	}
	rest, err := client.NewRestClient(conn.BaseURL)
	if err != nil {
		return err
	}

	balance, err := rest.TokenBalance(ctx, conn.EnterpriseID)
	if err != nil {
		return err
	}
	return gp.AddRow(ctx, types.NewRow(
		types.MRP("enterprise_id", balance.EnterpriseID),
		types.MRP("balance", balance.Balance),
		types.MRP("updated_at_ms", balance.UpdatedAtMs),
	))
}

var _ cmds.GlazeCommand = &TokensBalanceCommand{}

type TokensConsumeCommand struct {
	*cmds.CommandDescription
}

type TokensConsumeSettings struct {
	Amount int64  `glazed:"amount"`
	Reason string `glazed:"reason"`
}

func NewTokensConsumeCommand() (*TokensConsumeCommand, error) {
	glazedLayer, err := settings.NewGlazedSection()
	if err != nil {
		return nil, err
	}
	commandSettingsLayer, err := cli.NewCommandSettingsSection()
	if err != nil {
		return nil, err
	}

	desc := cmds.NewCommandDescription(
		"consume",
		cmds.WithShort("Debit tokens from the enterprise balance"),
		withConnFlags(),
		cmds.WithFlags(
			fields.New(
				"amount",
				fields.TypeInteger,
				fields.WithHelp("Number of tokens to consume"),
			),
			fields.New(
				"reason",
				fields.TypeString,
				fields.WithDefault(""),
				fields.WithHelp("Reason recorded with the debit"),
			),
		),
		cmds.WithSections(glazedLayer, commandSettingsLayer),
	)
	return &TokensConsumeCommand{CommandDescription: desc}, nil
}

func (c *TokensConsumeCommand) RunIntoGlazeProcessor(
	ctx context.Context,
	parsedLayers *values.Values,
	gp middlewares.Processor,
) error {
	connSettings := &ConnSettings{}
	if err := parsedLayers.DecodeSectionInto(values.DefaultSlug, connSettings); err != nil {
		return err
	}
	s := &TokensConsumeSettings{}
	if err := parsedLayers.DecodeSectionInto(values.DefaultSlug, s); err != nil {
		return err
	}
	conn, err := connSettings.resolve()
	if err != nil {
		return err
	}
	if conn.EnterpriseID == "" {
		return errors.New("enterprise-id is required (flag or profile)")
	}
	rest, err := client.NewRestClient(conn.BaseURL)
	if err != nil {
		return err
	}

	balance, err := rest.ConsumeTokens(ctx, conn.EnterpriseID, s.Amount, s.Reason)
	if err != nil {
		return err
	}
	return gp.AddRow(ctx, types.NewRow(
		types.MRP("enterprise_id", balance.EnterpriseID),
		types.MRP("balance", balance.Balance),
		types.MRP("consumed", s.Amount),
	))
}

var _ cmds.GlazeCommand = &TokensConsumeCommand{}
