package cmds

import (
	"context"
	"strings"

	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/layers"
	"github.com/go-go-golems/glazed/pkg/middlewares"
	"github.com/go-go-golems/glazed/pkg/settings"
	"github.com/go-go-golems/glazed/pkg/types"

	"github.com/go-go-golems/stagehand/pkg/host"
	"github.com/go-go-golems/stagehand/pkg/schema"
)

type ListCommand struct {
	*cmds.CommandDescription
}

var _ cmds.GlazeCommand = (*ListCommand)(nil)

func NewListCommand() (*ListCommand, error) {
	glazedParameterLayer, err := settings.NewGlazedParameterLayers()
	if err != nil {
		return nil, err
	}

	return &ListCommand{
		CommandDescription: cmds.NewCommandDescription(
			"list",
			cmds.WithShort("List the registered processors"),
			cmds.WithLayersList(glazedParameterLayer),
		),
	}, nil
}

func (c *ListCommand) RunIntoGlazeProcessor(
	ctx context.Context,
	parsedLayers *layers.ParsedLayers,
	gp middlewares.Processor,
) error {
	h, err := catalog()
	if err != nil {
		return err
	}
	rows, err := processorRows(h)
	if err != nil {
		return err
	}
	return addRows(ctx, gp, rows)
}

// processorRows has one row per processor with the names of its input and
// configuration fields.
func processorRows(h *host.Host) ([]types.Row, error) {
	var rows []types.Row
	for _, d := range h.List() {
		input, err := h.Schema(d.Identity, "input")
		if err != nil {
			return nil, err
		}
		config, err := h.Schema(d.Identity, "config")
		if err != nil {
			return nil, err
		}
		rows = append(rows, types.NewRow(
			types.MRP("identity", d.Identity),
			types.MRP("description", d.Description),
			types.MRP("input", strings.Join(schema.FieldNames(input), ",")),
			types.MRP("config", strings.Join(schema.FieldNames(config), ",")),
		))
	}
	return rows, nil
}
