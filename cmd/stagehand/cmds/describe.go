package cmds

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/layers"
	"github.com/go-go-golems/glazed/pkg/cmds/parameters"
	"github.com/go-go-golems/glazed/pkg/middlewares"
	"github.com/go-go-golems/glazed/pkg/settings"
	"github.com/go-go-golems/glazed/pkg/types"

	"github.com/go-go-golems/stagehand/pkg/host"
	"github.com/go-go-golems/stagehand/pkg/schema"
)

var schemaKinds = []string{"input", "output", "config"}

type DescribeSettings struct {
	Identity   string `glazed.parameter:"identity"`
	Kind       string `glazed.parameter:"kind"`
	JSONSchema bool   `glazed.parameter:"json-schema"`
}

type DescribeCommand struct {
	*cmds.CommandDescription
}

var _ cmds.GlazeCommand = (*DescribeCommand)(nil)

func NewDescribeCommand() (*DescribeCommand, error) {
	glazedParameterLayer, err := settings.NewGlazedParameterLayers()
	if err != nil {
		return nil, err
	}

	return &DescribeCommand{
		CommandDescription: cmds.NewCommandDescription(
			"describe",
			cmds.WithShort("Describe the input, output and configuration fields of a processor"),
			cmds.WithFlags(
				parameters.NewParameterDefinition(
					"kind",
					parameters.ParameterTypeChoice,
					parameters.WithHelp("Only describe one schema"),
					parameters.WithChoices(schemaKinds...),
				),
				parameters.NewParameterDefinition(
					"json-schema",
					parameters.ParameterTypeBool,
					parameters.WithHelp("Emit the rendered JSON Schema of each schema instead of one row per field"),
					parameters.WithDefault(false),
				),
			),
			cmds.WithArguments(
				parameters.NewParameterDefinition(
					"identity",
					parameters.ParameterTypeString,
					parameters.WithHelp("Processor identity"),
					parameters.WithRequired(true),
				),
			),
			cmds.WithLayersList(glazedParameterLayer),
		),
	}, nil
}

func (c *DescribeCommand) RunIntoGlazeProcessor(
	ctx context.Context,
	parsedLayers *layers.ParsedLayers,
	gp middlewares.Processor,
) error {
	s := &DescribeSettings{}
	if err := parsedLayers.InitializeStruct(layers.DefaultSlug, s); err != nil {
		return err
	}

	h, err := catalog()
	if err != nil {
		return err
	}
	rows, err := describeRows(h, s)
	if err != nil {
		return err
	}
	return addRows(ctx, gp, rows)
}

func describeRows(h *host.Host, s *DescribeSettings) ([]types.Row, error) {
	kinds := schemaKinds
	if s.Kind != "" {
		kinds = []string{s.Kind}
	}

	var rows []types.Row
	for _, kind := range kinds {
		d, err := h.Schema(s.Identity, kind)
		if err != nil {
			return nil, err
		}
		if s.JSONSchema {
			rows = append(rows, types.NewRow(
				types.MRP("identity", s.Identity),
				types.MRP("schema", kind),
				types.MRP("json_schema", d.JSONSchema()),
			))
			continue
		}
		rows = append(rows, fieldRows(kind, d)...)
	}
	return rows, nil
}

func fieldRows(kind string, d schema.Descriptor) []types.Row {
	var rows []types.Row
	for _, f := range d.Fields() {
		rows = append(rows, types.NewRow(
			types.MRP("schema", kind),
			types.MRP("field", f.Name),
			types.MRP("type", string(f.Type)),
			types.MRP("required", f.Required),
			types.MRP("default", f.Default),
			types.MRP("range", formatRange(f)),
			types.MRP("choices", strings.Join(f.Choices, ",")),
			types.MRP("hidden", f.Hidden),
			types.MRP("advanced", f.Advanced),
			types.MRP("description", f.Description),
		))
	}
	return rows
}

func formatRange(f *schema.Field) string {
	if f.Min == nil && f.Max == nil {
		return ""
	}
	lower, upper := "", ""
	if f.Min != nil {
		lower = fmt.Sprint(*f.Min)
	}
	if f.Max != nil {
		upper = fmt.Sprint(*f.Max)
	}
	return fmt.Sprintf("[%s, %s]", lower, upper)
}
