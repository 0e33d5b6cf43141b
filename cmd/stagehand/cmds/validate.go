package cmds

import (
	"context"
	"sort"

	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/layers"
	"github.com/go-go-golems/glazed/pkg/cmds/parameters"
	"github.com/go-go-golems/glazed/pkg/middlewares"
	"github.com/go-go-golems/glazed/pkg/settings"
	"github.com/go-go-golems/glazed/pkg/types"
	"github.com/pkg/errors"

	"github.com/go-go-golems/stagehand/pkg/schema"
)

type ValidateSettings struct {
	Identity string `glazed.parameter:"identity"`
	Kind     string `glazed.parameter:"kind"`
	File     string `glazed.parameter:"file"`
	Strict   bool   `glazed.parameter:"strict"`
}

type ValidateCommand struct {
	*cmds.CommandDescription
	// failure is returned once the violation rows have been printed.
	failure error
}

var _ cmds.GlazeCommand = (*ValidateCommand)(nil)

func NewValidateCommand() (*ValidateCommand, error) {
	glazedParameterLayer, err := settings.NewGlazedParameterLayers()
	if err != nil {
		return nil, err
	}

	return &ValidateCommand{
		CommandDescription: cmds.NewCommandDescription(
			"validate",
			cmds.WithShort("Validate a document against one of the schemas of a processor"),
			cmds.WithLong(`Validate a YAML or JSON document against the input, output or config schema
of a processor. A valid document is printed normalized, one row per field with
defaults applied. An invalid one prints one row per violation and fails.

With --strict the document is checked against the rendered JSON Schema
instead, without coercion.`),
			cmds.WithFlags(
				parameters.NewParameterDefinition(
					"kind",
					parameters.ParameterTypeChoice,
					parameters.WithHelp("Schema to validate against"),
					parameters.WithChoices(schemaKinds...),
					parameters.WithDefault("input"),
				),
				parameters.NewParameterDefinition(
					"file",
					parameters.ParameterTypeString,
					parameters.WithHelp("Document to validate, - for stdin"),
					parameters.WithDefault("-"),
				),
				parameters.NewParameterDefinition(
					"strict",
					parameters.ParameterTypeBool,
					parameters.WithHelp("Validate against the JSON Schema without coercion"),
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

func (c *ValidateCommand) RunIntoGlazeProcessor(
	ctx context.Context,
	parsedLayers *layers.ParsedLayers,
	gp middlewares.Processor,
) error {
	s := &ValidateSettings{}
	if err := parsedLayers.InitializeStruct(layers.DefaultSlug, s); err != nil {
		return err
	}

	h, err := catalog()
	if err != nil {
		return err
	}
	d, err := h.Schema(s.Identity, s.Kind)
	if err != nil {
		return err
	}
	doc, err := readDocument(s.File)
	if err != nil {
		return err
	}

	normalized, verr := validateDocument(d, doc, s.Strict)
	rows, err := validationRows(normalized, verr)
	if err != nil {
		return err
	}
	c.failure = verr
	return addRows(ctx, gp, rows)
}

func validateDocument(d schema.Descriptor, doc map[string]interface{}, strict bool) (map[string]interface{}, error) {
	if strict {
		if err := schema.ValidateDocument(d, doc); err != nil {
			return nil, err
		}
		return doc, nil
	}
	return d.Normalize(doc)
}

// validationRows has one row per field of a valid document, or one row per
// violation. Errors other than a *schema.ValidationError are returned as is.
func validationRows(doc map[string]interface{}, verr error) ([]types.Row, error) {
	if verr != nil {
		var validationErr *schema.ValidationError
		if !errors.As(verr, &validationErr) {
			return nil, verr
		}
		rows := make([]types.Row, 0, len(validationErr.Violations))
		for _, v := range validationErr.Violations {
			rows = append(rows, types.NewRow(
				types.MRP("field", v.Field),
				types.MRP("constraint", v.Constraint),
				types.MRP("value", v.Value),
				types.MRP("reason", v.Reason),
			))
		}
		return rows, nil
	}

	keys := make([]string, 0, len(doc))
	for k := range doc {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	rows := make([]types.Row, 0, len(keys))
	for _, k := range keys {
		rows = append(rows, types.NewRow(
			types.MRP("field", k),
			types.MRP("value", doc[k]),
		))
	}
	return rows, nil
}
