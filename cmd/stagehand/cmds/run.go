package cmds

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/layers"
	"github.com/go-go-golems/glazed/pkg/cmds/parameters"
	"github.com/go-go-golems/glazed/pkg/middlewares"
	"github.com/go-go-golems/glazed/pkg/settings"
	"github.com/go-go-golems/glazed/pkg/types"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/go-go-golems/stagehand/pkg/events"
	"github.com/go-go-golems/stagehand/pkg/host"
)

type RunSettings struct {
	Identity   string `glazed.parameter:"identity"`
	InputFile  string `glazed.parameter:"input"`
	InputJSON  string `glazed.parameter:"input-json"`
	ConfigFile string `glazed.parameter:"config-file"`
	SessionID  string `glazed.parameter:"session"`
	Events     bool   `glazed.parameter:"events"`
	Full       bool   `glazed.parameter:"full"`
}

type RunCommand struct {
	*cmds.CommandDescription
}

var _ cmds.GlazeCommand = (*RunCommand)(nil)

func NewRunCommand() (*RunCommand, error) {
	glazedParameterLayer, err := settings.NewGlazedParameterLayers()
	if err != nil {
		return nil, err
	}

	return &RunCommand{
		CommandDescription: cmds.NewCommandDescription(
			"run",
			cmds.WithShort("Run a processor once and print its output"),
			cmds.WithFlags(
				parameters.NewParameterDefinition(
					"input",
					parameters.ParameterTypeString,
					parameters.WithHelp("Input document (YAML or JSON), - for stdin"),
				),
				parameters.NewParameterDefinition(
					"input-json",
					parameters.ParameterTypeString,
					parameters.WithHelp("Inline JSON input, overrides --input"),
				),
				parameters.NewParameterDefinition(
					"config-file",
					parameters.ParameterTypeString,
					parameters.WithHelp("Processor configuration document (YAML or JSON)"),
				),
				parameters.NewParameterDefinition(
					"session",
					parameters.ParameterTypeString,
					parameters.WithHelp("Session id to load and persist processor state"),
				),
				parameters.NewParameterDefinition(
					"events",
					parameters.ParameterTypeBool,
					parameters.WithHelp("Print every processor event to stderr as it is published"),
					parameters.WithDefault(false),
				),
				parameters.NewParameterDefinition(
					"full",
					parameters.ParameterTypeBool,
					parameters.WithHelp("Add the invocation columns and the hidden output fields"),
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

func (c *RunCommand) RunIntoGlazeProcessor(
	ctx context.Context,
	parsedLayers *layers.ParsedLayers,
	gp middlewares.Processor,
) error {
	s := &RunSettings{}
	if err := parsedLayers.InitializeStruct(layers.DefaultSlug, s); err != nil {
		return err
	}

	res, err := runProcessor(ctx, s, os.Stderr)
	if err != nil {
		return err
	}
	return gp.AddRow(ctx, resultRow(res, s.Full))
}

func runProcessor(ctx context.Context, s *RunSettings, errOut io.Writer) (*host.Result, error) {
	input, err := readDocument(s.InputFile)
	if err != nil {
		return nil, err
	}
	if s.InputJSON != "" {
		input, err = parseDocument([]byte(s.InputJSON))
		if err != nil {
			return nil, err
		}
	}
	config, err := readDocument(s.ConfigFile)
	if err != nil {
		return nil, err
	}
	req := host.Request{
		Identity:  s.Identity,
		SessionID: s.SessionID,
		Config:    config,
		Input:     input,
	}

	if !s.Events {
		h, closeHost, err := newHost(hostSettings{})
		if err != nil {
			return nil, err
		}
		defer closeHost()
		return h.Invoke(ctx, req)
	}

	router, err := events.NewRouter(events.WithVerbose(viper.GetBool("verbose")))
	if err != nil {
		return nil, err
	}
	router.AddHandler("print", func(e *events.Event) error {
		b, err := json.Marshal(e)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(errOut, string(b))
		return err
	})

	h, closeHost, err := newHost(hostSettings{sink: router.Sink()})
	if err != nil {
		return nil, err
	}
	defer closeHost()

	eg := errgroup.Group{}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	eg.Go(func() error {
		defer cancel()
		return router.Run(ctx)
	})

	var res *host.Result
	eg.Go(func() error {
		defer cancel()
		<-router.Running()

		var err error
		res, err = h.Invoke(ctx, req)
		if err != nil {
			log.Debug().Err(err).Msg("Invocation failed")
			return err
		}
		return nil
	})

	err = eg.Wait()
	if closeErr := router.Close(); closeErr != nil {
		log.Warn().Err(closeErr).Msg("Could not close event router")
	}
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, errors.New("invocation was interrupted")
	}
	return res, nil
}

// resultRow is one row with the visible output fields. full prepends the
// invocation columns and keeps hidden fields.
func resultRow(res *host.Result, full bool) types.Row {
	output := res.VisibleOutput()
	var pairs []types.MapRowPair
	if full {
		output = res.Output
		pairs = append(pairs,
			types.MRP("invocation_id", res.InvocationID),
			types.MRP("identity", res.Identity),
			types.MRP("session_id", res.SessionID),
			types.MRP("duration_ms", res.Duration.Milliseconds()),
		)
	}

	keys := make([]string, 0, len(output))
	for k := range output {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		pairs = append(pairs, types.MRP(k, output[k]))
	}
	return types.NewRow(pairs...)
}
