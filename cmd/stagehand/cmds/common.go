package cmds

import (
	"context"
	"io"
	"os"

	"github.com/go-go-golems/glazed/pkg/cli"
	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/middlewares"
	"github.com/go-go-golems/glazed/pkg/types"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/go-go-golems/stagehand/pkg/env"
	"github.com/go-go-golems/stagehand/pkg/events"
	"github.com/go-go-golems/stagehand/pkg/host"
	"github.com/go-go-golems/stagehand/pkg/metrics"
	"github.com/go-go-golems/stagehand/pkg/processors/builtin"
	"github.com/go-go-golems/stagehand/pkg/session"
)

// sessionConfig reads the session: block of the config file, the
// --session-backend and --session-dsn flags override it.
func sessionConfig() (session.Config, error) {
	cfg := session.Config{}
	if err := viper.UnmarshalKey("session", &cfg); err != nil {
		return cfg, errors.Wrap(err, "decode session config")
	}
	if viper.IsSet("session-backend") || cfg.Backend == "" {
		cfg.Backend = viper.GetString("session-backend")
	}
	if dsn := viper.GetString("session-dsn"); dsn != "" {
		switch cfg.Backend {
		case session.BackendSQLite:
			cfg.DSN = dsn
		case session.BackendBolt:
			cfg.Path = dsn
		case session.BackendRedis:
			cfg.RedisAddr = dsn
		}
	}
	return cfg, nil
}

// environment collects the secrets: block of the config file and the
// provider key flags.
func environment() *env.Environment {
	var options []env.Option
	for flag, key := range map[string]string{
		"openai-api-key":    "openai_api_key",
		"replicate-api-key": "replicate_api_key",
	} {
		if v := viper.GetString(flag); v != "" {
			options = append(options, env.WithSecret(key, v))
		}
	}
	return env.FromViper(viper.GetViper(), "secrets", options...)
}

type hostSettings struct {
	sink    events.EventSink
	metrics *metrics.Collector
}

// newHost builds a host with the builtin processors. The returned close
// function releases the session store.
func newHost(s hostSettings) (*host.Host, func(), error) {
	registry, err := builtin.NewRegistry()
	if err != nil {
		return nil, nil, err
	}

	cfg, err := sessionConfig()
	if err != nil {
		return nil, nil, err
	}
	store, err := session.Open(cfg)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "open %s session store", cfg.Backend)
	}
	log.Debug().Str("backend", cfg.Backend).Msg("Opened session store")

	options := []host.Option{
		host.WithStore(store),
		host.WithEnvironment(environment()),
		host.WithSink(s.sink),
	}
	if s.metrics != nil {
		options = append(options, host.WithMetrics(s.metrics))
	}

	closeStore := func() {
		if err := store.Close(); err != nil {
			log.Warn().Err(err).Msg("Could not close session store")
		}
	}
	return host.New(registry, options...), closeStore, nil
}

// readDocument reads a YAML or JSON mapping from path, - is stdin.
func readDocument(path string) (map[string]interface{}, error) {
	if path == "" {
		return map[string]interface{}{}, nil
	}

	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer func() { _ = f.Close() }()
		r = f
	}

	b, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", path)
	}
	return parseDocument(b)
}

func parseDocument(b []byte) (map[string]interface{}, error) {
	ret := map[string]interface{}{}
	if err := yaml.Unmarshal(b, &ret); err != nil {
		return nil, errors.Wrap(err, "parse document")
	}
	return ret, nil
}

// catalog is a host without a session store, for commands that only read
// processor descriptions.
func catalog() (*host.Host, error) {
	registry, err := builtin.NewRegistry()
	if err != nil {
		return nil, err
	}
	return host.New(registry), nil
}

func addRows(ctx context.Context, gp middlewares.Processor, rows []types.Row) error {
	for _, row := range rows {
		if err := gp.AddRow(ctx, row); err != nil {
			return err
		}
	}
	return nil
}

// AddToRootCommand registers the stagehand commands on rootCmd.
func AddToRootCommand(rootCmd *cobra.Command) error {
	listCmd, err := NewListCommand()
	if err != nil {
		return err
	}
	describeCmd, err := NewDescribeCommand()
	if err != nil {
		return err
	}
	runCmd, err := NewRunCommand()
	if err != nil {
		return err
	}
	validateCmd, err := NewValidateCommand()
	if err != nil {
		return err
	}

	for _, c := range []cmds.GlazeCommand{listCmd, describeCmd, runCmd} {
		cobraCmd, err := cli.BuildCobraCommandFromGlazeCommand(c)
		if err != nil {
			return err
		}
		rootCmd.AddCommand(cobraCmd)
	}

	validateCobraCmd, err := cli.BuildCobraCommandFromGlazeCommand(validateCmd)
	if err != nil {
		return err
	}
	// the violation rows are printed first, the command still fails
	validateCobraCmd.PostRunE = func(*cobra.Command, []string) error {
		return validateCmd.failure
	}
	rootCmd.AddCommand(validateCobraCmd)

	rootCmd.AddCommand(NewServeCommand())
	return nil
}
