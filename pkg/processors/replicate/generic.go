// Package replicate wraps the Replicate predictions API.
package replicate

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-go-golems/stagehand/pkg/invoker"
	"github.com/go-go-golems/stagehand/pkg/processors"
	"github.com/go-go-golems/stagehand/pkg/schema"
)

const (
	Identity       = "replicate/generic"
	APIKeySecret   = "replicate_api_key"
	DefaultBaseURL = "https://api.replicate.com/v1"
)

const (
	StatusStarting   = "starting"
	StatusProcessing = "processing"
	StatusSucceeded  = "succeeded"
	StatusFailed     = "failed"
	StatusCanceled   = "canceled"
)

type Input struct {
	Model   string                 `json:"model"`
	Version string                 `json:"version"`
	Input   map[string]interface{} `json:"input"`
}

type Configuration struct {
	SyncMode bool   `json:"sync_mode"`
	BaseURL  string `json:"base_url"`
}

// URLs is the handle of a prediction that is still running.
type URLs struct {
	Get    string `json:"get"`
	Cancel string `json:"cancel"`
	Stream string `json:"stream,omitempty"`
}

type Output struct {
	ID          string                 `json:"id"`
	Status      string                 `json:"status"`
	Generations []interface{}          `json:"generations"`
	Async       *URLs                  `json:"async,omitempty"`
	APIResponse map[string]interface{} `json:"api_response,omitempty"`
}

var (
	InputSchema = schema.Must[Input]("GenericInput",
		schema.NewField("model", schema.TypeString, schema.WithRequired(), schema.WithMinLength(1),
			schema.WithDescription("Model name")),
		schema.NewField("version", schema.TypeString, schema.WithRequired(), schema.WithMinLength(1),
			schema.WithDescription("Model version")),
		schema.NewField("input", schema.TypeObject, schema.WithDefault(map[string]interface{}{}),
			schema.WithDescription("Inputs passed to the model")),
	)

	OutputSchema = schema.Must[Output]("GenericOutput",
		schema.NewField("id", schema.TypeString, schema.WithDefault(""), schema.WithDescription("Prediction ID")),
		schema.NewField("status", schema.TypeString, schema.WithDefault("")),
		schema.NewField("generations", schema.TypeList, schema.WithDefault([]interface{}{}),
			schema.WithDescription("The completions generated by the model.")),
		schema.NewField("async", schema.TypeObject,
			schema.WithDescription("URLs to poll or cancel a prediction that has not finished")),
		schema.NewField("api_response", schema.TypeObject, schema.WithHidden(),
			schema.WithDescription("The raw response from the API.")),
	)

	ConfigurationSchema = schema.Must[Configuration]("GenericConfiguration",
		schema.NewField("sync_mode", schema.TypeBool, schema.WithDefault(false),
			schema.WithDescription("Run in synchronous mode")),
		schema.NewField("base_url", schema.TypeURL, schema.WithDefault(DefaultBaseURL), schema.WithHidden()),
	)
)

var Definition = processors.Definition[Input, Output, Configuration]{
	Identity:    Identity,
	Description: "Runs a prediction on any Replicate model version",
	Input:       InputSchema,
	Output:      OutputSchema,
	Config:      ConfigurationSchema,
	New:         New,
}

type prediction struct {
	ID      string                 `json:"id"`
	Version string                 `json:"version"`
	Status  string                 `json:"status"`
	URLs    URLs                   `json:"urls"`
	Output  interface{}            `json:"output"`
	Error   interface{}            `json:"error"`
	Raw     map[string]interface{} `json:"-"`
}

type Processor struct {
	processors.Base[Output, Configuration]
	apiKey  string
	invoker invoker.Invoker

	lastPredictionID string
}

var _ processors.Processor[Input, Output, Configuration] = (*Processor)(nil)

func New(config Configuration, b processors.Bindings) (processors.Processor[Input, Output, Configuration], error) {
	base := processors.NewBase(OutputSchema, config, b)
	apiKey, err := base.Env.Secret(APIKeySecret)
	if err != nil {
		return nil, err
	}
	ret := &Processor{
		Base:    base,
		apiKey:  apiKey,
		invoker: invoker.FromEnvironment(base.Env),
	}
	if id, ok := base.Session["last_prediction_id"].(string); ok {
		ret.lastPredictionID = id
	}
	return ret, nil
}

func (p *Processor) Identity() string {
	return Identity
}

func (p *Processor) SessionStateToPersist() processors.SessionState {
	if p.lastPredictionID == "" {
		return processors.SessionState{}
	}
	return processors.SessionState{"last_prediction_id": p.lastPredictionID}
}

func (p *Processor) Process(ctx context.Context, input Input) (Output, error) {
	headers := map[string]string{
		"Authorization": "Bearer " + p.apiKey,
	}
	if p.Config.SyncMode {
		headers["Prefer"] = "wait"
	}

	resp, err := p.invoker.Invoke(ctx, &invoker.Request{
		Method:  http.MethodPost,
		URL:     strings.TrimRight(p.Config.BaseURL, "/") + "/predictions",
		Headers: headers,
		Body: map[string]interface{}{
			"version": input.Version,
			"input":   input.Input,
		},
		AllowRedirects: true,
	})
	if err != nil {
		return Output{}, err
	}
	if !resp.Success {
		return Output{}, processors.NewExternalCallFailed(Identity, resp)
	}

	var pred prediction
	if err := resp.JSON(&pred); err != nil {
		return Output{}, processors.ExternalCallError(Identity, err)
	}
	if err := resp.JSON(&pred.Raw); err != nil {
		return Output{}, processors.ExternalCallError(Identity, err)
	}
	p.lastPredictionID = pred.ID

	output := Output{
		ID:          pred.ID,
		Status:      pred.Status,
		APIResponse: pred.Raw,
	}

	switch pred.Status {
	case StatusSucceeded:
		output.Generations = generations(pred.Output)
	case StatusFailed, StatusCanceled:
		return Output{}, &processors.ExternalCallFailedError{
			Identity:   Identity,
			StatusCode: resp.StatusCode,
			StatusText: predictionError(pred),
		}
	default:
		urls := pred.URLs
		output.Async = &urls
	}

	return p.NewOutputStream().WriteAndFinalize(output)
}

func generations(output interface{}) []interface{} {
	switch o := output.(type) {
	case nil:
		return []interface{}{}
	case []interface{}:
		return o
	default:
		return []interface{}{o}
	}
}

func predictionError(pred prediction) string {
	switch e := pred.Error.(type) {
	case string:
		if e != "" {
			return e
		}
	case nil:
	default:
		return fmt.Sprintf("%v", e)
	}
	return "prediction " + pred.ID + " " + pred.Status
}
