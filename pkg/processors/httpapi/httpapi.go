// Package httpapi provides the generic HTTP request forwarder processor.
package httpapi

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-go-golems/stagehand/pkg/invoker"
	"github.com/go-go-golems/stagehand/pkg/processors"
	"github.com/go-go-golems/stagehand/pkg/schema"
)

const Identity = "promptly_http_api_processor"

const (
	AuthBearer = "bearer"
	AuthBasic  = "basic"
	AuthAPIKey = "api_key"
)

type Authorization struct {
	Type     string `json:"type"`
	Token    string `json:"token,omitempty"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	// Header is the header an api_key is sent in, X-API-Key by default.
	Header string `json:"header,omitempty"`
}

type Input struct {
	URL           string                 `json:"url"`
	Method        string                 `json:"method"`
	Headers       map[string]string      `json:"headers"`
	Body          interface{}            `json:"body,omitempty"`
	Authorization map[string]interface{} `json:"authorization,omitempty"`
}

type Output struct {
	Code        int               `json:"code"`
	Text        string            `json:"text"`
	ContentJSON interface{}       `json:"content_json,omitempty"`
	IsOK        bool              `json:"is_ok"`
	Headers     map[string]string `json:"headers"`
	Content     []byte            `json:"content,omitempty"`
}

type Configuration struct {
	Timeout        int  `json:"timeout"`
	AllowRedirects bool `json:"allow_redirects"`
}

var (
	InputSchema = schema.Must[Input]("HttpAPIProcessorInput",
		schema.NewField("url", schema.TypeURL, schema.WithRequired(),
			schema.WithDescription("URL to send the request to"),
			schema.WithExample("https://example.com/api")),
		schema.NewField("method", schema.TypeChoice, schema.WithDefault(http.MethodGet),
			schema.WithChoices(http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch,
				http.MethodDelete, http.MethodHead, http.MethodOptions),
			schema.WithDescription("HTTP method")),
		schema.NewField("headers", schema.TypeStringMap, schema.WithDefault(map[string]string{}),
			schema.WithDescription("Request headers")),
		schema.NewField("body", schema.TypeJSON,
			schema.WithDescription("Request body, strings are sent as is, anything else as JSON")),
		schema.NewField("authorization", schema.TypeObject,
			schema.WithDescription("Authorization: {type: bearer|basic|api_key, token, username, password, header}"),
			schema.WithAdvanced()),
	)

	OutputSchema = schema.Must[Output]("HttpAPIProcessorOutput",
		schema.NewField("code", schema.TypeInteger, schema.WithRequired(), schema.WithRange(100, 599),
			schema.WithDescription("Response status code")),
		schema.NewField("text", schema.TypeString, schema.WithDefault(""),
			schema.WithDescription("Response body as text")),
		schema.NewField("content_json", schema.TypeJSON,
			schema.WithDescription("Response body parsed as JSON, when it is JSON")),
		schema.NewField("is_ok", schema.TypeBool, schema.WithDefault(false)),
		schema.NewField("headers", schema.TypeStringMap, schema.WithDefault(map[string]string{}),
			schema.WithDescription("Response headers")),
		schema.NewField("content", schema.TypeBytes, schema.WithHidden(),
			schema.WithDescription("Raw response body")),
	)

	ConfigurationSchema = schema.Must[Configuration]("HttpAPIProcessorConfiguration",
		schema.NewField("timeout", schema.TypeInteger, schema.WithDefault(5), schema.WithRange(0, 60),
			schema.WithDescription("Timeout in seconds"), schema.WithExample(10)),
		schema.NewField("allow_redirects", schema.TypeBool, schema.WithDefault(true),
			schema.WithDescription("Follow redirects"), schema.WithAdvanced()),
	)

	authorizationSchema = schema.Must[Authorization]("HttpAPIProcessorAuthorization",
		schema.NewField("type", schema.TypeChoice, schema.WithRequired(),
			schema.WithChoices(AuthBearer, AuthBasic, AuthAPIKey)),
		schema.NewField("token", schema.TypeString),
		schema.NewField("username", schema.TypeString),
		schema.NewField("password", schema.TypeString),
		schema.NewField("header", schema.TypeString, schema.WithDefault("X-API-Key")),
	)
)

var Definition = processors.Definition[Input, Output, Configuration]{
	Identity:    Identity,
	Description: "Sends an HTTP request and returns the response",
	Input:       InputSchema,
	Output:      OutputSchema,
	Config:      ConfigurationSchema,
	New:         New,
}

type Processor struct {
	processors.Base[Output, Configuration]
	invoker invoker.Invoker
}

var _ processors.Processor[Input, Output, Configuration] = (*Processor)(nil)

func New(config Configuration, b processors.Bindings) (processors.Processor[Input, Output, Configuration], error) {
	base := processors.NewBase(OutputSchema, config, b)
	return &Processor{
		Base:    base,
		invoker: invoker.FromEnvironment(base.Env),
	}, nil
}

func (p *Processor) Identity() string {
	return Identity
}

func (p *Processor) SessionStateToPersist() processors.SessionState {
	return processors.SessionState{}
}

func (p *Processor) Process(ctx context.Context, input Input) (Output, error) {
	headers := make(map[string]string, len(input.Headers)+1)
	for k, v := range input.Headers {
		headers[k] = v
	}
	if input.Authorization != nil {
		auth, err := authorizationSchema.Decode(input.Authorization)
		if err != nil {
			return Output{}, err
		}
		applyAuthorization(headers, auth)
	}

	resp, err := p.invoker.Invoke(ctx, &invoker.Request{
		Method:         input.Method,
		URL:            input.URL,
		Headers:        headers,
		Body:           input.Body,
		Timeout:        time.Duration(p.Config.Timeout) * time.Second,
		AllowRedirects: p.Config.AllowRedirects,
	})
	if err != nil {
		return Output{}, err
	}
	if !resp.Success {
		return Output{}, processors.NewExternalCallFailed(Identity, resp)
	}

	output := Output{
		Code:    resp.StatusCode,
		Text:    string(resp.Body),
		IsOK:    true,
		Headers: resp.Headers,
		Content: resp.Body,
	}
	var parsed interface{}
	if len(resp.Body) > 0 && json.Unmarshal(resp.Body, &parsed) == nil {
		output.ContentJSON = parsed
	}

	return p.NewOutputStream().WriteAndFinalize(output)
}

func applyAuthorization(headers map[string]string, auth Authorization) {
	switch auth.Type {
	case AuthBearer:
		headers["Authorization"] = "Bearer " + auth.Token
	case AuthBasic:
		creds := base64.StdEncoding.EncodeToString([]byte(auth.Username + ":" + auth.Password))
		headers["Authorization"] = "Basic " + creds
	case AuthAPIKey:
		headers[auth.Header] = auth.Token
	}
}
