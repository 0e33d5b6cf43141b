// Package openai provides a chat completion processor keeping the
// conversation in its session state.
package openai

import (
	"context"

	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	go_openai "github.com/sashabaranov/go-openai"

	"github.com/go-go-golems/stagehand/pkg/processors"
	"github.com/go-go-golems/stagehand/pkg/schema"
)

const (
	Identity       = "openai/chat_completions"
	APIKeySecret   = "openai_api_key"
	DefaultBaseURL = "https://api.openai.com/v1"
)

type Input struct {
	Prompt string `json:"prompt"`
	System string `json:"system,omitempty"`
}

type Configuration struct {
	Model       string  `json:"model"`
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
	// HistoryLength is the number of previous messages sent along, 0 disables history.
	HistoryLength int `json:"history_length"`
	// MaxHistoryTokens bounds the tokens of the history sent along, 0 means no bound.
	MaxHistoryTokens int    `json:"max_history_tokens"`
	BaseURL          string `json:"base_url"`
}

type Output struct {
	Text             string `json:"text"`
	Model            string `json:"model"`
	FinishReason     string `json:"finish_reason"`
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
}

// Message is one entry of the persisted conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

var (
	InputSchema = schema.Must[Input]("ChatCompletionsInput",
		schema.NewField("prompt", schema.TypeString, schema.WithRequired(), schema.WithMinLength(1),
			schema.WithDescription("User message")),
		schema.NewField("system", schema.TypeString,
			schema.WithDescription("System message, replaces the one of earlier turns")),
	)

	OutputSchema = schema.Must[Output]("ChatCompletionsOutput",
		schema.NewField("text", schema.TypeString, schema.WithDefault("")),
		schema.NewField("model", schema.TypeString, schema.WithDefault("")),
		schema.NewField("finish_reason", schema.TypeString, schema.WithDefault("")),
		schema.NewField("prompt_tokens", schema.TypeInteger, schema.WithDefault(0), schema.WithAdvanced()),
		schema.NewField("completion_tokens", schema.TypeInteger, schema.WithDefault(0), schema.WithAdvanced()),
	)

	ConfigurationSchema = schema.Must[Configuration]("ChatCompletionsConfiguration",
		schema.NewField("model", schema.TypeString, schema.WithDefault(go_openai.GPT3Dot5Turbo),
			schema.WithDescription("Model to use")),
		schema.NewField("temperature", schema.TypeFloat, schema.WithDefault(0.7), schema.WithRange(0, 2)),
		schema.NewField("max_tokens", schema.TypeInteger, schema.WithDefault(256), schema.WithRange(1, 32000)),
		schema.NewField("history_length", schema.TypeInteger, schema.WithDefault(20), schema.WithRange(0, 200),
			schema.WithAdvanced()),
		schema.NewField("max_history_tokens", schema.TypeInteger, schema.WithDefault(0), schema.WithRange(0, 128000),
			schema.WithAdvanced(), schema.WithDescription("Token budget of the history, oldest messages are dropped first")),
		schema.NewField("base_url", schema.TypeURL, schema.WithDefault(DefaultBaseURL), schema.WithHidden()),
	)
)

var Definition = processors.Definition[Input, Output, Configuration]{
	Identity:    Identity,
	Description: "Chat completion with the OpenAI API",
	Input:       InputSchema,
	Output:      OutputSchema,
	Config:      ConfigurationSchema,
	New:         New,
}

type Processor struct {
	processors.Base[Output, Configuration]
	client  *go_openai.Client
	history []Message
}

var _ processors.Processor[Input, Output, Configuration] = (*Processor)(nil)

func New(config Configuration, b processors.Bindings) (processors.Processor[Input, Output, Configuration], error) {
	base := processors.NewBase(OutputSchema, config, b)
	apiKey, err := base.Env.Secret(APIKeySecret)
	if err != nil {
		return nil, err
	}

	clientConfig := go_openai.DefaultConfig(apiKey)
	clientConfig.BaseURL = config.BaseURL
	history, err := decodeHistory(base.Session["history"])
	if err != nil {
		return nil, err
	}

	return &Processor{
		Base:    base,
		client:  go_openai.NewClientWithConfig(clientConfig),
		history: history,
	}, nil
}

func (p *Processor) Identity() string {
	return Identity
}

func (p *Processor) SessionStateToPersist() processors.SessionState {
	if len(p.history) == 0 || p.Config.HistoryLength == 0 {
		return processors.SessionState{}
	}
	history := make([]map[string]interface{}, 0, len(p.history))
	for _, m := range p.history {
		history = append(history, map[string]interface{}{"role": m.Role, "content": m.Content})
	}
	return processors.SessionState{"history": history}
}

func (p *Processor) Process(ctx context.Context, input Input) (Output, error) {
	messages := []go_openai.ChatCompletionMessage{}
	if input.System != "" {
		messages = append(messages, go_openai.ChatCompletionMessage{
			Role:    go_openai.ChatMessageRoleSystem,
			Content: input.System,
		})
	}
	if p.Config.HistoryLength > 0 {
		history, err := p.boundedHistory()
		if err != nil {
			return Output{}, err
		}
		for _, m := range history {
			messages = append(messages, go_openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
		}
	}
	messages = append(messages, go_openai.ChatCompletionMessage{
		Role:    go_openai.ChatMessageRoleUser,
		Content: input.Prompt,
	})

	resp, err := p.client.CreateChatCompletion(ctx, go_openai.ChatCompletionRequest{
		Model:       p.Config.Model,
		Messages:    messages,
		Temperature: float32(p.Config.Temperature),
		MaxTokens:   p.Config.MaxTokens,
	})
	if err != nil {
		return Output{}, externalCallFailed(err)
	}
	if len(resp.Choices) == 0 {
		return Output{}, &processors.ExternalCallFailedError{Identity: Identity, StatusText: "no choices returned"}
	}

	choice := resp.Choices[0]
	output := Output{
		Text:             choice.Message.Content,
		Model:            resp.Model,
		FinishReason:     string(choice.FinishReason),
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
	}
	output, err = p.NewOutputStream().WriteAndFinalize(output)
	if err != nil {
		return Output{}, err
	}

	p.history = append(p.history,
		Message{Role: go_openai.ChatMessageRoleUser, Content: input.Prompt},
		Message{Role: go_openai.ChatMessageRoleAssistant, Content: output.Text},
	)
	p.history = keepTurns(p.history, p.Config.HistoryLength)
	return output, nil
}

func (p *Processor) boundedHistory() ([]Message, error) {
	if p.Config.MaxHistoryTokens == 0 {
		return p.history, nil
	}
	codec, err := codecFor(p.Config.Model)
	if err != nil {
		return nil, err
	}
	return trimHistory(codec, p.history, p.Config.MaxHistoryTokens)
}

func externalCallFailed(err error) error {
	var apiErr *go_openai.APIError
	if errors.As(err, &apiErr) {
		return &processors.ExternalCallFailedError{
			Identity:   Identity,
			StatusCode: apiErr.HTTPStatusCode,
			StatusText: apiErr.Message,
		}
	}
	var reqErr *go_openai.RequestError
	if errors.As(err, &reqErr) {
		return &processors.ExternalCallFailedError{
			Identity:   Identity,
			StatusCode: reqErr.HTTPStatusCode,
			StatusText: reqErr.Error(),
		}
	}
	return processors.ExternalCallError(Identity, err)
}

// decodeHistory accepts the history as persisted in memory or as read back
// from JSON.
func decodeHistory(v interface{}) ([]Message, error) {
	if v == nil {
		return nil, nil
	}
	var ret []Message
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName: "json",
		Result:  &ret,
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(v); err != nil {
		return nil, errors.Wrap(err, "decode session history")
	}
	return ret, nil
}
