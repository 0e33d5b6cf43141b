// Package ollama provides a streaming chat processor backed by a local
// Ollama server. Every streamed chunk is written to the output stream, the
// finalized output is the complete answer.
package ollama

import (
	"context"

	"github.com/jmorganca/ollama/api"
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"

	"github.com/go-go-golems/stagehand/pkg/processors"
	"github.com/go-go-golems/stagehand/pkg/schema"
)

const (
	Identity = "ollama/chat"
	// ServiceName is the environment service a Chatter can be provided under.
	ServiceName = "ollama"
)

// Chatter is the part of the ollama client the processor uses.
type Chatter interface {
	Chat(ctx context.Context, req *api.ChatRequest, fn func(api.ChatResponse) error) error
}

type ClientChatter struct {
	Client *api.Client
}

func (c ClientChatter) Chat(ctx context.Context, req *api.ChatRequest, fn func(api.ChatResponse) error) error {
	return c.Client.Chat(ctx, req, fn)
}

type Input struct {
	Prompt string `json:"prompt"`
	System string `json:"system,omitempty"`
}

type Configuration struct {
	Model         string  `json:"model"`
	Temperature   float64 `json:"temperature"`
	HistoryLength int     `json:"history_length"`
}

type Output struct {
	Text  string `json:"text"`
	Model string `json:"model"`
	Done  bool   `json:"done"`
}

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

var (
	InputSchema = schema.Must[Input]("OllamaChatInput",
		schema.NewField("prompt", schema.TypeString, schema.WithRequired(), schema.WithMinLength(1)),
		schema.NewField("system", schema.TypeString),
	)

	OutputSchema = schema.Must[Output]("OllamaChatOutput",
		schema.NewField("text", schema.TypeString, schema.WithDefault("")),
		schema.NewField("model", schema.TypeString, schema.WithDefault("")),
		schema.NewField("done", schema.TypeBool, schema.WithDefault(false),
			schema.WithDescription("False while the answer is still streaming")),
	)

	ConfigurationSchema = schema.Must[Configuration]("OllamaChatConfiguration",
		schema.NewField("model", schema.TypeString, schema.WithDefault("llama2")),
		schema.NewField("temperature", schema.TypeFloat, schema.WithDefault(0.8), schema.WithRange(0, 2)),
		schema.NewField("history_length", schema.TypeInteger, schema.WithDefault(20), schema.WithRange(0, 200),
			schema.WithAdvanced()),
	)
)

var Definition = processors.Definition[Input, Output, Configuration]{
	Identity:    Identity,
	Description: "Streams a chat answer from an Ollama server",
	Input:       InputSchema,
	Output:      OutputSchema,
	Config:      ConfigurationSchema,
	New:         New,
}

type Processor struct {
	processors.Base[Output, Configuration]
	chatter Chatter
	history []Message
}

var _ processors.Processor[Input, Output, Configuration] = (*Processor)(nil)

func New(config Configuration, b processors.Bindings) (processors.Processor[Input, Output, Configuration], error) {
	base := processors.NewBase(OutputSchema, config, b)

	var chatter Chatter
	if svc, err := base.Env.Service(ServiceName); err == nil {
		c, ok := svc.(Chatter)
		if !ok {
			return nil, errors.Errorf("service %s is not an ollama Chatter", ServiceName)
		}
		chatter = c
	} else {
		client, err := api.ClientFromEnvironment()
		if err != nil {
			return nil, errors.Wrap(err, "create ollama client")
		}
		chatter = ClientChatter{Client: client}
	}

	var history []Message
	if h, ok := base.Session["history"]; ok {
		if err := mapstructure.Decode(h, &history); err != nil {
			return nil, errors.Wrap(err, "decode session history")
		}
	}

	return &Processor{Base: base, chatter: chatter, history: history}, nil
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
	messages := []api.Message{}
	if input.System != "" {
		messages = append(messages, api.Message{Role: "system", Content: input.System})
	}
	if p.Config.HistoryLength > 0 {
		for _, m := range p.history {
			messages = append(messages, api.Message{Role: m.Role, Content: m.Content})
		}
	}
	messages = append(messages, api.Message{Role: "user", Content: input.Prompt})

	stream := true
	req := &api.ChatRequest{
		Model:    p.Config.Model,
		Messages: messages,
		Stream:   &stream,
		Options: map[string]interface{}{
			"temperature": p.Config.Temperature,
		},
	}

	s := p.NewOutputStream()
	text := ""
	var writeErr error
	err := p.chatter.Chat(ctx, req, func(resp api.ChatResponse) error {
		text += resp.Message.Content
		writeErr = s.Write(Output{Text: text, Model: resp.Model, Done: resp.Done})
		return writeErr
	})
	if writeErr != nil {
		return Output{}, writeErr
	}
	if err != nil {
		return Output{}, processors.ExternalCallError(Identity, err)
	}

	output, err := s.Finalize()
	if err != nil {
		return Output{}, err
	}

	p.history = append(p.history,
		Message{Role: "user", Content: input.Prompt},
		Message{Role: "assistant", Content: output.Text},
	)
	p.history = keepTurns(p.history, p.Config.HistoryLength)
	return output, nil
}

// keepTurns keeps at most limit of the newest messages, dropping a leading
// assistant reply whose prompt was cut off.
func keepTurns(history []Message, limit int) []Message {
	if len(history) > limit {
		history = history[len(history)-limit:]
	}
	for len(history) > 0 && history[0].Role != "user" {
		history = history[1:]
	}
	return history
}
