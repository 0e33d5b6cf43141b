package openai

import (
	"github.com/pkg/errors"
	go_openai "github.com/sashabaranov/go-openai"
	"github.com/tiktoken-go/tokenizer"
)

const fallbackEncoding = "cl100k_base"

// codecFor returns the tokenizer of model, unknown models use cl100k_base.
func codecFor(model string) (tokenizer.Codec, error) {
	if c, err := tokenizer.ForModel(tokenizer.Model(model)); err == nil {
		return c, nil
	}
	c, err := tokenizer.Get(tokenizer.Encoding(fallbackEncoding))
	if err != nil {
		return nil, errors.Wrap(err, "create tokenizer")
	}
	return c, nil
}

func countTokens(codec tokenizer.Codec, messages []Message) (int, error) {
	n := 0
	for _, m := range messages {
		ids, _, err := codec.Encode(m.Content)
		if err != nil {
			return 0, errors.Wrap(err, "count tokens")
		}
		n += len(ids)
	}
	return n, nil
}

// trimHistory drops the oldest turns until the contents fit in maxTokens.
// A maxTokens of 0 keeps everything.
func trimHistory(codec tokenizer.Codec, history []Message, maxTokens int) ([]Message, error) {
	if maxTokens <= 0 {
		return history, nil
	}
	for len(history) > 0 {
		n, err := countTokens(codec, history)
		if err != nil {
			return nil, err
		}
		if n <= maxTokens {
			break
		}
		history = startAtUserTurn(history[1:])
	}
	return history, nil
}

// keepTurns keeps at most limit of the newest messages. The result never
// opens with a reply whose prompt was cut off.
func keepTurns(history []Message, limit int) []Message {
	if len(history) > limit {
		history = history[len(history)-limit:]
	}
	return startAtUserTurn(history)
}

func startAtUserTurn(history []Message) []Message {
	for len(history) > 0 && history[0].Role != go_openai.ChatMessageRoleUser {
		history = history[1:]
	}
	return history
}
