// Package builtin registers the processors shipped with stagehand.
package builtin

import (
	"github.com/go-go-golems/stagehand/pkg/processors"
	"github.com/go-go-golems/stagehand/pkg/processors/httpapi"
	"github.com/go-go-golems/stagehand/pkg/processors/ollama"
	"github.com/go-go-golems/stagehand/pkg/processors/openai"
	"github.com/go-go-golems/stagehand/pkg/processors/replicate"
)

func Register(r *processors.Registry) error {
	if err := processors.Register(r, httpapi.Definition); err != nil {
		return err
	}
	if err := processors.Register(r, replicate.Definition); err != nil {
		return err
	}
	if err := processors.Register(r, openai.Definition); err != nil {
		return err
	}
	return processors.Register(r, ollama.Definition)
}

// NewRegistry returns a registry holding every builtin processor.
func NewRegistry() (*processors.Registry, error) {
	r := processors.NewRegistry()
	if err := Register(r); err != nil {
		return nil, err
	}
	return r, nil
}
