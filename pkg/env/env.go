// Package env provides the capability bag a processor receives at
// construction: secrets such as API keys and ambient services such as the
// invoker used to reach external collaborators.
//
//	e := env.New(
//		env.WithSecret("REPLICATE_API_KEY", key),
//		env.WithService(invoker.ServiceName, invoker.NewHTTPInvoker()),
//	)
//	token, err := e.Secret("replicate_api_key")
package env

import (
	"fmt"
	"sort"
	"strings"

	"github.com/iancoleman/strcase"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

var ErrMissingCapability = errors.New("missing capability")

// MissingCapabilityError is returned when a secret or service is absent.
type MissingCapabilityError struct {
	Kind string
	Key  string
}

func (e *MissingCapabilityError) Error() string {
	return fmt.Sprintf("%s: %s %q", ErrMissingCapability, e.Kind, e.Key)
}

func (e *MissingCapabilityError) Is(target error) bool { return target == ErrMissingCapability }

// Environment is immutable after New and safe for concurrent reads.
type Environment struct {
	secrets  map[string]string
	services map[string]interface{}
}

type Option func(*Environment)

func WithSecret(key, value string) Option {
	return func(e *Environment) {
		e.secrets[NormalizeKey(key)] = value
	}
}

func WithSecrets(secrets map[string]string) Option {
	return func(e *Environment) {
		for k, v := range secrets {
			e.secrets[NormalizeKey(k)] = v
		}
	}
}

func WithService(name string, service interface{}) Option {
	return func(e *Environment) {
		e.services[NormalizeKey(name)] = service
	}
}

func New(options ...Option) *Environment {
	ret := &Environment{
		secrets:  map[string]string{},
		services: map[string]interface{}{},
	}
	for _, o := range options {
		o(ret)
	}
	return ret
}

// Empty is an environment without secrets or services.
func Empty() *Environment {
	return New()
}

// NormalizeKey maps REPLICATE_API_KEY, replicate-api-key and replicateApiKey
// to replicate_api_key.
func NormalizeKey(key string) string {
	return strcase.ToSnake(strings.TrimSpace(key))
}

// Secret returns the named secret. Empty values count as absent.
func (e *Environment) Secret(key string) (string, error) {
	if e != nil {
		if v, ok := e.secrets[NormalizeKey(key)]; ok && v != "" {
			return v, nil
		}
	}
	return "", &MissingCapabilityError{Kind: "secret", Key: NormalizeKey(key)}
}

func (e *Environment) HasSecret(key string) bool {
	_, err := e.Secret(key)
	return err == nil
}

func (e *Environment) Service(name string) (interface{}, error) {
	if e != nil {
		if v, ok := e.services[NormalizeKey(name)]; ok && v != nil {
			return v, nil
		}
	}
	return nil, &MissingCapabilityError{Kind: "service", Key: NormalizeKey(name)}
}

// SecretKeys lists the available secret keys, never their values.
func (e *Environment) SecretKeys() []string {
	if e == nil {
		return nil
	}
	ret := make([]string, 0, len(e.secrets))
	for k := range e.secrets {
		ret = append(ret, k)
	}
	sort.Strings(ret)
	return ret
}

// With returns a copy of e with additional options applied.
func (e *Environment) With(options ...Option) *Environment {
	ret := New()
	if e != nil {
		for k, v := range e.secrets {
			ret.secrets[k] = v
		}
		for k, v := range e.services {
			ret.services[k] = v
		}
	}
	for _, o := range options {
		o(ret)
	}
	return ret
}

// FromViper reads the secrets map stored under key, e.g.
//
//	secrets:
//	  replicate_api_key: r8_...
//	  openai_api_key: sk-...
func FromViper(v *viper.Viper, key string, options ...Option) *Environment {
	if v == nil {
		v = viper.GetViper()
	}
	secrets := v.GetStringMapString(key)
	return New(append([]Option{WithSecrets(secrets)}, options...)...)
}
