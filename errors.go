package polyllm

import (
	"errors"
	"fmt"
	"strings"
)

// Structural failures surfaced by the Registry and ClientFactory.
// Match them with errors.Is.
var (
	ErrProviderNotRegistered = errors.New("provider not registered")
	ErrModelNotSupported     = errors.New("model not supported")
	ErrNoProvider            = errors.New("no provider specified and no default configured")
	ErrNoModel               = errors.New("no model specified and no default configured")
	ErrStreamConsumed        = errors.New("stream already consumed")
)

func notRegisteredError(name string, available []string) error {
	return fmt.Errorf("%w: '%s' (available providers: %s)", ErrProviderNotRegistered, name, strings.Join(available, ", "))
}

// ModelNotSupportedError builds the error returned when a model is absent
// from a provider catalog. The message enumerates the catalog.
func ModelNotSupportedError(provider, model string, available []string) error {
	return fmt.Errorf("%w: model '%s' is not supported by provider '%s' (available models: %s)",
		ErrModelNotSupported, model, provider, strings.Join(available, ", "))
}
