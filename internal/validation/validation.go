// Package validation checks inbound HTTP payload shapes against JSON
// schema documents, the way internal/freqtrade/config_validator.go
// validates a freqtrade config against a cached remote schema. Here the
// schema is fixed by this API rather than fetched from a third party, so
// it is embedded in the binary instead of loaded over HTTP.
package validation

import (
	"embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

//go:embed schemas/*.json
var schemaFS embed.FS

var (
	loaders     = map[string]gojsonschema.JSONLoader{}
	loadersOnce sync.Once
	loadErr     error
)

func loadAll() {
	names := []string{"publish", "execute", "schedule", "sla", "env_bindings"}
	for _, name := range names {
		raw, err := schemaFS.ReadFile(fmt.Sprintf("schemas/%s.json", name))
		if err != nil {
			loadErr = fmt.Errorf("validation: reading embedded schema %s: %w", name, err)
			return
		}
		loaders[name] = gojsonschema.NewBytesLoader(raw)
	}
}

// Validate checks payload (already decoded into a map or struct) against
// the named embedded schema ("publish", "execute", "schedule", "sla",
// "env_bindings") and returns a combined error describing every schema
// violation found, or nil if payload is valid.
func Validate(schemaName string, payload interface{}) error {
	loadersOnce.Do(loadAll)
	if loadErr != nil {
		return loadErr
	}
	loader, ok := loaders[schemaName]
	if !ok {
		return fmt.Errorf("validation: unknown schema %q", schemaName)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("validation: marshaling payload: %w", err)
	}

	result, err := gojsonschema.Validate(loader, gojsonschema.NewBytesLoader(body))
	if err != nil {
		return fmt.Errorf("validation: %w", err)
	}
	if !result.Valid() {
		msg := ""
		for i, desc := range result.Errors() {
			if i > 0 {
				msg += "; "
			}
			msg += fmt.Sprintf("%s: %s", desc.Field(), desc.Description())
		}
		return fmt.Errorf("%s", msg)
	}
	return nil
}
