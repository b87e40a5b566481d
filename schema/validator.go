package pageschema

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"horse.fit/pageid/internal/fingerprint"
	"horse.fit/pageid/internal/globaltime"
)

//go:embed page_identity.schema.json
var pageIdentitySchemaJSON string

var (
	compileOnce       sync.Once
	compiledSchema    *jsonschema.Schema
	compiledSchemaErr error
)

// ValidatePageIdentityPayload checks a wire payload against the embedded schema and the
// signature and URL rules, and returns it as a PageIdentity. A missing generatedAt is set to now.
func ValidatePageIdentityPayload(payload json.RawMessage) (fingerprint.PageIdentity, error) {
	value, err := decodeStrictJSON(payload)
	if err != nil {
		return fingerprint.PageIdentity{}, fmt.Errorf("decode payload JSON: %w", err)
	}

	schema, err := loadSchema()
	if err != nil {
		return fingerprint.PageIdentity{}, fmt.Errorf("load schema: %w", err)
	}

	if err := schema.Validate(value); err != nil {
		return fingerprint.PageIdentity{}, fmt.Errorf("schema validation failed: %w", err)
	}

	normalized, err := json.Marshal(value)
	if err != nil {
		return fingerprint.PageIdentity{}, fmt.Errorf("normalize payload JSON: %w", err)
	}

	var identity fingerprint.PageIdentity
	if err := json.Unmarshal(normalized, &identity); err != nil {
		return fingerprint.PageIdentity{}, fmt.Errorf("unmarshal payload: %w", err)
	}

	if err := validateSemantics(&identity); err != nil {
		return fingerprint.PageIdentity{}, err
	}

	if identity.GeneratedAt.IsZero() {
		identity.GeneratedAt = globaltime.UTC()
	}
	return identity, nil
}

func loadSchema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		compiler.Draft = jsonschema.Draft2020
		compiler.AssertFormat = true

		if err := compiler.AddResource("page_identity.schema.json", strings.NewReader(pageIdentitySchemaJSON)); err != nil {
			compiledSchemaErr = fmt.Errorf("add schema resource: %w", err)
			return
		}

		schema, err := compiler.Compile("page_identity.schema.json")
		if err != nil {
			compiledSchemaErr = fmt.Errorf("compile schema: %w", err)
			return
		}

		compiledSchema = schema
	})

	if compiledSchemaErr != nil {
		return nil, compiledSchemaErr
	}
	if compiledSchema == nil {
		return nil, fmt.Errorf("schema not initialized")
	}
	return compiledSchema, nil
}

func decodeStrictJSON(raw []byte) (any, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("payload is empty")
	}

	decoder := json.NewDecoder(bytes.NewReader(trimmed))
	decoder.UseNumber()

	var value any
	if err := decoder.Decode(&value); err != nil {
		return nil, err
	}

	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("payload contains trailing content")
	}

	return value, nil
}

func validateSemantics(identity *fingerprint.PageIdentity) error {
	if identity == nil {
		return fmt.Errorf("payload is nil")
	}
	if err := identity.Validate(); err != nil {
		return err
	}

	if strings.TrimSpace(identity.CanonicalURL) != "" {
		if err := validateURI("canonicalUrl", identity.CanonicalURL); err != nil {
			return err
		}
	}
	if strings.TrimSpace(identity.SourceURL) != "" {
		if err := validateURI("sourceUrl", identity.SourceURL); err != nil {
			return err
		}
	}

	for i, token := range identity.LayoutTokens {
		if strings.TrimSpace(token) == "" {
			return fmt.Errorf("layoutTokens[%d] must not be empty", i)
		}
	}
	return nil
}

// canonicalUrl may be an opaque data-page-id value, so only absolute URLs are checked for a host.
func validateURI(fieldName, value string) error {
	trimmed := strings.TrimSpace(value)
	parsed, err := url.Parse(trimmed)
	if err != nil {
		return fmt.Errorf("%s is not a valid URI: %w", fieldName, err)
	}
	if parsed.Scheme != "" && parsed.Host == "" && parsed.Opaque == "" {
		return fmt.Errorf("%s must include a host", fieldName)
	}
	return nil
}
