package server

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/MeKo-Tech/doseocr/internal/batch"
)

//go:embed schema/submit_job.json
var submitJobSchema []byte

const submitJobSchemaURL = "submit_job.json"

func compileJobSchema() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(submitJobSchemaURL, bytes.NewReader(submitJobSchema)); err != nil {
		return nil, fmt.Errorf("add job schema: %w", err)
	}
	schema, err := compiler.Compile(submitJobSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile job schema: %w", err)
	}
	return schema, nil
}

// validateJobRequest checks a raw submission body against the job schema and
// reports the first violation as a *batch.ValidationError.
func (s *Server) validateJobRequest(body []byte) error {
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return &batch.ValidationError{Field: "body", Reason: err.Error()}
	}
	err := s.jobSchema.Validate(v)
	if err == nil {
		return nil
	}

	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return fmt.Errorf("validate job request: %w", err)
	}
	leaf := ve
	for len(leaf.Causes) > 0 {
		leaf = leaf.Causes[0]
	}
	field := strings.TrimPrefix(leaf.InstanceLocation, "/")
	if field == "" {
		field = "body"
	}
	return &batch.ValidationError{Field: strings.ReplaceAll(field, "/", "."), Reason: leaf.Message}
}
