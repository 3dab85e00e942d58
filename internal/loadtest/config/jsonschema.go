package config

import (
	"bytes"
	_ "embed"
	"fmt"
	"sort"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed testconfig.schema.json
var testConfigSchema []byte

const schemaURL = "testconfig.schema.json"

var (
	compileOnce    sync.Once
	compiledSchema *jsonschema.Schema
	compileErr     error
)

func documentSchema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(schemaURL, bytes.NewReader(testConfigSchema)); err != nil {
			compileErr = fmt.Errorf("invalid schema: %w", err)
			return
		}
		compiledSchema, compileErr = compiler.Compile(schemaURL)
		if compileErr != nil {
			compileErr = fmt.Errorf("invalid schema: %w", compileErr)
		}
	})
	return compiledSchema, compileErr
}

// validateDocument checks a decoded document (maps, slices and JSON
// scalars) against the embedded schema. Violations are returned as
// ValidationErrors keyed by their instance location.
func validateDocument(doc interface{}) error {
	schema, err := documentSchema()
	if err != nil {
		return err
	}

	err = schema.Validate(doc)
	if err == nil {
		return nil
	}

	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return err
	}

	errs := &ValidationErrors{}
	for _, leaf := range leafErrors(verr) {
		field := leaf.InstanceLocation
		if field == "" {
			field = "/"
		}
		errs.Add(field, leaf.Message)
	}
	if !errs.HasErrors() {
		errs.Add("/", verr.Message)
	}
	sort.SliceStable(errs.Errors, func(i, j int) bool {
		return errs.Errors[i].Field < errs.Errors[j].Field
	})
	return errs
}

// leafErrors flattens the cause tree, keeping only the most specific errors.
func leafErrors(err *jsonschema.ValidationError) []*jsonschema.ValidationError {
	if len(err.Causes) == 0 {
		return []*jsonschema.ValidationError{err}
	}
	var leaves []*jsonschema.ValidationError
	for _, cause := range err.Causes {
		leaves = append(leaves, leafErrors(cause)...)
	}
	return leaves
}
