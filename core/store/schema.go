package store

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"sync"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/fleetconf/fleetconf/core/configstate"
)

//go:embed schema/record.schema.json
var schemaFS embed.FS

var (
	recordSchemaOnce sync.Once
	recordSchema     *jsonschema.Schema
	recordSchemaErr  error
)

func compiledRecordSchema() (*jsonschema.Schema, error) {
	recordSchemaOnce.Do(func() {
		raw, err := schemaFS.ReadFile("schema/record.schema.json")
		if err != nil {
			recordSchemaErr = fmt.Errorf("read record schema: %w", err)
			return
		}
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("inmemory://record", bytes.NewReader(raw)); err != nil {
			recordSchemaErr = fmt.Errorf("add record schema: %w", err)
			return
		}
		recordSchema, recordSchemaErr = compiler.Compile("inmemory://record")
	})
	return recordSchema, recordSchemaErr
}

// validateRecord checks a config record against the embedded JSON schema
// before it is persisted. Records are immutable once written, so a malformed
// one would otherwise be served forever.
func validateRecord(rec *configstate.ConfigRecord) error {
	schema, err := compiledRecordSchema()
	if err != nil {
		return err
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	var value any
	if err := json.Unmarshal(payload, &value); err != nil {
		return fmt.Errorf("decode record payload: %w", err)
	}
	if err := schema.Validate(value); err != nil {
		return fmt.Errorf("record schema validation failed: %w", err)
	}
	return nil
}
