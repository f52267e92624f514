package video

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"framepipe/internal/services"
	"framepipe/internal/stage"
)

//go:embed schemas/*.schema.yaml
var schemaFS embed.FS

// payloadSchemas holds the compiled payload schema per stage.
type payloadSchemas map[string]*jsonschema.Schema

func loadSchemas() (payloadSchemas, error) {
	schemas := make(payloadSchemas, 3)
	for _, name := range []string{StageAnalyze, StageExtract, StageProcess} {
		schema, err := compileSchema(name)
		if err != nil {
			return nil, err
		}
		schemas[name] = schema
	}
	return schemas, nil
}

func compileSchema(name string) (*jsonschema.Schema, error) {
	data, err := schemaFS.ReadFile("schemas/" + name + ".schema.yaml")
	if err != nil {
		return nil, fmt.Errorf("read %s schema: %w", name, err)
	}
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse %s schema: %w", name, err)
	}
	jsonData, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal %s schema: %w", name, err)
	}
	url := "framepipe://schemas/" + name + ".schema.json"
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft7
	if err := compiler.AddResource(url, bytes.NewReader(jsonData)); err != nil {
		return nil, fmt.Errorf("load %s schema: %w", name, err)
	}
	schema, err := compiler.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile %s schema: %w", name, err)
	}
	return schema, nil
}

// decode validates the payload against the stage schema and unmarshals it.
func (s payloadSchemas) decode(in stage.Input, dst any) error {
	schema, ok := s[in.Stage]
	if !ok {
		return services.Wrap(services.ErrInvalidInput, in.Stage, "validate payload", "no schema for stage", nil)
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(in.Payload))
	if err != nil {
		return services.Wrap(services.ErrInvalidInput, in.Stage, "validate payload", "payload is not JSON", err)
	}
	if err := schema.Validate(doc); err != nil {
		return services.Wrap(services.ErrInvalidInput, in.Stage, "validate payload", "payload does not match schema", err)
	}
	return stage.DecodePayload(in, dst)
}
