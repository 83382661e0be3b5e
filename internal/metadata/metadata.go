// Package metadata provides the external domain metadata describing the
// record types the extractor delivers.
package metadata

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/go-logr/logr"
	"github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/tidwall/gjson"

	"github.com/stacklok/trello-extractor/internal/artifacts"
	"github.com/stacklok/trello-extractor/internal/versions"
)

const (
	schemaURL = "metadata.schema.json"

	// SupportedSchemaVersion is the newest metadata schema version the platform accepts
	SupportedSchemaVersion = "v0.2.0"
)

var (
	//go:embed external_domain_metadata.json
	externalDomainMetadata []byte

	//go:embed metadata.schema.json
	metadataSchema []byte

	compileOnce sync.Once
	compiled    *jsonschema.Schema
	compileErr  error
)

// ArtifactWriter stores items as manifest artifacts
type ArtifactWriter interface {
	WriteArtifact(ctx context.Context, itemType string, items []any) ([]artifacts.Artifact, error)
}

// Raw returns the embedded metadata document
func Raw() []byte {
	return bytes.Clone(externalDomainMetadata)
}

// Validate checks a metadata document against the metadata schema and the
// supported schema version
func Validate(doc []byte) error {
	schema, err := schema()
	if err != nil {
		return err
	}

	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(doc))
	if err != nil {
		return fmt.Errorf("failed to parse metadata: %w", err)
	}
	if err := schema.Validate(inst); err != nil {
		return fmt.Errorf("metadata does not match schema: %w", err)
	}

	version := gjson.GetBytes(doc, "schema_version").String()
	if versions.IsNewerVersion(version, SupportedSchemaVersion) {
		return fmt.Errorf("metadata schema version %s is newer than supported %s", version, SupportedSchemaVersion)
	}
	return nil
}

// Extract validates the embedded metadata and writes it as a single
// external_domain_metadata artifact
func Extract(ctx context.Context, w ArtifactWriter) ([]artifacts.Artifact, error) {
	logger := logr.FromContextOrDiscard(ctx)

	if err := Validate(externalDomainMetadata); err != nil {
		return nil, err
	}

	var doc map[string]any
	if err := json.Unmarshal(externalDomainMetadata, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode metadata: %w", err)
	}

	written, err := w.WriteArtifact(ctx, artifacts.ItemTypeExternalDomainMetadata, []any{doc})
	if err != nil {
		return nil, fmt.Errorf("failed to write metadata artifact: %w", err)
	}

	logger.Info("External domain metadata extracted", "artifacts", len(written))
	return written, nil
}

func schema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(metadataSchema))
		if err != nil {
			compileErr = fmt.Errorf("failed to parse metadata schema: %w", err)
			return
		}

		c := jsonschema.NewCompiler()
		if err := c.AddResource(schemaURL, doc); err != nil {
			compileErr = fmt.Errorf("failed to load metadata schema: %w", err)
			return
		}
		compiled, compileErr = c.Compile(schemaURL)
	})
	return compiled, compileErr
}
