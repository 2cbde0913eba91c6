package server

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v6"

	"mediasync/internal/model"
)

// Payload schemas, one per mutation kind. Payloads are validated at the
// ingestion boundary; nothing malformed reaches the log.
var payloadSchemas = map[string]string{
	model.KindAssetUpsert: `{
		"type": "object",
		"required": ["id", "name", "mime_type", "size", "created_at", "updated_at"],
		"properties": {
			"id": {"type": "string", "pattern": "^[a-f0-9]{64}$"},
			"name": {"type": "string", "minLength": 1},
			"mime_type": {"type": "string", "minLength": 1},
			"size": {"type": "integer", "minimum": 0},
			"width": {"type": "integer", "minimum": 0},
			"height": {"type": "integer", "minimum": 0},
			"source": {"type": "string"},
			"object_key": {"type": "string"},
			"thumb_key": {"type": "string"},
			"deleted": {"type": "boolean"},
			"deleted_at": {"type": "integer", "minimum": 0},
			"use_count": {"type": "integer", "minimum": 0},
			"last_used_at": {"type": "integer", "minimum": 0},
			"created_at": {"type": "integer", "minimum": 1},
			"updated_at": {"type": "integer", "minimum": 1},
			"schema_version": {"type": "integer", "minimum": 1}
		}
	}`,
	model.KindAssetDelete: `{
		"type": "object",
		"required": ["id", "deleted_at", "updated_at"],
		"properties": {
			"id": {"type": "string", "pattern": "^[a-f0-9]{64}$"},
			"deleted_at": {"type": "integer", "minimum": 1},
			"updated_at": {"type": "integer", "minimum": 1}
		}
	}`,
	model.KindTagUpsert: `{
		"type": "object",
		"required": ["id", "name", "created_at", "updated_at"],
		"properties": {
			"id": {"type": "string", "minLength": 1},
			"name": {"type": "string", "minLength": 1},
			"color": {"type": "string"},
			"use_count": {"type": "integer", "minimum": 0},
			"created_at": {"type": "integer", "minimum": 1},
			"updated_at": {"type": "integer", "minimum": 1}
		}
	}`,
	model.KindTagDelete: `{
		"type": "object",
		"required": ["id", "deleted_at", "updated_at"],
		"properties": {
			"id": {"type": "string", "minLength": 1},
			"deleted_at": {"type": "integer", "minimum": 1},
			"updated_at": {"type": "integer", "minimum": 1}
		}
	}`,
	model.KindLinkAdd: `{
		"type": "object",
		"required": ["asset_id", "tag_id", "created_at"],
		"properties": {
			"asset_id": {"type": "string", "minLength": 1},
			"tag_id": {"type": "string", "minLength": 1},
			"created_at": {"type": "integer", "minimum": 1}
		}
	}`,
	model.KindLinkRemove: `{
		"type": "object",
		"required": ["asset_id", "tag_id"],
		"properties": {
			"asset_id": {"type": "string", "minLength": 1},
			"tag_id": {"type": "string", "minLength": 1}
		}
	}`,
}

var entityTypeForKind = map[string]string{
	model.KindAssetUpsert: model.EntityAsset,
	model.KindAssetDelete: model.EntityAsset,
	model.KindTagUpsert:   model.EntityTag,
	model.KindTagDelete:   model.EntityTag,
	model.KindLinkAdd:     model.EntityLink,
	model.KindLinkRemove:  model.EntityLink,
}

var compiledSchemas = mustCompileSchemas()

func mustCompileSchemas() map[string]*jsonschema.Schema {
	c := jsonschema.NewCompiler()
	for kind, text := range payloadSchemas {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(text))
		if err != nil {
			panic(fmt.Sprintf("parse %s schema: %v", kind, err))
		}
		if err := c.AddResource(kind+".json", doc); err != nil {
			panic(fmt.Sprintf("add %s schema: %v", kind, err))
		}
	}

	compiled := make(map[string]*jsonschema.Schema, len(payloadSchemas))
	for kind := range payloadSchemas {
		sch, err := c.Compile(kind + ".json")
		if err != nil {
			panic(fmt.Sprintf("compile %s schema: %v", kind, err))
		}
		compiled[kind] = sch
	}
	return compiled
}

// validateEvent checks the envelope and validates the payload against the
// schema for its kind.
func validateEvent(e *model.Event) error {
	if _, err := uuid.Parse(e.ID); err != nil {
		return fmt.Errorf("event id must be a uuid")
	}
	if e.ClientTS <= 0 {
		return fmt.Errorf("client timestamp must be positive")
	}
	if e.EntityID == "" {
		return fmt.Errorf("entity id is required")
	}

	sch, ok := compiledSchemas[e.Kind]
	if !ok {
		return fmt.Errorf("unknown event kind: %s", e.Kind)
	}
	if want := entityTypeForKind[e.Kind]; e.EntityType != want {
		return fmt.Errorf("entity type %q does not match kind %s", e.EntityType, e.Kind)
	}

	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(e.Payload))
	if err != nil {
		return fmt.Errorf("payload is not valid json: %w", err)
	}
	if err := sch.Validate(inst); err != nil {
		return fmt.Errorf("payload does not match %s schema: %w", e.Kind, err)
	}
	return nil
}
