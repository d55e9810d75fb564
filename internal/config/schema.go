package config

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
	sigsyaml "sigs.k8s.io/yaml"
)

// configSchema constrains the YAML shape before it is unmarshalled, so
// typos like a string extension list fail with a pointed message instead
// of a zero-valued struct.
const configSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "additionalProperties": false,
  "properties": {
    "repo": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "mirror": {"type": "string", "minLength": 1},
        "release": {"type": "string", "minLength": 1},
        "arch": {"type": "string", "enum": ["x86", "x86_64", "armv7", "aarch64"]}
      }
    },
    "store": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "extension_dir": {"type": "string"},
        "work_dir": {"type": "string"},
        "cache_max_age": {"type": "string"}
      }
    },
    "owner": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "user": {"type": "string"},
        "group": {"type": "string"}
      }
    },
    "index": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "signing_key": {"type": "string"}
      }
    },
    "remaster": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "base_iso": {"type": "string"},
        "output_iso": {"type": "string"},
        "extensions": {"type": "array", "items": {"type": "string"}},
        "rootfs_path": {"type": "string"},
        "compression": {"type": "string", "enum": ["gzip", "xz"]},
        "startup_script": {"type": "string"},
        "volume_label": {"type": "string"},
        "use_sudo": {"type": "boolean"}
      }
    }
  }
}`

var compiledSchema = jsonschema.MustCompileString("config.schema.json", configSchema)

// ValidateSchema checks a raw YAML document against the config schema.
func ValidateSchema(yamlData []byte) error {
	jsonData, err := sigsyaml.YAMLToJSON(yamlData)
	if err != nil {
		return fmt.Errorf("converting config to JSON: %w", err)
	}

	var doc interface{}
	if err := json.Unmarshal(jsonData, &doc); err != nil {
		return fmt.Errorf("decoding config: %w", err)
	}

	if err := compiledSchema.Validate(doc); err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	return nil
}
