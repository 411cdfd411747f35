package config

const schemaURL = "mirror-sync-config.schema.json"

const configSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "title": "mirror-sync configuration",
  "type": "object",
  "additionalProperties": false,
  "properties": {
    "workers": {"type": "integer", "minimum": 1, "maximum": 256},
    "mirrorRoot": {"type": "string", "minLength": 1},
    "tempDir": {"type": "string"},
    "reportDir": {"type": "string"},
    "timeout": {"$ref": "#/$defs/duration"},
    "logging": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "level": {"enum": ["debug", "info", "warn", "error"]}
      }
    },
    "retry": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "maxAttempts": {"type": "integer", "minimum": 1},
        "backoff": {"$ref": "#/$defs/duration"},
        "maxBackoff": {"$ref": "#/$defs/duration"}
      }
    },
    "repositories": {
      "type": "array",
      "items": {"$ref": "#/$defs/repository"}
    }
  },
  "$defs": {
    "duration": {
      "type": "string",
      "pattern": "^([0-9]+(\\.[0-9]+)?(ns|us|µs|ms|s|m|h))+$"
    },
    "nonEmptyList": {
      "type": "array",
      "minItems": 1,
      "items": {"type": "string", "minLength": 1}
    },
    "repository": {
      "type": "object",
      "additionalProperties": false,
      "required": ["name", "vendor", "url", "dists", "sections", "archs"],
      "properties": {
        "name": {"type": "string", "pattern": "^[A-Za-z0-9._-]+$"},
        "vendor": {"type": "string", "minLength": 1},
        "url": {"type": "string", "minLength": 1},
        "dists": {"$ref": "#/$defs/nonEmptyList"},
        "sections": {"$ref": "#/$defs/nonEmptyList"},
        "archs": {"$ref": "#/$defs/nonEmptyList"},
        "keyring": {"type": "string"}
      }
    }
  }
}`
