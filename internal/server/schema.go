package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const chargeSchemaURL = "https://posterm.local/schemas/charge.schema.json"

const chargeSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["items", "custom_items"],
  "properties": {
    "items": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["product_id", "variant_id", "quantity", "unit_price_cents"],
        "properties": {
          "product_id": {"type": "string", "minLength": 1},
          "variant_id": {"type": "string", "minLength": 1},
          "quantity": {"type": "integer", "minimum": 1},
          "unit_price_cents": {"type": "integer", "minimum": 0}
        }
      }
    },
    "custom_items": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["label", "amount_cents", "quantity"],
        "properties": {
          "label": {"type": "string"},
          "amount_cents": {"type": "integer", "minimum": 1},
          "quantity": {"type": "integer", "minimum": 1}
        }
      }
    },
    "customer_email": {"type": "string", "maxLength": 254},
    "customer_first_name": {"type": "string", "maxLength": 100},
    "customer_last_name": {"type": "string", "maxLength": 100}
  }
}`

func compileChargeSchema() (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(chargeSchemaURL, strings.NewReader(chargeSchema)); err != nil {
		return nil, fmt.Errorf("charge schema load failed: %w", err)
	}
	return c.Compile(chargeSchemaURL)
}

// validate checks body against schema and returns the first problem in
// words a cashier can read.
func validate(schema *jsonschema.Schema, body []byte) error {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("request body is not valid JSON")
	}
	if err := schema.Validate(doc); err != nil {
		if ve, ok := err.(*jsonschema.ValidationError); ok {
			leaf := ve
			for len(leaf.Causes) > 0 {
				leaf = leaf.Causes[0]
			}
			loc := leaf.InstanceLocation
			if loc == "" {
				loc = "/"
			}
			return fmt.Errorf("invalid charge at %s: %s", loc, leaf.Message)
		}
		return err
	}
	return nil
}
