package bulkimport

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	kwerrors "github.com/systmms/keywarden/internal/errors"
	"github.com/systmms/keywarden/pkg/rotation"
)

// batchSchema validates the JSON batch format before any account is
// touched. Bounds here mirror the issuance limits so a bad batch fails
// as a whole instead of partway through.
const batchSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["accounts"],
  "properties": {
    "accounts": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["username"],
        "properties": {
          "username": {
            "type": "string",
            "pattern": "^[A-Za-z_][A-Za-z0-9_$]*$"
          },
          "purpose": {"type": "string"},
          "role": {"type": "string"},
          "requestor_name": {"type": "string"},
          "requestor_email": {"type": "string", "format": "email"},
          "business_justification": {"type": "string"},
          "expiry_days": {
            "type": "integer",
            "minimum": 30,
            "maximum": 365
          },
          "key_size": {"enum": [2048, 4096]}
        },
        "additionalProperties": false
      }
    }
  },
  "additionalProperties": false
}`

type batchDocument struct {
	Accounts []batchAccount `json:"accounts"`
}

type batchAccount struct {
	Username              string `json:"username"`
	Purpose               string `json:"purpose"`
	Role                  string `json:"role"`
	RequestorName         string `json:"requestor_name"`
	RequestorEmail        string `json:"requestor_email"`
	BusinessJustification string `json:"business_justification"`
	ExpiryDays            int    `json:"expiry_days"`
	KeySize               int    `json:"key_size"`
}

// ParseJSON validates a JSON batch against the schema and converts it
// to issuance requests. Schema violations are reported together, one
// per line.
func ParseJSON(data []byte) ([]rotation.GenerateRequest, error) {
	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(batchSchema),
		gojsonschema.NewBytesLoader(data),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to validate batch: %w", err)
	}
	if !result.Valid() {
		var problems []string
		for _, desc := range result.Errors() {
			problems = append(problems, desc.String())
		}
		return nil, kwerrors.New(kwerrors.KindInvalidParameter, "",
			"batch failed validation:\n%s", strings.Join(problems, "\n"))
	}

	var doc batchDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse batch: %w", err)
	}

	requests := make([]rotation.GenerateRequest, 0, len(doc.Accounts))
	seen := make(map[string]bool)
	for _, acct := range doc.Accounts {
		if seen[acct.Username] {
			return nil, kwerrors.New(kwerrors.KindDuplicateUsername, acct.Username, "duplicated in batch")
		}
		seen[acct.Username] = true
		requests = append(requests, rotation.GenerateRequest{
			Username:              acct.Username,
			Purpose:               acct.Purpose,
			Role:                  acct.Role,
			RequestorName:         acct.RequestorName,
			RequestorEmail:        acct.RequestorEmail,
			BusinessJustification: acct.BusinessJustification,
			ValidityDays:          acct.ExpiryDays,
			KeySize:               acct.KeySize,
		})
	}
	return requests, nil
}
