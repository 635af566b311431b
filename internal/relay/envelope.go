// Package relay carries OAuth completion results from the provider callback
// back to the process that started the connect attempt.
package relay

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ErrInvalidEnvelope means a payload does not have the envelope shape.
var ErrInvalidEnvelope = errors.New("invalid relay envelope")

// Envelope is the message posted from the callback page to the opener.
// Type is <PROVIDER>_OAUTH_CALLBACK on success and <PROVIDER>_OAUTH_ERROR on
// failure. State identifies the connect attempt.
type Envelope struct {
	Type         string `json:"type"`
	State        string `json:"state,omitempty"`
	AccessToken  string `json:"access_token,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	IdentityName string `json:"identity_name,omitempty"`
	IdentityID   string `json:"identity_id,omitempty"`
	Error        string `json:"error,omitempty"`
}

// CallbackType is the success type tag for provider.
func CallbackType(provider string) string {
	return strings.ToUpper(strings.TrimSpace(provider)) + "_OAUTH_CALLBACK"
}

// ErrorType is the failure type tag for provider.
func ErrorType(provider string) string {
	return strings.ToUpper(strings.TrimSpace(provider)) + "_OAUTH_ERROR"
}

// IsCallback reports whether e is a success envelope for provider.
func (e Envelope) IsCallback(provider string) bool {
	return e.Type == CallbackType(provider)
}

// IsError reports whether e is a failure envelope for provider.
func (e Envelope) IsError(provider string) bool {
	return e.Type == ErrorType(provider)
}

// Validate checks e against the envelope schema.
func (e Envelope) Validate() error {
	raw, err := json.Marshal(e)
	if err != nil {
		return err
	}
	var payload any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return err
	}
	return validatePayload(payload)
}

// Decode parses and validates a raw envelope.
func Decode(raw []byte) (Envelope, error) {
	var payload any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	if err := validatePayload(payload); err != nil {
		return Envelope{}, err
	}
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	return env, nil
}

var (
	schemaOnce     sync.Once
	schemaErr      error
	envelopeSchema *jsonschema.Schema
)

func validatePayload(payload any) error {
	schemaOnce.Do(func() {
		envelopeSchema, schemaErr = jsonschema.CompileString("relay_envelope", envelopeSchemaJSON)
	})
	if schemaErr != nil {
		return schemaErr
	}
	if err := envelopeSchema.Validate(payload); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	return nil
}

const envelopeSchemaJSON = `{
  "type": "object",
  "required": ["type"],
  "properties": {
    "type": { "type": "string", "pattern": "^[A-Z][A-Z0-9]*_OAUTH_(CALLBACK|ERROR)$" },
    "state": { "type": "string", "maxLength": 256 },
    "access_token": { "type": "string", "maxLength": 8192 },
    "refresh_token": { "type": "string", "maxLength": 8192 },
    "identity_name": { "type": "string", "maxLength": 512 },
    "identity_id": { "type": "string", "maxLength": 256 },
    "error": { "type": "string", "maxLength": 2048 }
  },
  "if": {
    "properties": { "type": { "pattern": "_OAUTH_ERROR$" } }
  },
  "then": {
    "required": ["error"],
    "properties": { "error": { "minLength": 1 } }
  },
  "additionalProperties": true
}`
