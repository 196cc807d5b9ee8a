package ingest

import (
	"fmt"
	"time"

	jsoncodec "github.com/drblury/catalogflow/internal/jsoncodec"
	schemapkg "github.com/drblury/catalogflow/internal/schema"
)

// Reason classifies why a message left the pipeline without being stored.
// Validation reasons are terminal: redelivery cannot fix a malformed payload.
type Reason string

const (
	ReasonUnknownCollection Reason = "UNKNOWN_COLLECTION"
	ReasonMissingIdentifier Reason = "MISSING_IDENTIFIER"
	ReasonSchemaMismatch    Reason = "SCHEMA_MISMATCH"
	ReasonMalformedPayload  Reason = "MALFORMED_PAYLOAD"
	ReasonStorageFatal      Reason = "STORAGE_FATAL"
	ReasonRetriesExhausted  Reason = "RETRIES_EXHAUSTED"
)

// ValidationError reports the first check a payload failed. Field is set for
// schema mismatches only.
type ValidationError struct {
	Reason Reason
	Field  string
	Detail string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed (%s, field %s): %s", e.Reason, e.Field, e.Detail)
	}
	return fmt.Sprintf("validation failed (%s): %s", e.Reason, e.Detail)
}

// Validator checks raw queue payloads against the schema registry. Validation
// is pure: no I/O, no side effects, deterministic for a given payload.
type Validator struct {
	registry *schemapkg.Registry
	now      func() time.Time
}

// NewValidator builds a Validator over the given registry.
func NewValidator(registry *schemapkg.Registry) *Validator {
	return &Validator{registry: registry, now: time.Now}
}

// Validate produces either a Record or the first classified failure.
// Check order is fixed: envelope (collection, then product_code) before any
// contract field, so identifier problems always win over schema mismatches.
// Unknown extra fields are ignored for forward compatibility.
func (v *Validator) Validate(body []byte) (Record, *ValidationError) {
	obj, err := jsoncodec.UnmarshalObject(body)
	if err != nil {
		return Record{}, &ValidationError{
			Reason: ReasonMalformedPayload,
			Detail: fmt.Sprintf("payload is not a JSON object: %v", err),
		}
	}

	collection, _ := obj[EnvelopeCollectionField].(string)
	if collection == "" {
		return Record{}, &ValidationError{
			Reason: ReasonUnknownCollection,
			Detail: "envelope field collection is missing or empty",
		}
	}
	contract, err := v.registry.Resolve(collection)
	if err != nil {
		return Record{}, &ValidationError{
			Reason: ReasonUnknownCollection,
			Detail: fmt.Sprintf("no contract registered for collection %q", collection),
		}
	}

	productCode, _ := obj[identifierField].(string)
	if productCode == "" {
		return Record{}, &ValidationError{
			Reason: ReasonMissingIdentifier,
			Detail: fmt.Sprintf("envelope field %s is missing or empty", identifierField),
		}
	}

	fields := make(map[string]any, len(contract.Fields))
	for _, f := range contract.Fields {
		value, present := obj[f.Name]
		if !present {
			if f.Required {
				return Record{}, &ValidationError{
					Reason: ReasonSchemaMismatch,
					Field:  f.Name,
					Detail: "missing required field",
				}
			}
			fields[f.Name] = f.Default
			continue
		}
		if !f.Type.Matches(value) {
			return Record{}, &ValidationError{
				Reason: ReasonSchemaMismatch,
				Field:  f.Name,
				Detail: fmt.Sprintf("expected %s, got %T", f.Type, value),
			}
		}
		if f.Type == schemapkg.TypeInt {
			fields[f.Name] = int64(value.(float64))
		} else {
			fields[f.Name] = value
		}
	}

	return Record{
		Collection:  collection,
		ProductCode: productCode,
		Fields:      fields,
		ReceivedAt:  v.now().UTC(),
	}, nil
}
