// Package schema declares the validation contract for each ingested
// collection. The registry is built once at startup and read-only afterwards,
// so consumers can share it without synchronization.
package schema

import (
	"errors"
	"math"
	"sort"
)

// IdentifierField is the business key every collection is addressed by.
const IdentifierField = "product_code"

// ErrUnknownCollection is returned by Resolve for collections without a
// registered contract.
var ErrUnknownCollection = errors.New("schema: unknown collection")

// FieldType enumerates the primitive types a contract field may declare.
type FieldType int

const (
	TypeString FieldType = iota
	TypeInt
	TypeFloat
	TypeBool
)

func (t FieldType) String() string {
	switch t {
	case TypeString:
		return "string"
	case TypeInt:
		return "int"
	case TypeFloat:
		return "float"
	case TypeBool:
		return "bool"
	default:
		return "unknown"
	}
}

// Matches reports whether a decoded JSON value satisfies the field type.
// JSON numbers decode as float64, so integer fields accept any float64
// without a fractional part.
func (t FieldType) Matches(value any) bool {
	switch t {
	case TypeString:
		_, ok := value.(string)
		return ok
	case TypeInt:
		f, ok := value.(float64)
		return ok && f == math.Trunc(f) && !math.IsInf(f, 0)
	case TypeFloat:
		_, ok := value.(float64)
		return ok
	case TypeBool:
		_, ok := value.(bool)
		return ok
	default:
		return false
	}
}

// Field declares one contract field. Optional fields carry the default
// applied when the incoming payload omits them.
type Field struct {
	Name     string
	Type     FieldType
	Required bool
	Default  any
}

// Contract is the declarative field list for one collection. A single
// generic checker in the validator evaluates it; there is no per-collection
// branching anywhere else.
type Contract struct {
	Collection string
	Fields     []Field
}

// RequiredFields returns the contract's required fields in declaration order.
func (c Contract) RequiredFields() []Field {
	out := make([]Field, 0, len(c.Fields))
	for _, f := range c.Fields {
		if f.Required {
			out = append(out, f)
		}
	}
	return out
}

// OptionalFields returns the contract's optional fields in declaration order.
func (c Contract) OptionalFields() []Field {
	out := make([]Field, 0, len(c.Fields))
	for _, f := range c.Fields {
		if !f.Required {
			out = append(out, f)
		}
	}
	return out
}

// Registry maps collection names to contracts. Immutable after construction.
type Registry struct {
	contracts map[string]Contract
}

// NewRegistry builds a registry from the supplied contracts.
func NewRegistry(contracts ...Contract) *Registry {
	m := make(map[string]Contract, len(contracts))
	for _, c := range contracts {
		m[c.Collection] = c
	}
	return &Registry{contracts: m}
}

// Default returns the registry for the product, stock, and price feeds.
func Default() *Registry {
	return NewRegistry(
		Contract{
			Collection: "products",
			Fields: []Field{
				{Name: IdentifierField, Type: TypeString, Required: true},
				{Name: "name", Type: TypeString, Required: true},
				{Name: "description", Type: TypeString, Required: true},
				{Name: "category", Type: TypeString, Required: true},
				{Name: "brand", Type: TypeString, Required: true},
				{Name: "sku", Type: TypeString, Required: false, Default: ""},
			},
		},
		Contract{
			Collection: "stocks",
			Fields: []Field{
				{Name: IdentifierField, Type: TypeString, Required: true},
				{Name: "warehouse_id", Type: TypeString, Required: true},
				{Name: "quantity", Type: TypeInt, Required: true},
				{Name: "location", Type: TypeString, Required: true},
			},
		},
		Contract{
			Collection: "prices",
			Fields: []Field{
				{Name: IdentifierField, Type: TypeString, Required: true},
				{Name: "currency", Type: TypeString, Required: true},
				{Name: "base_price", Type: TypeFloat, Required: true},
				{Name: "discount_percentage", Type: TypeFloat, Required: true},
				{Name: "final_price", Type: TypeFloat, Required: true},
				{Name: "promotion_id", Type: TypeString, Required: false, Default: ""},
			},
		},
	)
}

// Resolve returns the contract for a collection, or ErrUnknownCollection.
func (r *Registry) Resolve(collection string) (Contract, error) {
	c, ok := r.contracts[collection]
	if !ok {
		return Contract{}, ErrUnknownCollection
	}
	return c, nil
}

// Has reports whether a contract is registered for the collection.
func (r *Registry) Has(collection string) bool {
	_, ok := r.contracts[collection]
	return ok
}

// Collections returns the registered collection names, sorted.
func (r *Registry) Collections() []string {
	out := make([]string, 0, len(r.contracts))
	for name := range r.contracts {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
