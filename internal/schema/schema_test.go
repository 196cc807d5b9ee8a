package schema

import (
	"errors"
	"reflect"
	"testing"
)

func TestDefaultRegistryCollections(t *testing.T) {
	reg := Default()

	want := []string{"prices", "products", "stocks"}
	if got := reg.Collections(); !reflect.DeepEqual(got, want) {
		t.Fatalf("expected collections %v, got %v", want, got)
	}

	for _, name := range want {
		contract, err := reg.Resolve(name)
		if err != nil {
			t.Fatalf("resolve %s: %v", name, err)
		}
		if contract.Collection != name {
			t.Fatalf("expected contract for %s, got %s", name, contract.Collection)
		}
		if len(contract.RequiredFields()) == 0 {
			t.Fatalf("expected required fields for %s", name)
		}
		if contract.Fields[0].Name != IdentifierField {
			t.Fatalf("expected %s to lead the %s contract", IdentifierField, name)
		}
	}
}

func TestResolveUnknownCollection(t *testing.T) {
	reg := Default()
	_, err := reg.Resolve("orders")
	if !errors.Is(err, ErrUnknownCollection) {
		t.Fatalf("expected ErrUnknownCollection, got %v", err)
	}
	if reg.Has("orders") {
		t.Fatal("expected Has to report false for unknown collection")
	}
}

func TestOptionalFieldsCarryDefaults(t *testing.T) {
	reg := Default()

	products, _ := reg.Resolve("products")
	optional := products.OptionalFields()
	if len(optional) != 1 || optional[0].Name != "sku" || optional[0].Default != "" {
		t.Fatalf("expected optional sku with empty default, got %#v", optional)
	}

	prices, _ := reg.Resolve("prices")
	optional = prices.OptionalFields()
	if len(optional) != 1 || optional[0].Name != "promotion_id" {
		t.Fatalf("expected optional promotion_id, got %#v", optional)
	}
}

func TestFieldTypeMatches(t *testing.T) {
	cases := []struct {
		name  string
		typ   FieldType
		value any
		want  bool
	}{
		{"string ok", TypeString, "A1-B2", true},
		{"string rejects number", TypeString, 3.0, false},
		{"int accepts integral float64", TypeInt, float64(100), true},
		{"int rejects fraction", TypeInt, 100.5, false},
		{"int rejects string", TypeInt, "100", false},
		{"float accepts float64", TypeFloat, 19.99, true},
		{"float accepts integral", TypeFloat, float64(20), true},
		{"float rejects string", TypeFloat, "19.99", false},
		{"bool ok", TypeBool, true, true},
		{"bool rejects number", TypeBool, float64(1), false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.typ.Matches(tc.value); got != tc.want {
				t.Fatalf("Matches(%v) = %v, want %v", tc.value, got, tc.want)
			}
		})
	}
}

func TestFieldTypeString(t *testing.T) {
	if TypeInt.String() != "int" || TypeString.String() != "string" {
		t.Fatal("unexpected FieldType names")
	}
	if FieldType(99).String() != "unknown" {
		t.Fatal("expected unknown for out-of-range type")
	}
}
