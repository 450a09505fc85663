package value

import "testing"

func TestSchemaColumnIndex(t *testing.T) {
	s := NewSchema("accounts",
		Column{Name: "id", Typ: TypeInt64},
		Column{Name: "name", Typ: TypeVarchar, Nullable: true},
	)

	if s.NumColumns() != 2 {
		t.Fatalf("expected 2 columns, got %d", s.NumColumns())
	}
	if idx := s.ColumnIndex("name"); idx != 1 {
		t.Errorf("expected name at index 1, got %d", idx)
	}
	if idx := s.ColumnIndex("missing"); idx != -1 {
		t.Errorf("expected -1 for an unknown column, got %d", idx)
	}
}

func TestTupleValidate(t *testing.T) {
	s := NewSchema("accounts",
		Column{Name: "id", Typ: TypeInt64},
		Column{Name: "name", Typ: TypeVarchar, Nullable: true},
	)

	ok := Tuple{NewInt64(1), NewVarchar("alice")}
	if !ok.Validate(s) {
		t.Error("expected a well-formed tuple to validate")
	}

	wrongArity := Tuple{NewInt64(1)}
	if wrongArity.Validate(s) {
		t.Error("expected arity mismatch to fail validation")
	}

	missingRequired := Tuple{Null(), NewVarchar("alice")}
	if missingRequired.Validate(s) {
		t.Error("expected a NULL in a non-nullable column to fail validation")
	}

	nullableOK := Tuple{NewInt64(1), Null()}
	if !nullableOK.Validate(s) {
		t.Error("expected NULL in a nullable column to validate")
	}
}
