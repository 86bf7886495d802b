package analyzer

import (
	"testing"
)

//
// ClassifyColumns
//

// TestClassifyColumns verifies the measure/dimension split: numeric columns
// are measures, names and dates are dimensions.
func TestClassifyColumns(t *testing.T) {
	t.Parallel()

	headers := []string{"Unit", "Qty", "Order Date"}
	rows := [][]string{
		{"U-1", "10", "2024-01-02"},
		{"U-2", "20.5", "2024-01-03"},
		{"U-3", "30", "2024-01-04"},
	}

	got := ClassifyColumns(headers, rows)
	if got[0].Role != "dimension" {
		t.Fatalf("Unit role = %q, want dimension", got[0].Role)
	}
	if got[1].Role != "measure" {
		t.Fatalf("Qty role = %q, want measure", got[1].Role)
	}
	// Dates are numeric-ish in no sense here; they stay dimensions.
	if got[2].Role != "dimension" {
		t.Fatalf("Order Date role = %q, want dimension", got[2].Role)
	}
}

// TestClassifyColumns_NullEquivalentsIgnored verifies "na"/"null"/empty
// cells do not dilute the ratios.
func TestClassifyColumns_NullEquivalentsIgnored(t *testing.T) {
	t.Parallel()

	headers := []string{"Qty"}
	rows := [][]string{{"10"}, {"NA"}, {""}, {"n/a"}, {"20"}, {"none"}, {"NULL"}}

	got := ClassifyColumns(headers, rows)
	if got[0].NumericRatio != 1 {
		t.Fatalf("NumericRatio = %v, want 1", got[0].NumericRatio)
	}
	if got[0].Role != "measure" {
		t.Fatalf("Role = %q, want measure", got[0].Role)
	}
}

// TestClassifyColumns_MixedColumnIsDimension verifies a column failing the
// 0.85 numeric threshold stays a dimension.
func TestClassifyColumns_MixedColumnIsDimension(t *testing.T) {
	t.Parallel()

	headers := []string{"Code"}
	rows := [][]string{{"1"}, {"2"}, {"A-3"}, {"4"}} // 3/4 numeric = 0.75

	got := ClassifyColumns(headers, rows)
	if got[0].Role != "dimension" {
		t.Fatalf("Role = %q, want dimension (ratio %v)", got[0].Role, got[0].NumericRatio)
	}
}

// TestClassifyColumns_EmptyColumn verifies an all-null column defaults to
// dimension with zero ratios.
func TestClassifyColumns_EmptyColumn(t *testing.T) {
	t.Parallel()

	got := ClassifyColumns([]string{"Blank"}, [][]string{{""}, {"na"}})
	if got[0].Role != "dimension" || got[0].NumericRatio != 0 {
		t.Fatalf("got %+v", got[0])
	}
}

//
// ProposeModel
//

// TestProposeModel verifies dimension proposals carry the dim_ table, the
// unique name column and the fact-side FK field.
func TestProposeModel(t *testing.T) {
	t.Parallel()

	classes := []ColumnClass{
		{Header: "Unit Name", Role: "dimension"},
		{Header: "Qty", Role: "measure"},
	}

	p := ProposeModel(classes)
	if len(p.Dimensions) != 1 {
		t.Fatalf("dimensions = %+v, want 1", p.Dimensions)
	}
	d := p.Dimensions[0]
	if d.Table != "dim_unit_name" {
		t.Fatalf("Table = %q", d.Table)
	}
	if d.NameColumn != "unit_name_name" {
		t.Fatalf("NameColumn = %q", d.NameColumn)
	}
	if d.FKField != "unit_name_id" {
		t.Fatalf("FKField = %q", d.FKField)
	}
	if d.SourceColumn != "Unit Name" {
		t.Fatalf("SourceColumn = %q", d.SourceColumn)
	}
}
