package analyzer

import (
	"reflect"
	"testing"
)

//
// DetectHeader
//

// TestDetectHeader_FirstRow verifies the common case: the declared header
// row really is the header.
func TestDetectHeader_FirstRow(t *testing.T) {
	t.Parallel()

	rows := [][]string{
		{"Unit", "Buyer", "Qty"},
		{"U-1", "ACME", "10"},
		{"U-2", "Globex", "20"},
	}

	idx, headers, synthetic := DetectHeader(rows, 0)
	if synthetic {
		t.Fatalf("unexpected synthetic headers")
	}
	if idx != 0 {
		t.Fatalf("idx = %d, want 0", idx)
	}
	if !reflect.DeepEqual(headers, []string{"Unit", "Buyer", "Qty"}) {
		t.Fatalf("headers = %v", headers)
	}
}

// TestDetectHeader_TitleRow verifies a prose title row above the real
// header is skipped: the long-cell penalty and low distinctness push the
// title below the actual header row.
func TestDetectHeader_TitleRow(t *testing.T) {
	t.Parallel()

	rows := [][]string{
		{"Monthly production report for all units and buyers in 2024", "", ""},
		{"Unit", "Buyer", "Qty"},
		{"U-1", "ACME", "10"},
	}

	idx, headers, synthetic := DetectHeader(rows, 0)
	if synthetic {
		t.Fatalf("unexpected synthetic headers")
	}
	if idx != 1 {
		t.Fatalf("idx = %d, want 1", idx)
	}
	if headers[0] != "Unit" {
		t.Fatalf("headers = %v", headers)
	}
}

// TestDetectHeader_AllNumeric verifies the synthetic col_1..col_N fallback
// when no row looks like a header.
func TestDetectHeader_AllNumeric(t *testing.T) {
	t.Parallel()

	rows := [][]string{
		{"1", "2", "3"},
		{"4", "5", "6"},
	}

	idx, headers, synthetic := DetectHeader(rows, 0)
	if !synthetic {
		t.Fatalf("expected synthetic headers")
	}
	if idx != 0 {
		t.Fatalf("idx = %d, want 0", idx)
	}
	if !reflect.DeepEqual(headers, []string{"col_1", "col_2", "col_3"}) {
		t.Fatalf("headers = %v", headers)
	}
}

// TestDetectHeader_EmptyCellsGetSyntheticNames verifies blanks inside an
// otherwise valid header become positional names.
func TestDetectHeader_EmptyCellsGetSyntheticNames(t *testing.T) {
	t.Parallel()

	rows := [][]string{
		{"Unit", "", "Qty"},
		{"1", "2", "10"},
	}

	_, headers, _ := DetectHeader(rows, 0)
	if !reflect.DeepEqual(headers, []string{"Unit", "col_2", "Qty"}) {
		t.Fatalf("headers = %v", headers)
	}
}

func TestDetectHeader_EmptyInput(t *testing.T) {
	t.Parallel()

	idx, headers, synthetic := DetectHeader(nil, 0)
	if !synthetic || idx != 0 || len(headers) != 0 {
		t.Fatalf("DetectHeader(nil) = (%d, %v, %v)", idx, headers, synthetic)
	}
}

// TestDetectHeader_HintOffset verifies scanning starts at the hint.
func TestDetectHeader_HintOffset(t *testing.T) {
	t.Parallel()

	rows := [][]string{
		{"Unit", "Qty"}, // a header-like row before the hint is ignored
		{"Unit B", "Amount"},
		{"U-1", "10"},
	}

	idx, _, _ := DetectHeader(rows, 1)
	if idx != 1 {
		t.Fatalf("idx = %d, want 1", idx)
	}
}

//
// headerScore
//

// TestHeaderScore_Ordering verifies a distinct alphabetic row outscores a
// numeric row and a row with an over-long cell.
func TestHeaderScore_Ordering(t *testing.T) {
	t.Parallel()

	header, _ := headerScore([]string{"Unit", "Buyer", "Qty"})
	numeric, _ := headerScore([]string{"1", "2", "3"})
	long, _ := headerScore([]string{"Unit", "this cell is far too long to be a plausible column header name", "Qty"})

	if header <= numeric {
		t.Fatalf("header score %v not above numeric row %v", header, numeric)
	}
	if header <= long {
		t.Fatalf("header score %v not above long-cell row %v", header, long)
	}
	if numeric < 0 || numeric > 1 || header < 0 || header > 1 {
		t.Fatalf("scores out of bounds: %v %v", header, numeric)
	}
}
