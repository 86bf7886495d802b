package xlsx

import (
	"bytes"
	"reflect"
	"testing"

	"github.com/xuri/excelize/v2"
)

func buildWorkbook(t *testing.T, rows [][]any) *bytes.Buffer {
	t.Helper()

	f := excelize.NewFile()
	defer f.Close()

	sheet := f.GetSheetName(0)
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			t.Fatalf("cell name: %v", err)
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			t.Fatalf("set row: %v", err)
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		t.Fatalf("write workbook: %v", err)
	}
	return buf
}

func TestReadSample(t *testing.T) {
	t.Parallel()

	buf := buildWorkbook(t, [][]any{
		{"Unit", "Qty"},
		{"U-1", 10},
		{"U-2", 20},
	})

	rows, err := ReadSample(buf, 100)
	if err != nil {
		t.Fatalf("ReadSample: %v", err)
	}
	want := [][]string{{"Unit", "Qty"}, {"U-1", "10"}, {"U-2", "20"}}
	if !reflect.DeepEqual(rows, want) {
		t.Fatalf("rows = %v, want %v", rows, want)
	}
}

func TestReadSample_SkipsEmptyRowsAndCaps(t *testing.T) {
	t.Parallel()

	buf := buildWorkbook(t, [][]any{
		{"a"},
		{""},
		{"1"},
		{"2"},
	})

	rows, err := ReadSample(buf, 2)
	if err != nil {
		t.Fatalf("ReadSample: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("len = %d, want 2", len(rows))
	}
	if rows[1][0] != "1" {
		t.Fatalf("empty row not skipped: %v", rows)
	}
}

func TestReadSample_NotAWorkbook(t *testing.T) {
	t.Parallel()

	if _, err := ReadSample(bytes.NewReader([]byte("not a zip")), 10); err == nil {
		t.Fatalf("expected error for invalid workbook bytes")
	}
}
