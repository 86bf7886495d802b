package csv

import (
	"reflect"
	"strings"
	"testing"
)

func TestReadSample(t *testing.T) {
	t.Parallel()

	rows, err := ReadSample(strings.NewReader("a,b\n1,2\n3,4\n"), 100)
	if err != nil {
		t.Fatalf("ReadSample: %v", err)
	}
	want := [][]string{{"a", "b"}, {"1", "2"}, {"3", "4"}}
	if !reflect.DeepEqual(rows, want) {
		t.Fatalf("rows = %v, want %v", rows, want)
	}
}

func TestReadSample_BOMAndTrim(t *testing.T) {
	t.Parallel()

	rows, err := ReadSample(strings.NewReader("\xEF\xBB\xBFname, qty \nACME , 5\n"), 100)
	if err != nil {
		t.Fatalf("ReadSample: %v", err)
	}
	if rows[0][0] != "name" {
		t.Fatalf("BOM not stripped: %q", rows[0][0])
	}
	if rows[1][0] != "ACME" || rows[1][1] != "5" {
		t.Fatalf("cells not trimmed: %v", rows[1])
	}
}

func TestReadSample_MaxRows(t *testing.T) {
	t.Parallel()

	rows, err := ReadSample(strings.NewReader("a\n1\n2\n3\n4\n"), 2)
	if err != nil {
		t.Fatalf("ReadSample: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("len = %d, want 2", len(rows))
	}
}

func TestReadSample_Empty(t *testing.T) {
	t.Parallel()

	rows, err := ReadSample(strings.NewReader(""), 100)
	if err != nil {
		t.Fatalf("ReadSample: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("len = %d, want 0", len(rows))
	}
}

// TestReadSample_RaggedRows verifies rows with differing field counts are
// kept; header alignment is the analyzer's concern, not the reader's.
func TestReadSample_RaggedRows(t *testing.T) {
	t.Parallel()

	rows, err := ReadSample(strings.NewReader("a,b\n1\n2,3\n"), 100)
	if err != nil {
		t.Fatalf("ReadSample: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("len = %d, want 3", len(rows))
	}
}

func TestSniffDelimiter(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want rune
	}{
		{"comma", "a,b,c\n1,2,3", ','},
		{"semicolon", "a;b;c\n1;2;3", ';'},
		{"tab", "a\tb\tc", '\t'},
		{"pipe", "a|b|c", '|'},
		{"no delimiter defaults to comma", "abc", ','},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := SniffDelimiter([]byte(tt.in)); got != tt.want {
				t.Fatalf("SniffDelimiter(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
