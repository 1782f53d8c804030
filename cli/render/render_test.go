package render

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func TestParseFormat(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Format
		wantErr bool
	}{
		{"json lowercase", "json", FormatJSON, false},
		{"json uppercase", "JSON", FormatJSON, false},
		{"table", "table", FormatTable, false},
		{"yaml", "yaml", FormatYAML, false},
		{"empty", "", "", false},
		{"invalid", "xml", "", true},
		{"invalid with message", "csv", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseFormat(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseFormat(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
				return
			}
			if got != tt.want {
				t.Errorf("ParseFormat(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestParseFormat_InvalidErrorMessage(t *testing.T) {
	_, err := ParseFormat("xml")
	if err == nil {
		t.Fatal("expected error for invalid format")
	}
	if !strings.Contains(err.Error(), "json, table, or yaml") {
		t.Errorf("error message should mention valid formats, got: %v", err)
	}
}

func TestRenderer_Formats(t *testing.T) {
	summary := struct {
		ArchiveID string `json:"archive_id" yaml:"archive_id"`
		Parts     int    `json:"parts" yaml:"parts"`
	}{ArchiveID: "archive-001", Parts: 3}

	tests := []struct {
		format Format
		want   []string
	}{
		{FormatJSON, []string{`"archive_id": "archive-001"`, `"parts": 3`}},
		{FormatYAML, []string{"archive_id: archive-001", "parts: 3"}},
		{FormatTable, []string{"archive_id:  archive-001", "parts:       3"}},
	}
	for _, tt := range tests {
		t.Run(string(tt.format), func(t *testing.T) {
			var buf bytes.Buffer
			if err := NewRendererWithWriter(tt.format, &buf).Render(summary); err != nil {
				t.Fatalf("Render: %v", err)
			}
			for _, w := range tt.want {
				if !strings.Contains(buf.String(), w) {
					t.Errorf("output missing %q:\n%s", w, buf.String())
				}
			}
		})
	}
}

func TestRenderer_UnknownFormat(t *testing.T) {
	if err := NewRendererWithWriter("xml", &bytes.Buffer{}).Render(1); err == nil {
		t.Fatal("Render with an unknown format succeeded")
	}
}

func TestRenderer_Table(t *testing.T) {
	type row struct {
		ID     string `json:"id"`
		Secret string `json:"-"`
		note   string
		Size   int64
		Parent *int `json:"parent"`
	}

	tests := []struct {
		name string
		data any
		want string
	}{
		{
			name: "slice skips hidden fields",
			data: []row{{ID: "a1", Secret: "x", note: "y", Size: 42}, {ID: "b2", Size: 7}},
			want: "id  size  parent\na1  42    \nb2  7     \n",
		},
		{
			name: "pointer elements",
			data: []*row{{ID: "a1", Size: 1}},
			want: "id  size  parent\na1  1     \n",
		},
		{
			name: "map keys sorted",
			data: map[string]string{"vault": "photos", "region": "eu-central-1"},
			want: "region:  eu-central-1\nvault:   photos\n",
		},
		{
			name: "collections summarized",
			data: struct {
				Parts []int          `json:"parts"`
				Tags  map[string]int `json:"tags"`
				None  []string       `json:"none"`
			}{Parts: []int{1, 2, 3}, Tags: map[string]int{"a": 1}},
			want: "parts:  [3 items]\ntags:   {1 keys}\nnone:   []\n",
		},
		{
			name: "empty slice",
			data: []row{},
			want: "(no results)\n",
		},
		{
			name: "scalar",
			data: "done",
			want: "done\n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			if err := NewRendererWithWriter(FormatTable, &buf).Render(tt.data); err != nil {
				t.Fatalf("Render: %v", err)
			}
			if got := buf.String(); got != tt.want {
				t.Errorf("got:\n%q\nwant:\n%q", got, tt.want)
			}
		})
	}
}

func TestRenderer_Table_Time(t *testing.T) {
	var buf bytes.Buffer
	r := NewRendererWithWriter(FormatTable, &buf)

	type Row struct {
		At time.Time `json:"at"`
	}
	at := time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC)
	if err := r.Render([]Row{{At: at}}); err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if !strings.Contains(buf.String(), "2026-03-01T12:30:00Z") {
		t.Errorf("time not rendered as RFC3339: %s", buf.String())
	}
}

func TestIsTerminal_NonFile(t *testing.T) {
	if IsTerminal(&bytes.Buffer{}) {
		t.Error("a buffer is not a terminal")
	}
}
