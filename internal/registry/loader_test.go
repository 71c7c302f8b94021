package registry

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/xuri/excelize/v2"
)

// writeWorkbook builds a minimal station workbook in the expected layout: a
// banner row, a heading row, then data rows.
func writeWorkbook(t *testing.T, dir, city string, included, coords [][]any) {
	t.Helper()

	f := excelize.NewFile()
	f.SetSheetName("Sheet1", includedSheet)
	if _, err := f.NewSheet(coordsSheet); err != nil {
		t.Fatalf("creating coords sheet: %v", err)
	}

	writeRows := func(sheet string, rows [][]any) {
		for i, row := range rows {
			for j, v := range row {
				cellName, err := excelize.CoordinatesToCellName(j+1, i+1)
				if err != nil {
					t.Fatalf("cell name: %v", err)
				}
				if err := f.SetCellValue(sheet, cellName, v); err != nil {
					t.Fatalf("set cell: %v", err)
				}
			}
		}
	}
	writeRows(includedSheet, included)
	writeRows(coordsSheet, coords)

	path := filepath.Join(dir, city+"_PM25_EWS_Regression.xlsx")
	if err := f.SaveAs(path); err != nil {
		t.Fatalf("saving workbook: %v", err)
	}
}

var testIncludedHeader = []any{"Station ID", "City", "Distance (km)", "Direction", "Tier", "R", "Slope", "Intercept"}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestLoader_Load(t *testing.T) {
	dir := t.TempDir()
	writeWorkbook(t, dir, "Toronto",
		[][]any{
			{"Toronto PM2.5 Regression"},
			testIncludedHeader,
			{"60106", "Sault Ste. Marie", 480.0, "NW", "Tier 1", 0.91, 0.82, 4.1},
			{"61201", "North Bay", 285.0, "N", "Tier 1", 0.88, 0.75, 3.2},
			{"65401", "Barrie", 90.0, "N", "Tier 2", 0.64, 0.6, 2.0},
		},
		[][]any{
			{"All Stations"},
			{"Station ID", "Latitude", "Longitude"},
			{"60106", 46.533, -84.31},
			{"61201", 46.322, -79.449},
		},
	)

	loader := NewLoader(dir, testLogger())
	stations, warnings := loader.Load("Toronto")

	if len(warnings) != 0 {
		t.Fatalf("unexpected warnings: %v", warnings)
	}
	if len(stations) != 3 {
		t.Fatalf("got %d stations, want 3", len(stations))
	}

	// Sorted by (tier asc, distance desc).
	wantOrder := []string{"60106", "61201", "65401"}
	for i, id := range wantOrder {
		if stations[i].ID != id {
			t.Errorf("stations[%d] = %s, want %s", i, stations[i].ID, id)
		}
	}

	first := stations[0]
	if first.TargetCity != "Toronto" || first.Tier != 1 || first.Slope != 0.82 || first.R != 0.91 {
		t.Errorf("unexpected first station: %+v", first)
	}
	if !first.HasCoordinates() || *first.Lat != 46.533 {
		t.Errorf("coordinate join failed: %+v", first)
	}

	// 65401 has no coordinate row: stays in registry, no coordinates.
	if stations[2].HasCoordinates() {
		t.Error("station without coordinate match should have nil lat/lon")
	}
}

func TestLoader_MissingWorkbookFailsSoft(t *testing.T) {
	loader := NewLoader(t.TempDir(), testLogger())
	stations, warnings := loader.Load("Toronto")
	if len(stations) != 0 {
		t.Errorf("missing workbook should yield empty registry, got %d", len(stations))
	}
	if len(warnings) != 0 {
		t.Errorf("missing workbook is not a row warning, got %v", warnings)
	}
}

func TestLoader_MalformedRowSkippedOthersLoad(t *testing.T) {
	dir := t.TempDir()
	writeWorkbook(t, dir, "Edmonton",
		[][]any{
			{"banner"},
			testIncludedHeader,
			{"92801", "Hinton", 260.0, "W", "Tier 1", 0.9, 0.8, 3.0},
			{"90302", "Edson", "not-a-number", "W", "Tier 1", 0.8, 0.7, 2.0},
			{"94401", "Whitecourt", 160.0, "NW", "Tier 2", 0.7, 0.6, 1.0},
		},
		[][]any{
			{"banner"},
			{"Station ID", "Latitude", "Longitude"},
		},
	)

	loader := NewLoader(dir, testLogger())
	stations, warnings := loader.Load("Edmonton")

	if len(stations) != 2 {
		t.Fatalf("got %d stations, want 2 (malformed row skipped)", len(stations))
	}
	for _, st := range stations {
		if st.ID == "90302" {
			t.Error("malformed row must not load")
		}
	}
	if len(warnings) != 1 {
		t.Fatalf("got %d warnings, want 1: %v", len(warnings), warnings)
	}
	if warnings[0].Row != 4 {
		t.Errorf("warning row = %d, want 4", warnings[0].Row)
	}
}

func TestLoader_ExcludedStationsNeverLoad(t *testing.T) {
	dir := t.TempDir()
	writeWorkbook(t, dir, "Montreal",
		[][]any{
			{"banner"},
			testIncludedHeader,
			{"54801", "Val-d'Or", 420.0, "NW", "Tier 1", 0.9, 0.8, 3.0},
			{"500070012", "Burlington VT", 150.0, "S", "Tier 2", 0.7, 0.6, 1.0},
		},
		[][]any{
			{"banner"},
			{"Station ID", "Latitude", "Longitude"},
		},
	)

	loader := NewLoader(dir, testLogger())
	stations, _ := loader.Load("Montreal")

	if len(stations) != 1 || stations[0].ID != "54801" {
		t.Errorf("excluded station leaked into registry: %+v", stations)
	}
}

func TestLoader_HeaderVariantsResolveCaseInsensitively(t *testing.T) {
	dir := t.TempDir()
	writeWorkbook(t, dir, "Vancouver",
		[][]any{
			{"banner"},
			{"STATION ID", "city", "distance", "direction", "TIER", "R", "slope (ug/m3)", "intercept"},
			{"100316", "Whistler", 97.0, "N", "2", 0.55, 0.5, 2.5},
		},
		[][]any{
			{"banner"},
			{"station id", "LAT", "LON"},
			{"100316", 50.116, -122.957},
		},
	)

	loader := NewLoader(dir, testLogger())
	stations, warnings := loader.Load("Vancouver")

	if len(warnings) != 0 {
		t.Fatalf("unexpected warnings: %v", warnings)
	}
	if len(stations) != 1 {
		t.Fatalf("got %d stations, want 1", len(stations))
	}
	st := stations[0]
	if st.Tier != 2 || st.Slope != 0.5 || !st.HasCoordinates() {
		t.Errorf("header variants misresolved: %+v", st)
	}
}

func TestLoader_DuplicateIDsKeepFirst(t *testing.T) {
	dir := t.TempDir()
	writeWorkbook(t, dir, "Toronto",
		[][]any{
			{"banner"},
			testIncludedHeader,
			{"60106", "First", 480.0, "NW", "Tier 1", 0.91, 0.82, 4.1},
			{"60106", "Second", 100.0, "N", "Tier 2", 0.5, 0.4, 1.0},
		},
		[][]any{
			{"banner"},
			{"Station ID", "Latitude", "Longitude"},
		},
	)

	loader := NewLoader(dir, testLogger())
	stations, warnings := loader.Load("Toronto")

	if len(stations) != 1 || stations[0].Name != "First" {
		t.Errorf("duplicate id handling wrong: %+v", stations)
	}
	if len(warnings) != 1 {
		t.Errorf("duplicate should warn, got %v", warnings)
	}
}

func TestParseTier(t *testing.T) {
	tests := []struct {
		raw  string
		want int
	}{
		{"Tier 1", 1},
		{"Tier 2", 2},
		{"tier 2", 2},
		{"2", 2},
		{"", 1},
	}
	for _, tt := range tests {
		var err error
		if got := parseTier(tt.raw, &err); got != tt.want || err != nil {
			t.Errorf("parseTier(%q) = %d (err %v), want %d", tt.raw, got, err, tt.want)
		}
	}

	var err error
	parseTier("primary", &err)
	if err == nil {
		t.Error("unparseable tier label should record an error")
	}
}
