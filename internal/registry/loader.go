// Package registry loads, validates, and caches the per-city station records
// that carry each station's regression calibration and coordinates.
//
// The source of truth is one Excel workbook per city
// ({DataDir}/{city}_PM25_EWS_Regression.xlsx) with two sheets: "Included
// Stations" holds the calibrated registry rows, "All Stations Data" provides
// the coordinate join. Loading fails soft: a missing or malformed workbook
// yields an empty registry so an evaluation cycle degrades to zero coverage
// for that city instead of aborting.
package registry

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"clear25/internal/types"
)

const (
	includedSheet = "Included Stations"
	coordsSheet   = "All Stations Data"

	// headerRow is the zero-based index of the heading row. Row 0 is a title
	// banner in the source workbooks; data starts at headerRow+1.
	headerRow = 1
)

// excludedStations are cross-border AQS site IDs whose regressions were
// retired. They never appear in a loaded registry regardless of workbook
// content.
var excludedStations = map[string]struct{}{
	"360291007": {},
	"500070007": {},
	"500070012": {},
	"500070014": {},
}

// IsExcluded reports whether a station ID is on the fixed exclusion list.
func IsExcluded(id string) bool {
	_, ok := excludedStations[id]
	return ok
}

// RowWarning records a source row that was skipped during loading. Warnings
// are reportable but never fatal; the remaining rows still load.
type RowWarning struct {
	Sheet  string
	Row    int // 1-based row number as seen in the workbook
	Reason string
}

func (w RowWarning) String() string {
	return fmt.Sprintf("%s row %d: %s", w.Sheet, w.Row, w.Reason)
}

// Loader reads station workbooks from a data directory. It is stateless;
// memoization lives in Cache.
type Loader struct {
	dataDir string
	logger  *slog.Logger
}

// NewLoader creates a Loader rooted at dataDir.
func NewLoader(dataDir string, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{dataDir: dataDir, logger: logger}
}

// Load reads the station registry for one city. The returned stations are
// tagged with the city key, filtered against the exclusion list, joined with
// coordinates, and sorted by (tier ascending, distance descending).
//
// A missing or unreadable workbook returns an empty slice, never an error:
// downstream stages treat that as "no stations evaluated" for the city.
func (l *Loader) Load(cityKey string) ([]types.Station, []RowWarning) {
	path := filepath.Join(l.dataDir, cityKey+"_PM25_EWS_Regression.xlsx")
	if _, err := os.Stat(path); err != nil {
		l.logger.Warn("station workbook missing", "city", cityKey, "path", path)
		return nil, nil
	}

	f, err := excelize.OpenFile(path)
	if err != nil {
		l.logger.Warn("station workbook unreadable", "city", cityKey, "error", err)
		return nil, nil
	}
	defer f.Close()

	stations, warnings := l.parseIncluded(f, cityKey)

	coords, coordWarnings := parseCoords(f)
	warnings = append(warnings, coordWarnings...)
	for i := range stations {
		if c, ok := coords[stations[i].ID]; ok {
			lat, lon := c[0], c[1]
			stations[i].Lat = &lat
			stations[i].Lon = &lon
		}
	}

	sort.SliceStable(stations, func(i, j int) bool {
		if stations[i].Tier != stations[j].Tier {
			return stations[i].Tier < stations[j].Tier
		}
		return stations[i].DistanceKm > stations[j].DistanceKm
	})

	for _, w := range warnings {
		l.logger.Warn("skipped station source row",
			"city", cityKey,
			"sheet", w.Sheet,
			"row", w.Row,
			"reason", w.Reason,
		)
	}

	return stations, warnings
}

// parseIncluded reads the "Included Stations" sheet into Station records.
func (l *Loader) parseIncluded(f *excelize.File, cityKey string) ([]types.Station, []RowWarning) {
	rows, err := f.GetRows(includedSheet)
	if err != nil || len(rows) <= headerRow+1 {
		return nil, []RowWarning{{Sheet: includedSheet, Row: 1, Reason: "sheet missing or empty"}}
	}

	headers := rows[headerRow]
	colID := findColumn(headers, "station id")
	colCity := findColumn(headers, "city")
	colDist := findColumn(headers, "distance")
	colDir := findColumn(headers, "direction")
	colTier := findColumn(headers, "tier")
	colSlope := findColumn(headers, "slope")
	colIntercept := findColumn(headers, "intercept")
	colR := findExactColumn(headers, "R")

	if colID < 0 {
		return nil, []RowWarning{{Sheet: includedSheet, Row: headerRow + 1, Reason: "no station id column"}}
	}

	var stations []types.Station
	var warnings []RowWarning
	seen := make(map[string]struct{})

	for i := headerRow + 1; i < len(rows); i++ {
		row := rows[i]
		id := strings.TrimSpace(cell(row, colID))
		if id == "" {
			continue
		}
		if IsExcluded(id) {
			continue
		}
		if _, dup := seen[id]; dup {
			warnings = append(warnings, RowWarning{Sheet: includedSheet, Row: i + 1, Reason: "duplicate station id " + id})
			continue
		}

		st := types.Station{
			ID:         id,
			Name:       strings.TrimSpace(cell(row, colCity)),
			TargetCity: cityKey,
			Direction:  strings.TrimSpace(cell(row, colDir)),
		}

		var parseErr error
		st.DistanceKm = parseFloatDefault(cell(row, colDist), 0, &parseErr)
		st.Tier = parseTier(cell(row, colTier), &parseErr)
		st.R = parseFloatDefault(cell(row, colR), 0, &parseErr)
		st.Slope = parseFloatDefault(cell(row, colSlope), 0, &parseErr)
		st.Intercept = parseFloatDefault(cell(row, colIntercept), 0, &parseErr)
		if parseErr != nil {
			warnings = append(warnings, RowWarning{Sheet: includedSheet, Row: i + 1, Reason: parseErr.Error()})
			continue
		}

		seen[id] = struct{}{}
		stations = append(stations, st)
	}

	return stations, warnings
}

// parseCoords reads the coordinate join sheet into {stationID: [lat, lon]}.
func parseCoords(f *excelize.File) (map[string][2]float64, []RowWarning) {
	rows, err := f.GetRows(coordsSheet)
	if err != nil || len(rows) <= headerRow+1 {
		return nil, []RowWarning{{Sheet: coordsSheet, Row: 1, Reason: "sheet missing or empty"}}
	}

	headers := rows[headerRow]
	colID := findColumn(headers, "station id")
	colLat := findColumn(headers, "lat")
	colLon := findColumn(headers, "lon")
	if colID < 0 || colLat < 0 || colLon < 0 {
		return nil, []RowWarning{{Sheet: coordsSheet, Row: headerRow + 1, Reason: "missing id/lat/lon columns"}}
	}

	coords := make(map[string][2]float64)
	var warnings []RowWarning
	for i := headerRow + 1; i < len(rows); i++ {
		row := rows[i]
		id := strings.TrimSpace(cell(row, colID))
		if id == "" {
			continue
		}
		lat, latErr := strconv.ParseFloat(strings.TrimSpace(cell(row, colLat)), 64)
		lon, lonErr := strconv.ParseFloat(strings.TrimSpace(cell(row, colLon)), 64)
		if latErr != nil || lonErr != nil {
			// Stations without a coordinate match stay in the registry but
			// are skipped by geo-matching; no warning needed for blanks.
			if cell(row, colLat) != "" || cell(row, colLon) != "" {
				warnings = append(warnings, RowWarning{Sheet: coordsSheet, Row: i + 1, Reason: "unparseable coordinates"})
			}
			continue
		}
		coords[id] = [2]float64{lat, lon}
	}

	return coords, warnings
}

// findColumn resolves a column by case-insensitive substring match against
// the heading row, tolerating heading variants ("Distance (km)", "distance").
// Returns -1 if no heading matches.
func findColumn(headers []string, candidate string) int {
	for i, h := range headers {
		if strings.Contains(strings.ToLower(strings.TrimSpace(h)), candidate) {
			return i
		}
	}
	return -1
}

// findExactColumn resolves a column whose trimmed heading equals name. Used
// for the single-letter "R" column, where substring matching would collide
// with headings like "Direction".
func findExactColumn(headers []string, name string) int {
	for i, h := range headers {
		if strings.TrimSpace(h) == name {
			return i
		}
	}
	return -1
}

func cell(row []string, col int) string {
	if col < 0 || col >= len(row) {
		return ""
	}
	return row[col]
}

// parseFloatDefault parses a numeric cell, treating an empty cell as def.
// A non-empty unparseable cell records the first error into errOut so the
// whole row can be skipped.
func parseFloatDefault(raw string, def float64, errOut *error) float64 {
	s := strings.TrimSpace(raw)
	if s == "" {
		return def
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		if *errOut == nil {
			*errOut = fmt.Errorf("unparseable numeric cell %q", raw)
		}
		return def
	}
	return v
}

// parseTier parses a tier label ("Tier 1", "1", "tier2") into its number.
// Empty labels default to tier 1, matching the source convention for the
// near ring.
func parseTier(raw string, errOut *error) int {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 1
	}
	s = strings.TrimSpace(strings.TrimPrefix(strings.TrimPrefix(s, "Tier"), "tier"))
	n, err := strconv.Atoi(s)
	if err != nil {
		if *errOut == nil {
			*errOut = fmt.Errorf("unparseable tier label %q", raw)
		}
		return 1
	}
	return n
}
