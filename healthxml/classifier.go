// Package healthxml streams an Apple-Health-style export.xml and classifies
// each Record, Workout, and ActivitySummary element into a typed event,
// normalising units and vendor type identifiers along the way. It never
// materialises more than one element's subtree at a time: encoding/xml's
// token loop plus per-element DecodeElement calls already bound memory to
// O(one element), the same guarantee a clear-as-you-go tree parser gives.
package healthxml

import (
	"encoding/xml"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"time"

	"vitalpipe.dev/ingesterr"
	"vitalpipe.dev/units"
)

const (
	quantityPrefix = "HKQuantityTypeIdentifier"
	categoryPrefix = "HKCategoryTypeIdentifier"
	workoutPrefix  = "HKWorkoutActivityType"
	categoryValuePrefix = "HKCategoryValue"
)

// RecordKind distinguishes the two shapes a <Record> element can classify
// into.
type RecordKind int

const (
	// Quantitative is a numeric measurement (step count, heart rate, ...).
	Quantitative RecordKind = iota
	// Categorical is a discrete-state observation (sleep stage, ...).
	Categorical
)

// Source is the raw (name, bundle_id, device) triple read off an element;
// bundle_id is the source's sourceVersion attribute, stored verbatim
// (see DESIGN.md's Open Question entry).
type Source struct {
	Name     string
	BundleID string
	Device   string
}

// HasName reports whether a source name was present on the element.
func (s Source) HasName() bool { return s.Name != "" }

// RecordEvent is a classified <Record> element.
type RecordEvent struct {
	Kind         RecordKind
	Time         time.Time
	EndTime      *time.Time
	MetricType   string // set when Kind == Quantitative
	CategoryType string // set when Kind == Categorical
	Value        float64
	Unit         string
	RawValue     string // set when Kind == Categorical
	ValueLabel   string // set when Kind == Categorical
	Source       Source
}

// RoutePointEvent is one GPS fix nested under a Workout's WorkoutRoute.
type RoutePointEvent struct {
	Time      time.Time
	Latitude  float64
	Longitude float64
	AltitudeM *float64
}

// WorkoutEvent is a classified <Workout> element plus its route points.
type WorkoutEvent struct {
	Time           time.Time
	EndTime        *time.Time
	ActivityType   string
	DurationSec    *float64
	TotalDistanceM *float64
	TotalEnergyKJ  *float64
	Metadata       map[string]string
	RoutePoints    []RoutePointEvent
	Source         Source
}

// ActivitySummaryEvent is a classified <ActivitySummary> element.
type ActivitySummaryEvent struct {
	Date                time.Time
	ActiveEnergyKJ      *float64
	ActiveEnergyGoalKJ  *float64
	ExerciseMinutes     *float64
	ExerciseGoalMinutes *float64
	StandHours          *int
	StandGoalHours      *int
}

// Handler receives classified events as the pipeline producer drives Parse.
// OnSkip is called once per element that was recognised by tag but could
// not be classified (counts toward skipped_count); it is never called for
// elements with an unrelated tag, which are ignored silently.
//
// Cancelled, when set, is polled before each token Parse reads, so only
// ever between elements; if it reports true, Parse stops and returns the Result
// accumulated so far with a nil error, exactly like reaching the end of the
// document. This is the only supported way to stop a Parse early — the
// XML token stream is never truncated mid-element.
type Handler struct {
	OnRecord          func(RecordEvent)
	OnWorkout         func(WorkoutEvent)
	OnActivitySummary func(ActivitySummaryEvent)
	OnSkip            func(tag, reason string)
	Cancelled         func() bool
}

// Result summarises one Parse call.
type Result struct {
	Processed int
	Skipped   int
}

// Parse drives a token loop over r, dispatching classified elements to h.
// It returns *ingesterr.Error with Kind ParseFatal on any structural XML
// error; all other element-level problems are reported via h.OnSkip and do
// not stop the parse.
func Parse(r io.Reader, h Handler) (Result, error) {
	dec := xml.NewDecoder(newTolerantReader(r))
	dec.Strict = true

	var res Result
	for {
		if h.Cancelled != nil && h.Cancelled() {
			return res, nil
		}

		tok, err := dec.Token()
		if err == io.EOF {
			return res, nil
		}
		if err != nil {
			return res, ingesterr.New(ingesterr.ParseFatal, fmt.Errorf("decoding element: %w", err))
		}

		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}

		switch start.Name.Local {
		case "Record":
			var rx recordXML
			if err := dec.DecodeElement(&rx, &start); err != nil {
				return res, ingesterr.New(ingesterr.ParseFatal, fmt.Errorf("decoding Record: %w", err))
			}
			if classifyRecord(rx, h) {
				res.Processed++
			} else {
				res.Skipped++
			}
		case "Workout":
			var wx workoutXML
			if err := dec.DecodeElement(&wx, &start); err != nil {
				return res, ingesterr.New(ingesterr.ParseFatal, fmt.Errorf("decoding Workout: %w", err))
			}
			if classifyWorkout(wx, h) {
				res.Processed++
			} else {
				res.Skipped++
			}
		case "ActivitySummary":
			var ax activitySummaryXML
			if err := dec.DecodeElement(&ax, &start); err != nil {
				return res, ingesterr.New(ingesterr.ParseFatal, fmt.Errorf("decoding ActivitySummary: %w", err))
			}
			if classifyActivitySummary(ax, h) {
				res.Processed++
			} else {
				res.Skipped++
			}
		}
	}
}

// --- wire shapes -----------------------------------------------------------

type recordXML struct {
	XMLName       xml.Name `xml:"Record"`
	Type          string   `xml:"type,attr"`
	StartDate     string   `xml:"startDate,attr"`
	EndDate       string   `xml:"endDate,attr"`
	Value         string   `xml:"value,attr"`
	Unit          string   `xml:"unit,attr"`
	SourceName    string   `xml:"sourceName,attr"`
	SourceVersion string   `xml:"sourceVersion,attr"`
	Device        string   `xml:"device,attr"`
}

type metadataEntryXML struct {
	Key   string `xml:"key,attr"`
	Value string `xml:"value,attr"`
}

type locationXML struct {
	Date      string `xml:"date,attr"`
	Latitude  string `xml:"latitude,attr"`
	Longitude string `xml:"longitude,attr"`
	Altitude  string `xml:"altitude,attr"`
}

type workoutRouteXML struct {
	Locations []locationXML `xml:"Location"`
}

type workoutXML struct {
	XMLName               xml.Name           `xml:"Workout"`
	WorkoutActivityType    string             `xml:"workoutActivityType,attr"`
	StartDate              string             `xml:"startDate,attr"`
	EndDate                string             `xml:"endDate,attr"`
	Duration               string             `xml:"duration,attr"`
	DurationUnit           string             `xml:"durationUnit,attr"`
	TotalDistance          string             `xml:"totalDistance,attr"`
	TotalDistanceUnit      string             `xml:"totalDistanceUnit,attr"`
	TotalEnergyBurned      string             `xml:"totalEnergyBurned,attr"`
	TotalEnergyBurnedUnit  string             `xml:"totalEnergyBurnedUnit,attr"`
	SourceName             string             `xml:"sourceName,attr"`
	SourceVersion          string             `xml:"sourceVersion,attr"`
	Device                 string             `xml:"device,attr"`
	MetadataEntries        []metadataEntryXML `xml:"MetadataEntry"`
	Routes                 []workoutRouteXML  `xml:"WorkoutRoute"`
}

type activitySummaryXML struct {
	XMLName                xml.Name `xml:"ActivitySummary"`
	DateComponents         string   `xml:"dateComponents,attr"`
	ActiveEnergyBurned     string   `xml:"activeEnergyBurned,attr"`
	ActiveEnergyBurnedUnit string   `xml:"activeEnergyBurnedUnit,attr"`
	ActiveEnergyBurnedGoal string   `xml:"activeEnergyBurnedGoal,attr"`
	AppleExerciseTime      string   `xml:"appleExerciseTime,attr"`
	AppleExerciseTimeGoal  string   `xml:"appleExerciseTimeGoal,attr"`
	AppleStandHours        string   `xml:"appleStandHours,attr"`
	AppleStandHoursGoal    string   `xml:"appleStandHoursGoal,attr"`
}

// --- classification ----------------------------------------------------

func classifyRecord(rx recordXML, h Handler) bool {
	start, ok := parseAppleDate(rx.StartDate)
	if !ok {
		if h.OnSkip != nil {
			h.OnSkip("Record", "missing or unparseable startDate")
		}
		return false
	}
	end := optionalDate(rx.EndDate)
	src := Source{Name: rx.SourceName, BundleID: rx.SourceVersion, Device: rx.Device}

	switch {
	case strings.HasPrefix(rx.Type, quantityPrefix):
		value, err := strconv.ParseFloat(rx.Value, 64)
		if err != nil {
			if h.OnSkip != nil {
				h.OnSkip("Record", "missing or non-numeric value")
			}
			return false
		}
		if h.OnRecord != nil {
			h.OnRecord(RecordEvent{
				Kind:       Quantitative,
				Time:       start,
				EndTime:    end,
				MetricType: cleanTypeName(rx.Type, quantityPrefix),
				Value:      value,
				Unit:       rx.Unit,
				Source:     src,
			})
		}
		return true

	case strings.HasPrefix(rx.Type, categoryPrefix):
		if h.OnRecord != nil {
			h.OnRecord(RecordEvent{
				Kind:         Categorical,
				Time:         start,
				EndTime:      end,
				CategoryType: cleanTypeName(rx.Type, categoryPrefix),
				RawValue:     rx.Value,
				ValueLabel:   cleanCategoryValue(rx.Value),
				Source:       src,
			})
		}
		return true

	default:
		if h.OnSkip != nil {
			h.OnSkip("Record", "unrecognised type prefix")
		}
		return false
	}
}

func classifyWorkout(wx workoutXML, h Handler) bool {
	start, ok := parseAppleDate(wx.StartDate)
	if !ok {
		if h.OnSkip != nil {
			h.OnSkip("Workout", "missing or unparseable startDate")
		}
		return false
	}
	end := optionalDate(wx.EndDate)

	durationSec := convertedFloat(wx.Duration, wx.DurationUnit, units.Duration)
	distanceM := convertedFloat(wx.TotalDistance, wx.TotalDistanceUnit, units.Distance)
	energyKJ := convertedFloat(wx.TotalEnergyBurned, wx.TotalEnergyBurnedUnit, units.Energy)

	var metadata map[string]string
	if len(wx.MetadataEntries) > 0 {
		metadata = make(map[string]string, len(wx.MetadataEntries))
		for _, m := range wx.MetadataEntries {
			if m.Key == "" {
				continue
			}
			metadata[m.Key] = m.Value
		}
	}

	var points []RoutePointEvent
	for _, route := range wx.Routes {
		for _, loc := range route.Locations {
			t, ok := parseAppleDate(loc.Date)
			lat, latErr := strconv.ParseFloat(loc.Latitude, 64)
			lon, lonErr := strconv.ParseFloat(loc.Longitude, 64)
			if !ok || latErr != nil || lonErr != nil {
				continue
			}
			var alt *float64
			if a, err := strconv.ParseFloat(loc.Altitude, 64); err == nil {
				alt = &a
			}
			points = append(points, RoutePointEvent{Time: t, Latitude: lat, Longitude: lon, AltitudeM: alt})
		}
	}

	if h.OnWorkout != nil {
		h.OnWorkout(WorkoutEvent{
			Time:           start,
			EndTime:        end,
			ActivityType:   cleanTypeName(wx.WorkoutActivityType, workoutPrefix),
			DurationSec:    durationSec,
			TotalDistanceM: distanceM,
			TotalEnergyKJ:  energyKJ,
			Metadata:       metadata,
			RoutePoints:    points,
			Source:         Source{Name: wx.SourceName, BundleID: wx.SourceVersion, Device: wx.Device},
		})
	}
	return true
}

func classifyActivitySummary(ax activitySummaryXML, h Handler) bool {
	d, ok := parseAppleDateOnly(ax.DateComponents)
	if !ok {
		if h.OnSkip != nil {
			h.OnSkip("ActivitySummary", "missing or unparseable dateComponents")
		}
		return false
	}

	energy := convertedFloat(ax.ActiveEnergyBurned, ax.ActiveEnergyBurnedUnit, units.Energy)
	goal := convertedFloat(ax.ActiveEnergyBurnedGoal, ax.ActiveEnergyBurnedUnit, units.Energy)

	if h.OnActivitySummary != nil {
		h.OnActivitySummary(ActivitySummaryEvent{
			Date:                d,
			ActiveEnergyKJ:      energy,
			ActiveEnergyGoalKJ:  goal,
			ExerciseMinutes:     optionalFloat(ax.AppleExerciseTime),
			ExerciseGoalMinutes: optionalFloat(ax.AppleExerciseTimeGoal),
			StandHours:          optionalInt(ax.AppleStandHours),
			StandGoalHours:      optionalInt(ax.AppleStandHoursGoal),
		})
	}
	return true
}

// --- scalar helpers ------------------------------------------------------

var appleDateRE = regexp.MustCompile(`(\d{4}-\d{2}-\d{2})\s+(\d{2}:\d{2}:\d{2})\s+([+-]\d{4})`)

func parseAppleDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	m := appleDateRE.FindStringSubmatch(s)
	if m == nil {
		return time.Time{}, false
	}
	t, err := time.Parse("2006-01-02T15:04:05-0700", m[1]+"T"+m[2]+m[3])
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func optionalDate(s string) *time.Time {
	t, ok := parseAppleDate(s)
	if !ok {
		return nil
	}
	return &t
}

func parseAppleDateOnly(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func cleanTypeName(raw, prefix string) string {
	if strings.HasPrefix(raw, prefix) {
		return raw[len(prefix):]
	}
	return raw
}

var camelBoundaryRE = regexp.MustCompile(`([a-z])([A-Z])`)

func cleanCategoryValue(raw string) string {
	if raw == "" {
		return ""
	}
	cleaned := strings.TrimPrefix(raw, categoryValuePrefix)
	spaced := camelBoundaryRE.ReplaceAllString(cleaned, "$1 $2")
	return strings.TrimSpace(spaced)
}

func optionalFloat(s string) *float64 {
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &v
}

func optionalInt(s string) *int {
	if s == "" {
		return nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return nil
	}
	return &v
}

// convertedFloat parses raw, converts it with convert(value, unit), and
// returns a pointer to the (possibly unconverted) result. A missing or
// non-numeric raw value, or a missing unit, yields nil, matching spec.md
// §4.3's "a missing value or unit yields no field".
func convertedFloat(raw, unit string, convert func(float64, string) (float64, bool)) *float64 {
	if raw == "" || unit == "" {
		return nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil
	}
	out, _ := convert(v, unit)
	return &out
}
