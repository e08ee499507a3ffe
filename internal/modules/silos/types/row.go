package types

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidRow is returned by DecodeRow for rows that cannot become a Silo.
var ErrInvalidRow = errors.New("invalid silo row")

// Num is a numeric column. Rows coming from a remote store may carry numbers as
// JSON strings (numeric columns), so both forms are accepted.
type Num float64

func (n *Num) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return fmt.Errorf("numeric column %q: %w", s, err)
		}
		*n = Num(f)
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return err
	}
	*n = Num(f)
	return nil
}

// Row is one record of the silos table as it travels between the store, the
// change feed and clients. Every column is optional on the wire; DecodeRow
// decides what a usable row is.
type Row struct {
	ID           string  `json:"id,omitempty"`
	Name         *string `json:"name,omitempty"`
	Latitude     *Num    `json:"latitude,omitempty"`
	Longitude    *Num    `json:"longitude,omitempty"`
	GrainType    *string `json:"grain_type,omitempty"`
	GrainAmount  *Num    `json:"grain_amount,omitempty"`
	Capacity     *Num    `json:"capacity,omitempty"`
	Status       *string `json:"status,omitempty"`
	Temperature  *Num    `json:"temperature,omitempty"`
	Humidity     *Num    `json:"humidity,omitempty"`
	PestActivity *string `json:"pest_activity,omitempty"`
	CO2Level     *Num    `json:"co2_level,omitempty"`
	LastUpdated  *string `json:"last_updated,omitempty"`
	OwnerPhone   *string `json:"owner_phone,omitempty"`
}

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05",
}

// ParseTimestamp accepts the timestamp spellings seen in the silos table. A
// timestamp without a zone is taken as UTC.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}

func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// DecodeRow validates a row and converts it into a Silo. Missing required columns,
// out-of-range values and unknown enum values are rejected with ErrInvalidRow; a
// missing or unknown status is replaced by one derived from the sensor readings.
func DecodeRow(r Row) (Silo, error) {
	fail := func(format string, args ...any) (Silo, error) {
		return Silo{}, fmt.Errorf("%w %q: %s", ErrInvalidRow, r.ID, fmt.Sprintf(format, args...))
	}

	id := strings.TrimSpace(r.ID)
	if id == "" {
		return fail("id is required")
	}
	name := strings.TrimSpace(deref(r.Name))
	if name == "" {
		return fail("name is required")
	}
	if r.Latitude == nil || r.Longitude == nil {
		return fail("latitude and longitude are required")
	}
	lat, lng := float64(*r.Latitude), float64(*r.Longitude)
	if err := validateCoordinate(lat, lng); err != nil {
		return fail("%v", err)
	}

	amount, ok := requiredNonNegative(r.GrainAmount)
	if !ok {
		return fail("grain_amount must be a non-negative number")
	}
	capacity, ok := requiredNonNegative(r.Capacity)
	if !ok {
		return fail("capacity must be a non-negative number")
	}

	if r.Temperature == nil || !finite(float64(*r.Temperature)) {
		return fail("temperature is required")
	}
	if r.Humidity == nil {
		return fail("humidity is required")
	}
	humidity := float64(*r.Humidity)
	if !finite(humidity) || humidity < 0 || humidity > 100 {
		return fail("humidity %v out of range 0-100", humidity)
	}

	pest := PestNone
	if r.PestActivity != nil && strings.TrimSpace(*r.PestActivity) != "" {
		p, ok := ParsePestActivity(*r.PestActivity)
		if !ok {
			return fail("unknown pest_activity %q", *r.PestActivity)
		}
		pest = p
	}

	sensors := Sensors{
		Temperature:  float64(*r.Temperature),
		Humidity:     humidity,
		PestActivity: pest,
	}
	if r.CO2Level != nil {
		co2 := float64(*r.CO2Level)
		if !nonNegative(co2) {
			return fail("co2_level must be a non-negative number")
		}
		sensors.CO2Level = &co2
	}

	status, ok := ParseStatus(deref(r.Status))
	if !ok {
		status = DeriveStatus(sensors)
	}

	var lastUpdated time.Time
	if ts := strings.TrimSpace(deref(r.LastUpdated)); ts != "" {
		t, err := ParseTimestamp(ts)
		if err != nil {
			return fail("%v", err)
		}
		lastUpdated = t
	}

	return Silo{
		ID:          id,
		Name:        name,
		Lat:         lat,
		Lng:         lng,
		GrainType:   strings.TrimSpace(deref(r.GrainType)),
		GrainAmount: amount,
		Capacity:    capacity,
		Sensors:     sensors,
		Status:      status,
		LastUpdated: lastUpdated,
		OwnerPhone:  strings.TrimSpace(deref(r.OwnerPhone)),
	}, nil
}

// ToRow is the inverse of DecodeRow.
func ToRow(s Silo) Row {
	r := Row{
		ID:           s.ID,
		Name:         ptr(s.Name),
		Latitude:     numPtr(s.Lat),
		Longitude:    numPtr(s.Lng),
		GrainType:    ptr(s.GrainType),
		GrainAmount:  numPtr(s.GrainAmount),
		Capacity:     numPtr(s.Capacity),
		Status:       ptr(string(s.Status)),
		Temperature:  numPtr(s.Sensors.Temperature),
		Humidity:     numPtr(s.Sensors.Humidity),
		PestActivity: ptr(string(s.Sensors.PestActivity)),
	}
	if s.Sensors.CO2Level != nil {
		r.CO2Level = numPtr(*s.Sensors.CO2Level)
	}
	if !s.LastUpdated.IsZero() {
		r.LastUpdated = ptr(FormatTimestamp(s.LastUpdated))
	}
	if s.OwnerPhone != "" {
		r.OwnerPhone = ptr(s.OwnerPhone)
	}
	return r
}

// DecodeRows decodes every row, returning the silos that decoded and the errors
// of the rows that did not.
func DecodeRows(rows []Row) ([]Silo, []error) {
	out := make([]Silo, 0, len(rows))
	var errs []error
	for _, r := range rows {
		s, err := DecodeRow(r)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, s)
	}
	return out, errs
}

func requiredNonNegative(n *Num) (float64, bool) {
	if n == nil {
		return 0, false
	}
	v := float64(*n)
	return v, nonNegative(v)
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func ptr[T any](v T) *T { return &v }

func numPtr(v float64) *Num {
	n := Num(v)
	return &n
}
