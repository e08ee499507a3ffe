package types

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
)

// LocalIDPrefix marks identifiers assigned on the client before the remote store
// has confirmed the record.
const LocalIDPrefix = "local-"

// Status is the severity classification of a silo.
type Status string

const (
	StatusNormal   Status = "normal"
	StatusWarning  Status = "warning"
	StatusCritical Status = "critical"
)

// Statuses lists every status in severity order, most severe first.
var Statuses = []Status{StatusCritical, StatusWarning, StatusNormal}

func ParseStatus(s string) (Status, bool) {
	switch Status(strings.ToLower(strings.TrimSpace(s))) {
	case StatusNormal:
		return StatusNormal, true
	case StatusWarning:
		return StatusWarning, true
	case StatusCritical:
		return StatusCritical, true
	}
	return "", false
}

// Severity orders statuses for display: critical 0, warning 1, normal 2.
func (s Status) Severity() int {
	switch s {
	case StatusCritical:
		return 0
	case StatusWarning:
		return 1
	default:
		return 2
	}
}

// PestActivity is an ordered pest level.
type PestActivity string

const (
	PestNone     PestActivity = "none"
	PestLow      PestActivity = "low"
	PestModerate PestActivity = "moderate"
	PestHigh     PestActivity = "high"
)

func ParsePestActivity(s string) (PestActivity, bool) {
	switch PestActivity(strings.ToLower(strings.TrimSpace(s))) {
	case PestNone:
		return PestNone, true
	case PestLow:
		return PestLow, true
	case PestModerate:
		return PestModerate, true
	case PestHigh:
		return PestHigh, true
	}
	return "", false
}

// Level returns the position of p in none < low < moderate < high.
func (p PestActivity) Level() int {
	switch p {
	case PestLow:
		return 1
	case PestModerate:
		return 2
	case PestHigh:
		return 3
	default:
		return 0
	}
}

type Sensors struct {
	Temperature  float64      `json:"temperature"`
	Humidity     float64      `json:"humidity"`
	PestActivity PestActivity `json:"pestActivity"`
	CO2Level     *float64     `json:"co2Level,omitempty"`
}

type Silo struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Lat         float64   `json:"lat"`
	Lng         float64   `json:"lng"`
	GrainType   string    `json:"grainType"`
	GrainAmount float64   `json:"grainAmount"`
	Capacity    float64   `json:"capacity"`
	Sensors     Sensors   `json:"sensors"`
	Status      Status    `json:"status"`
	LastUpdated time.Time `json:"lastUpdated"`
	OwnerPhone  string    `json:"ownerPhone,omitempty"`
}

// IsLocal reports whether s carries a client-assigned identifier.
func (s Silo) IsLocal() bool { return IsLocalID(s.ID) }

func IsLocalID(id string) bool { return strings.HasPrefix(id, LocalIDPrefix) }

// FillPercent is amount/capacity as a whole percentage, 0 for an empty capacity.
func (s Silo) FillPercent() int {
	if s.Capacity <= 0 {
		return 0
	}
	return int(math.Round(s.GrainAmount / s.Capacity * 100))
}

const (
	temperatureAlertC = 35.0
	humidityAlertPct  = 75.0
)

// TemperatureAlert reports a reading above the display threshold.
func (s Sensors) TemperatureAlert() bool { return s.Temperature > temperatureAlertC }

// HumidityAlert reports a reading above the display threshold.
func (s Sensors) HumidityAlert() bool { return s.Humidity > humidityAlertPct }

// DeriveStatus classifies sensor readings. It is applied when a row arrives
// without a recognised status and to freshly created silos.
func DeriveStatus(s Sensors) Status {
	switch {
	case s.PestActivity == PestHigh, s.Temperature >= 38, s.Humidity >= 85:
		return StatusCritical
	case s.PestActivity == PestModerate, s.Temperature > 33, s.Humidity > 70:
		return StatusWarning
	default:
		return StatusNormal
	}
}

// SortBySeverity orders silos critical first, keeping the relative order of
// silos that share a status.
func SortBySeverity(silos []Silo) []Silo {
	out := append([]Silo(nil), silos...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Status.Severity() < out[j].Status.Severity()
	})
	return out
}

// CountByStatus tallies silos per status; every status is present in the result.
func CountByStatus(silos []Silo) map[Status]int {
	out := map[Status]int{StatusNormal: 0, StatusWarning: 0, StatusCritical: 0}
	for _, s := range silos {
		out[s.Status]++
	}
	return out
}

var ErrInvalidSilo = errors.New("invalid silo")

// Draft is the user-supplied part of a new silo.
type Draft struct {
	Name        string  `json:"name"`
	Lat         float64 `json:"lat"`
	Lng         float64 `json:"lng"`
	GrainType   string  `json:"grainType"`
	GrainAmount float64 `json:"grainAmount"`
	Capacity    float64 `json:"capacity"`
	OwnerPhone  string  `json:"ownerPhone,omitempty"`
}

func (d Draft) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidSilo)
	}
	if err := validateCoordinate(d.Lat, d.Lng); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSilo, err)
	}
	if !nonNegative(d.GrainAmount) {
		return fmt.Errorf("%w: grain amount must be a non-negative number", ErrInvalidSilo)
	}
	if !nonNegative(d.Capacity) {
		return fmt.Errorf("%w: capacity must be a non-negative number", ErrInvalidSilo)
	}
	return nil
}

// Default readings for a silo that has not reported yet.
var newSiloSensors = Sensors{Temperature: 25, Humidity: 50, PestActivity: PestNone}

const newSiloCO2 = 400.0

// NewSilo builds a silo from a draft with default sensor readings.
func NewSilo(id string, d Draft, now time.Time) (Silo, error) {
	if err := d.Validate(); err != nil {
		return Silo{}, err
	}
	sensors := newSiloSensors
	co2 := newSiloCO2
	sensors.CO2Level = &co2
	return Silo{
		ID:          id,
		Name:        strings.TrimSpace(d.Name),
		Lat:         d.Lat,
		Lng:         d.Lng,
		GrainType:   strings.TrimSpace(d.GrainType),
		GrainAmount: d.GrainAmount,
		Capacity:    d.Capacity,
		Sensors:     sensors,
		Status:      StatusNormal,
		LastUpdated: now.UTC(),
		OwnerPhone:  strings.TrimSpace(d.OwnerPhone),
	}, nil
}

func validateCoordinate(lat, lng float64) error {
	if math.IsNaN(lat) || lat < -90 || lat > 90 {
		return fmt.Errorf("latitude %v out of range", lat)
	}
	if math.IsNaN(lng) || lng < -180 || lng > 180 {
		return fmt.Errorf("longitude %v out of range", lng)
	}
	return nil
}

func nonNegative(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v >= 0
}
