package types

import (
	"fmt"
	"strings"
	"time"
)

// Patch is a partial update of a silo. Nil fields are left alone; an empty
// OwnerPhone clears the phone.
type Patch struct {
	Name         *string       `json:"name,omitempty"`
	GrainType    *string       `json:"grain_type,omitempty"`
	GrainAmount  *float64      `json:"grain_amount,omitempty"`
	Capacity     *float64      `json:"capacity,omitempty"`
	OwnerPhone   *string       `json:"owner_phone,omitempty"`
	Status       *Status       `json:"status,omitempty"`
	Temperature  *float64      `json:"temperature,omitempty"`
	Humidity     *float64      `json:"humidity,omitempty"`
	PestActivity *PestActivity `json:"pest_activity,omitempty"`
	CO2Level     *float64      `json:"co2_level,omitempty"`
	LastUpdated  *time.Time    `json:"last_updated,omitempty"`
}

func (p Patch) IsEmpty() bool {
	return p.Name == nil && p.GrainType == nil && p.GrainAmount == nil && p.Capacity == nil &&
		p.OwnerPhone == nil && p.Status == nil && p.Temperature == nil && p.Humidity == nil &&
		p.PestActivity == nil && p.CO2Level == nil && p.LastUpdated == nil
}

func (p Patch) Validate() error {
	if p.Name != nil && strings.TrimSpace(*p.Name) == "" {
		return fmt.Errorf("%w: name cannot be empty", ErrInvalidSilo)
	}
	if p.GrainAmount != nil && !nonNegative(*p.GrainAmount) {
		return fmt.Errorf("%w: grain amount must be a non-negative number", ErrInvalidSilo)
	}
	if p.Capacity != nil && !nonNegative(*p.Capacity) {
		return fmt.Errorf("%w: capacity must be a non-negative number", ErrInvalidSilo)
	}
	if p.Status != nil {
		if _, ok := ParseStatus(string(*p.Status)); !ok {
			return fmt.Errorf("%w: unknown status %q", ErrInvalidSilo, *p.Status)
		}
	}
	if p.PestActivity != nil {
		if _, ok := ParsePestActivity(string(*p.PestActivity)); !ok {
			return fmt.Errorf("%w: unknown pest activity %q", ErrInvalidSilo, *p.PestActivity)
		}
	}
	if p.Temperature != nil && !finite(*p.Temperature) {
		return fmt.Errorf("%w: temperature must be a number", ErrInvalidSilo)
	}
	if p.Humidity != nil && (!finite(*p.Humidity) || *p.Humidity < 0 || *p.Humidity > 100) {
		return fmt.Errorf("%w: humidity must be within 0-100", ErrInvalidSilo)
	}
	if p.CO2Level != nil && !nonNegative(*p.CO2Level) {
		return fmt.Errorf("%w: co2 level must be a non-negative number", ErrInvalidSilo)
	}
	return nil
}

// Normalize returns p with status and pest activity in their canonical
// lowercase form. Values that do not parse are left for Validate to reject.
func (p Patch) Normalize() Patch {
	if p.Status != nil {
		if st, ok := ParseStatus(string(*p.Status)); ok {
			p.Status = &st
		}
	}
	if p.PestActivity != nil {
		if pa, ok := ParsePestActivity(string(*p.PestActivity)); ok {
			p.PestActivity = &pa
		}
	}
	return p
}

// Apply returns s with the patch applied. A patch that changes sensor readings
// without naming a status re-derives it.
func (p Patch) Apply(s Silo) Silo {
	p = p.Normalize()
	if p.Name != nil {
		s.Name = strings.TrimSpace(*p.Name)
	}
	if p.GrainType != nil {
		s.GrainType = strings.TrimSpace(*p.GrainType)
	}
	if p.GrainAmount != nil {
		s.GrainAmount = *p.GrainAmount
	}
	if p.Capacity != nil {
		s.Capacity = *p.Capacity
	}
	if p.OwnerPhone != nil {
		s.OwnerPhone = strings.TrimSpace(*p.OwnerPhone)
	}
	if p.Status != nil {
		s.Status = *p.Status
	}
	if p.Temperature != nil {
		s.Sensors.Temperature = *p.Temperature
	}
	if p.Humidity != nil {
		s.Sensors.Humidity = *p.Humidity
	}
	if p.PestActivity != nil {
		s.Sensors.PestActivity = *p.PestActivity
	}
	if p.CO2Level != nil {
		co2 := *p.CO2Level
		s.Sensors.CO2Level = &co2
	}
	if p.LastUpdated != nil {
		s.LastUpdated = p.LastUpdated.UTC()
	}
	if p.Status == nil && p.touchesSensors() {
		s.Status = DeriveStatus(s.Sensors)
	}
	return s
}

func (p Patch) touchesSensors() bool {
	return p.Temperature != nil || p.Humidity != nil || p.PestActivity != nil
}

// Merge layers next over p; fields set in next win.
func (p Patch) Merge(next Patch) Patch {
	out := p
	if next.Name != nil {
		out.Name = next.Name
	}
	if next.GrainType != nil {
		out.GrainType = next.GrainType
	}
	if next.GrainAmount != nil {
		out.GrainAmount = next.GrainAmount
	}
	if next.Capacity != nil {
		out.Capacity = next.Capacity
	}
	if next.OwnerPhone != nil {
		out.OwnerPhone = next.OwnerPhone
	}
	if next.Status != nil {
		out.Status = next.Status
	}
	if next.Temperature != nil {
		out.Temperature = next.Temperature
	}
	if next.Humidity != nil {
		out.Humidity = next.Humidity
	}
	if next.PestActivity != nil {
		out.PestActivity = next.PestActivity
	}
	if next.CO2Level != nil {
		out.CO2Level = next.CO2Level
	}
	if next.LastUpdated != nil {
		out.LastUpdated = next.LastUpdated
	}
	return out
}
