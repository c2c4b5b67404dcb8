// Package model defines the domain types shared by the loss engine: events,
// loss kinds, alert levels, run bookkeeping and the error taxonomy.
package model

import "time"

// Event identifies the earthquake a computation belongs to.
type Event struct {
	ID        string    `json:"id"`
	Magnitude float64   `json:"magnitude"`
	Time      time.Time `json:"time"`
	Depth     float64   `json:"depth_km"`
	Lat       float64   `json:"lat"`
	Lon       float64   `json:"lon"`
	Location  string    `json:"location,omitempty"`
}

// LossKind distinguishes fatality estimates from economic-loss estimates.
type LossKind string

const (
	LossFatality LossKind = "fatality"
	LossEconomic LossKind = "economic"
)

// Units returns the unit label used in reports.
func (k LossKind) Units() string {
	if k == LossEconomic {
		return "USD"
	}
	return "fatalities"
}

// AlertLevel is the color-coded severity of an event.
type AlertLevel int

const (
	AlertGreen AlertLevel = iota
	AlertYellow
	AlertOrange
	AlertRed
)

var alertNames = [...]string{"green", "yellow", "orange", "red"}

func (l AlertLevel) String() string {
	if l < AlertGreen || l > AlertRed {
		return "unknown"
	}
	return alertNames[l]
}

// MarshalText encodes the level by name.
func (l AlertLevel) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// UnmarshalText decodes a level name.
func (l *AlertLevel) UnmarshalText(b []byte) error {
	lvl, err := ParseAlertLevel(string(b))
	if err != nil {
		return err
	}
	*l = lvl
	return nil
}

// ParseAlertLevel converts a level name to an AlertLevel.
func ParseAlertLevel(s string) (AlertLevel, error) {
	for i, name := range alertNames {
		if name == s {
			return AlertLevel(i), nil
		}
	}
	return AlertGreen, &InvariantViolationError{Check: "alert level", Detail: "unknown level " + s}
}

// MaxAlert returns the more severe of two levels.
func MaxAlert(a, b AlertLevel) AlertLevel {
	if b > a {
		return b
	}
	return a
}
