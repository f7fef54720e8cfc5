package flight

import (
	"fmt"
	"strings"
)

// Namespaces bound on the synthetic root wrapped around every message unit.
const (
	NamespaceNAS        = "http://www.faa.aero/nas/3.0"
	NamespaceBase       = "http://www.fixm.aero/base/3.0"
	NamespaceFlight     = "http://www.fixm.aero/flight/3.0"
	NamespaceFoundation = "http://www.fixm.aero/foundation/3.0"
)

// Record is the normalized view of one flight message. Every field is optional;
// Latitude and Longitude are either both set or both nil.
type Record struct {
	Timestamp  *string  `json:"timestamp,omitempty"`
	Center     *string  `json:"center,omitempty"`
	Callsign   *string  `json:"callsign,omitempty"`
	ComputerID *string  `json:"computer_id,omitempty"`
	Departure  *string  `json:"departure,omitempty"`
	Arrival    *string  `json:"arrival,omitempty"`
	Latitude   *float64 `json:"latitude,omitempty"`
	Longitude  *float64 `json:"longitude,omitempty"`
	Altitude   *int64   `json:"altitude,omitempty"`
	Speed      *int64   `json:"speed,omitempty"`
	Status     *string  `json:"status,omitempty"`
	Operator   *string  `json:"operator,omitempty"`
}

// Eligible reports whether the record carries a non-empty callsign.
func (r *Record) Eligible() bool {
	return r != nil && r.Callsign != nil && *r.Callsign != ""
}

// String renders the record for log previews.
func (r *Record) String() string {
	if r == nil {
		return "<nil>"
	}
	var b strings.Builder
	b.WriteString("{")
	sep := ""
	str := func(k string, v *string) {
		if v != nil {
			fmt.Fprintf(&b, "%s%s=%q", sep, k, *v)
			sep = " "
		}
	}
	str("timestamp", r.Timestamp)
	str("center", r.Center)
	str("callsign", r.Callsign)
	str("computer_id", r.ComputerID)
	str("departure", r.Departure)
	str("arrival", r.Arrival)
	if r.Latitude != nil && r.Longitude != nil {
		fmt.Fprintf(&b, "%sposition=%g,%g", sep, *r.Latitude, *r.Longitude)
		sep = " "
	}
	if r.Altitude != nil {
		fmt.Fprintf(&b, "%saltitude=%d", sep, *r.Altitude)
		sep = " "
	}
	if r.Speed != nil {
		fmt.Fprintf(&b, "%sspeed=%d", sep, *r.Speed)
		sep = " "
	}
	str("status", r.Status)
	str("operator", r.Operator)
	b.WriteString("}")
	return b.String()
}

// Deref returns the pointed-to string or "" for nil.
func Deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
