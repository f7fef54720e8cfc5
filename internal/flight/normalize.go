package flight

import (
	"math"
	"strconv"
	"strings"
)

// Normalize parses one unit into a Record. It returns false when the unit is
// not well-formed XML or holds no NAS flight element. Each field is looked up
// independently; a missing or malformed field leaves only that field unset.
func Normalize(unit Unit) (rec *Record, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			rec, ok = nil, false
		}
	}()

	root, err := parseTree(string(unit))
	if err != nil {
		return nil, false
	}
	fl := root.find(NamespaceNAS, "flight")
	if fl == nil {
		return nil, false
	}

	rec = &Record{
		Timestamp: attrOf(fl, "timestamp"),
		Center:    attrOf(fl, "centre"),
	}
	if id := fl.find(NamespaceNAS, "flightIdentification"); id != nil {
		rec.Callsign = attrOf(id, "aircraftIdentification")
		rec.ComputerID = attrOf(id, "computerId")
	}
	rec.Departure = textOf(fl.find(NamespaceNAS, "departurePoint"))
	rec.Arrival = textOf(fl.find(NamespaceNAS, "arrivalPoint"))
	rec.Latitude, rec.Longitude = position(fl.find(NamespaceBase, "pos"))
	rec.Altitude = truncated(fl.find(NamespaceBase, "altitude"))
	rec.Speed = truncated(fl.find(NamespaceBase, "speed"))
	rec.Status = textOf(fl.find(NamespaceNAS, "fdpsFlightStatus"))
	if org := fl.find(NamespaceBase, "organization"); org != nil {
		rec.Operator = attrOf(org, "name")
	}
	return rec, true
}

func attrOf(e *element, name string) *string {
	v, ok := e.attr(name)
	if !ok {
		return nil
	}
	return &v
}

func textOf(e *element) *string {
	if e == nil || e.text == "" {
		return nil
	}
	s := e.text
	return &s
}

// position splits "lat lon". Anything other than exactly two numeric tokens
// leaves both coordinates unset.
func position(e *element) (lat, lon *float64) {
	txt := textOf(e)
	if txt == nil {
		return nil, nil
	}
	parts := strings.Fields(*txt)
	if len(parts) != 2 {
		return nil, nil
	}
	la, err := strconv.ParseFloat(parts[0], 64)
	if err != nil {
		return nil, nil
	}
	lo, err := strconv.ParseFloat(parts[1], 64)
	if err != nil {
		return nil, nil
	}
	return &la, &lo
}

// truncated parses a decimal value and drops the fraction toward zero.
// Non-numeric, infinite, NaN or out-of-range values yield nil.
func truncated(e *element) *int64 {
	txt := textOf(e)
	if txt == nil {
		return nil
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(*txt), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	t := math.Trunc(f)
	if t < math.MinInt64 || t >= math.MaxInt64 {
		return nil
	}
	n := int64(t)
	return &n
}
