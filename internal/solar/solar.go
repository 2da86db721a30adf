// Package solar computes the sun's altitude for a site and finds the moments
// it crosses a threshold, which drive the day/night automation mode.
package solar

import (
	"errors"
	"math"
	"time"
)

const (
	DegToRad = math.Pi / 180
	RadToDeg = 180 / math.Pi
)

// Altitude thresholds in degrees above the horizon.
const (
	AltitudeOfficial     = -50.0 / 60
	AltitudeCivil        = -6.0
	AltitudeNautical     = -12.0
	AltitudeAstronomical = -18.0
)

// ErrNoCrossing is returned when the sun does not cross a threshold within
// the search horizon (polar day or night).
var ErrNoCrossing = errors.New("solar: no crossing within horizon")

// Location is a point on the earth's surface in decimal degrees.
type Location struct {
	Latitude  float64
	Longitude float64
}

// Valid reports whether the coordinates are in range.
func (pos Location) Valid() bool {
	return pos.Latitude >= -90 && pos.Latitude <= 90 &&
		pos.Longitude >= -180 && pos.Longitude <= 180
}

// Altitude returns the solar elevation in degrees at t, using the NOAA
// general solar position approximation (accurate to well under a minute
// of transition time at temperate latitudes).
func (pos Location) Altitude(t time.Time) float64 {
	t = t.UTC()
	days := 365.0
	if y := t.Year(); y%4 == 0 && (y%100 != 0 || y%400 == 0) {
		days = 366
	}
	hour := float64(t.Hour()) + float64(t.Minute())/60 + (float64(t.Second())+float64(t.Nanosecond())/1e9)/3600

	// fractional year in radians
	g := 2 * math.Pi / days * (float64(t.YearDay()-1) + (hour-12)/24)

	eqTime := 229.18 * (0.000075 + 0.001868*math.Cos(g) - 0.032077*math.Sin(g) -
		0.014615*math.Cos(2*g) - 0.040849*math.Sin(2*g))
	decl := 0.006918 - 0.399912*math.Cos(g) + 0.070257*math.Sin(g) -
		0.006758*math.Cos(2*g) + 0.000907*math.Sin(2*g) -
		0.002697*math.Cos(3*g) + 0.00148*math.Sin(3*g)

	trueSolarMinutes := hour*60 + eqTime + 4*pos.Longitude
	hourAngle := (trueSolarMinutes/4 - 180) * DegToRad
	lat := pos.Latitude * DegToRad

	cosZenith := math.Sin(lat)*math.Sin(decl) + math.Cos(lat)*math.Cos(decl)*math.Cos(hourAngle)
	cosZenith = math.Max(-1, math.Min(1, cosZenith))
	return 90 - math.Acos(cosZenith)*RadToDeg
}

// Crossing is a moment the sun passes a threshold altitude.
type Crossing struct {
	At time.Time
	// Rising is true when the sun climbs through the threshold (dawn side).
	Rising bool
}

const (
	searchStep = time.Minute
	resolution = time.Second
)

// NextCrossing finds the first time after from at which the solar altitude
// crosses threshold, searching at most horizon ahead.
//
// Parameters:
//   - from: search start
//   - threshold: altitude in degrees
//   - horizon: maximum look-ahead (48h covers every non-polar case)
//
// Returns:
//   - Crossing: the crossing time, to one second, and its direction
//   - error: ErrNoCrossing if none falls inside the horizon
func (pos Location) NextCrossing(from time.Time, threshold float64, horizon time.Duration) (Crossing, error) {
	t := from
	below := pos.Altitude(t) < threshold
	end := from.Add(horizon)

	for t.Before(end) {
		next := t.Add(searchStep)
		nextBelow := pos.Altitude(next) < threshold
		if nextBelow != below {
			lo, hi := t, next
			for hi.Sub(lo) > resolution {
				mid := lo.Add(hi.Sub(lo) / 2)
				if (pos.Altitude(mid) < threshold) == below {
					lo = mid
				} else {
					hi = mid
				}
			}
			return Crossing{At: hi, Rising: below}, nil
		}
		t = next
	}
	return Crossing{}, ErrNoCrossing
}
