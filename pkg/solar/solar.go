package solar

import (
	"fmt"
	"math"
	"time"
)

// Altitudes of the sun's centre, in degrees, that define each event.
const (
	// Sunrise/sunset: geometric horizon plus refraction and solar radius.
	HorizonAltitude = -0.833
	// Dawn/dusk: civil twilight.
	CivilAltitude = -6.0
)

const (
	julianUnixEpoch = 2440587.5
	julian2000      = 2451545.0
	obliquity       = 23.4397
	perihelion      = 102.9372
)

// Location is the observer position used to compute solar events.
type Location struct {
	Latitude  float64
	Longitude float64
	Elevation float64 // metres above sea level
	Timezone  *time.Location
}

// Events holds the four reference instants of one local day.
type Events struct {
	Dawn    time.Time
	Sunrise time.Time
	Sunset  time.Time
	Dusk    time.Time
}

// NoSolarEventError is returned when the sun never crosses the altitude of an
// event on the requested day (polar day or polar night).
type NoSolarEventError struct {
	Event    string
	Date     string
	Latitude float64
}

func (e *NoSolarEventError) Error() string {
	return fmt.Sprintf("no %s on %s at latitude %.4f", e.Event, e.Date, e.Latitude)
}

// EventsOn computes dawn, sunrise, sunset and dusk for the calendar day that
// contains day in the location's timezone.
func EventsOn(loc Location, day time.Time) (Events, error) {
	tz := loc.Timezone
	if tz == nil {
		tz = time.UTC
	}
	local := day.In(tz)
	noon := time.Date(local.Year(), local.Month(), local.Day(), 12, 0, 0, 0, tz)
	date := noon.Format("2006-01-02")

	// Mean solar noon at this longitude, in days since J2000, closest to local noon.
	n := math.Round(toJulian(noon) - julian2000 + loc.Longitude/360)
	meanNoon := n - loc.Longitude/360

	m := normalizeDegrees(357.5291 + 0.98560028*meanNoon)
	mRad := rad(m)
	center := 1.9148*math.Sin(mRad) + 0.0200*math.Sin(2*mRad) + 0.0003*math.Sin(3*mRad)
	lambda := rad(normalizeDegrees(m + center + 180 + perihelion))
	transit := julian2000 + meanNoon + 0.0053*math.Sin(mRad) - 0.0069*math.Sin(2*lambda)
	declination := math.Asin(math.Sin(lambda) * math.Sin(rad(obliquity)))

	dip := 0.0
	if loc.Elevation > 0 {
		dip = 2.076 * math.Sqrt(loc.Elevation) / 60
	}

	pair := func(event string, altitude float64) (time.Time, time.Time, error) {
		h0 := rad(altitude - dip)
		lat := rad(loc.Latitude)
		cosOmega := (math.Sin(h0) - math.Sin(lat)*math.Sin(declination)) / (math.Cos(lat) * math.Cos(declination))
		if cosOmega < -1 || cosOmega > 1 || math.IsNaN(cosOmega) {
			return time.Time{}, time.Time{}, &NoSolarEventError{Event: event, Date: date, Latitude: loc.Latitude}
		}
		omega := deg(math.Acos(cosOmega)) / 360
		return fromJulian(transit - omega).In(tz), fromJulian(transit + omega).In(tz), nil
	}

	var ev Events
	var err error
	if ev.Sunrise, ev.Sunset, err = pair("sunrise", HorizonAltitude); err != nil {
		return Events{}, err
	}
	if ev.Dawn, ev.Dusk, err = pair("dawn", CivilAltitude); err != nil {
		return Events{}, err
	}
	return ev, nil
}

func toJulian(t time.Time) float64 {
	return float64(t.UnixNano())/float64(24*time.Hour) + julianUnixEpoch
}

func fromJulian(j float64) time.Time {
	ns := (j - julianUnixEpoch) * float64(24*time.Hour)
	return time.Unix(0, int64(ns)).Truncate(time.Second)
}

func normalizeDegrees(d float64) float64 {
	d = math.Mod(d, 360)
	if d < 0 {
		d += 360
	}
	return d
}

func rad(d float64) float64 { return d * math.Pi / 180 }
func deg(r float64) float64 { return r * 180 / math.Pi }
