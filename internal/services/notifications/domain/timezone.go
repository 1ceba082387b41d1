package domain

import (
	"strings"
	"sync"
	"time"
	_ "time/tzdata"
)

// City is the user-selected home city that drives display timezones.
type City string

const (
	CityUnknown   City = ""
	CityParis     City = "PARIS"
	CityLondon    City = "LONDON"
	CityNewYork   City = "NEW_YORK"
	CityJerusalem City = "JERUSALEM"
)

// DefaultZoneID is used for users without a recognised city.
const DefaultZoneID = "UTC"

var cityZones = map[City]string{
	CityParis:     "Europe/Paris",
	CityLondon:    "Europe/London",
	CityNewYork:   "America/New_York",
	CityJerusalem: "Asia/Jerusalem",
}

var (
	zoneMu    sync.Mutex
	zoneCache = map[string]*time.Location{}
)

// ParseCity maps a stored token to a City; "new york" and "NEW_YORK" both match.
func ParseCity(raw string) City {
	c := City(strings.ReplaceAll(strings.ToUpper(strings.TrimSpace(raw)), " ", "_"))
	if _, ok := cityZones[c]; ok {
		return c
	}
	return CityUnknown
}

// ZoneID returns the IANA zone for city, or DefaultZoneID.
func ZoneID(city City) string {
	if zone, ok := cityZones[city]; ok {
		return zone
	}
	return DefaultZoneID
}

// Location returns the loaded zone for city. Zones come from the embedded
// tzdata, so lookups only fall back to UTC for unknown cities.
func Location(city City) *time.Location {
	zone := ZoneID(city)

	zoneMu.Lock()
	defer zoneMu.Unlock()
	if loc, ok := zoneCache[zone]; ok {
		return loc
	}
	loc, err := time.LoadLocation(zone)
	if err != nil {
		loc = time.UTC
	}
	zoneCache[zone] = loc
	return loc
}

// LocalTime converts an instant to the wall clock of city.
func LocalTime(t time.Time, city City) time.Time {
	return t.In(Location(city))
}
