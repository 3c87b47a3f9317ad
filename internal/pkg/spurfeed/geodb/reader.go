// Copyright (c) 2024 Spur Intelligence Corp and contributors, All rights reserved.
//
// This file is part of Spurfeed.
//
// Spurfeed is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation version 3 of the License.
//
// Spurfeed is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with Spurfeed. If not, see <https://www.gnu.org/licenses/>.

// Package geodb maintains and reads the local Spur IP-geolocation database.
package geodb

import (
	"errors"
	"net"

	"github.com/oschwald/geoip2-golang"
	"github.com/oschwald/maxminddb-golang"
)

// Location is one geolocation lookup result
type Location struct {
	Country                    string
	CountryISO                 string
	CountryGeonameID           uint
	Subdivision                string
	SubdivisionGeonameID       uint
	City                       string
	CityGeonameID              uint
	Continent                  string
	ContinentCode              string
	ContinentGeonameID         uint
	RegisteredCountry          string
	RegisteredCountryISO       string
	RegisteredCountryGeonameID uint
	Latitude                   float64
	Longitude                  float64
	AccuracyRadius             uint16
	Timezone                   string
	ASNumber                   uint
	ASOrganization             string
}

// Reader answers point lookups against a local geolocation database
type Reader interface {
	Lookup(ip net.IP) (Location, error)
	Close() error
}

// Open returns a reader for the database at path. The raw maxminddb adapter
// is preferred since it can decode Spur's own mmdb extensions; the geoip2
// adapter remains for hosts that drop in a stock City database, selected
// with OpenGeoIP2.
func Open(path string) (Reader, error) {
	mr, err := maxminddb.Open(path)
	if err != nil {
		return nil, err
	}
	return &maxmindReader{r: mr}, nil
}

// OpenGeoIP2 returns a reader backed by the geoip2 City decoder
func OpenGeoIP2(path string) (Reader, error) {
	gr, err := geoip2.Open(path)
	if err != nil {
		return nil, err
	}
	return &geoip2Reader{r: gr}, nil
}

type geoip2Reader struct {
	r *geoip2.Reader
}

func (g *geoip2Reader) Lookup(ip net.IP) (loc Location, err error) {
	if ip == nil {
		err = errors.New("invalid IP address")
		return
	}
	rec, err := g.r.City(ip)
	if err != nil {
		return
	}
	loc.Country = rec.Country.Names["en"]
	loc.CountryISO = rec.Country.IsoCode
	loc.CountryGeonameID = rec.Country.GeoNameID
	if len(rec.Subdivisions) > 0 {
		sub := rec.Subdivisions[len(rec.Subdivisions)-1]
		loc.Subdivision = sub.Names["en"]
		loc.SubdivisionGeonameID = sub.GeoNameID
	}
	loc.City = rec.City.Names["en"]
	loc.CityGeonameID = rec.City.GeoNameID
	loc.Continent = rec.Continent.Names["en"]
	loc.ContinentCode = rec.Continent.Code
	loc.ContinentGeonameID = rec.Continent.GeoNameID
	loc.RegisteredCountry = rec.RegisteredCountry.Names["en"]
	loc.RegisteredCountryISO = rec.RegisteredCountry.IsoCode
	loc.RegisteredCountryGeonameID = rec.RegisteredCountry.GeoNameID
	loc.Latitude = rec.Location.Latitude
	loc.Longitude = rec.Location.Longitude
	loc.AccuracyRadius = rec.Location.AccuracyRadius
	loc.Timezone = rec.Location.TimeZone
	return
}

func (g *geoip2Reader) Close() error {
	return g.r.Close()
}

type maxmindReader struct {
	r *maxminddb.Reader
}

type mmdbNamed struct {
	Names     map[string]string `maxminddb:"names"`
	GeonameID uint              `maxminddb:"geoname_id"`
	ISOCode   string            `maxminddb:"iso_code"`
	Code      string            `maxminddb:"code"`
}

type mmdbRecord struct {
	City              mmdbNamed   `maxminddb:"city"`
	Subdivisions      []mmdbNamed `maxminddb:"subdivisions"`
	Country           mmdbNamed   `maxminddb:"country"`
	Continent         mmdbNamed   `maxminddb:"continent"`
	RegisteredCountry mmdbNamed   `maxminddb:"registered_country"`
	Location          struct {
		Latitude       float64 `maxminddb:"latitude"`
		Longitude      float64 `maxminddb:"longitude"`
		AccuracyRadius uint16  `maxminddb:"accuracy_radius"`
		TimeZone       string  `maxminddb:"time_zone"`
	} `maxminddb:"location"`
	// Spur-specific extension carrying AS attribution
	Spur struct {
		AS struct {
			Number       uint   `maxminddb:"number"`
			Organization string `maxminddb:"organization"`
		} `maxminddb:"as"`
	} `maxminddb:"spur"`
}

func (m *maxmindReader) Lookup(ip net.IP) (loc Location, err error) {
	if ip == nil {
		err = errors.New("invalid IP address")
		return
	}
	var rec mmdbRecord
	if err = m.r.Lookup(ip, &rec); err != nil {
		return
	}
	loc.Country = rec.Country.Names["en"]
	loc.CountryISO = rec.Country.ISOCode
	loc.CountryGeonameID = rec.Country.GeonameID
	if len(rec.Subdivisions) > 0 {
		loc.Subdivision = rec.Subdivisions[0].Names["en"]
		loc.SubdivisionGeonameID = rec.Subdivisions[0].GeonameID
	}
	loc.City = rec.City.Names["en"]
	loc.CityGeonameID = rec.City.GeonameID
	loc.Continent = rec.Continent.Names["en"]
	loc.ContinentCode = rec.Continent.Code
	loc.ContinentGeonameID = rec.Continent.GeonameID
	loc.RegisteredCountry = rec.RegisteredCountry.Names["en"]
	loc.RegisteredCountryISO = rec.RegisteredCountry.ISOCode
	loc.RegisteredCountryGeonameID = rec.RegisteredCountry.GeonameID
	loc.Latitude = rec.Location.Latitude
	loc.Longitude = rec.Location.Longitude
	loc.AccuracyRadius = rec.Location.AccuracyRadius
	loc.Timezone = rec.Location.TimeZone
	loc.ASNumber = rec.Spur.AS.Number
	loc.ASOrganization = rec.Spur.AS.Organization
	return
}

func (m *maxmindReader) Close() error {
	return m.r.Close()
}
