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

// Package iplocation enriches records with location fields from the local
// Spur IP-geolocation database. Lookups never fail a batch: problems are
// reported in the spur_error field of the affected record.
package iplocation

import (
	"context"
	"encoding/json"
	"net"

	"github.com/spurintel/spurfeed/internal/pkg/shared/str"
	"github.com/spurintel/spurfeed/internal/pkg/spurfeed/geodb"
	"github.com/spurintel/spurfeed/pkg/enrich"
)

func init() {
	enrich.RegisterExtension(new(SpurIPLocation), "SpurIPLocation")
}

// FieldMapping resolves user-friendly selector names to enrichment field
// names
var FieldMapping = map[string]string{
	"country":                       "spur_location_country",
	"country_iso":                   "spur_location_country_iso",
	"country_geoname_id":            "spur_location_country_geoname_id",
	"subdivision":                   "spur_location_subdivision",
	"subdivision_geoname_id":        "spur_location_subdivision_geoname_id",
	"city":                          "spur_location_city",
	"city_geoname_id":               "spur_location_city_geoname_id",
	"continent":                     "spur_location_continent",
	"continent_code":                "spur_location_continent_code",
	"continent_geoname_id":          "spur_location_continent_geoname_id",
	"registered_country":            "spur_location_registered_country",
	"registered_country_iso":        "spur_location_registered_country_iso",
	"registered_country_geoname_id": "spur_location_registered_country_geoname_id",
	"latitude":                      "spur_location_latitude",
	"longitude":                     "spur_location_longitude",
	"accuracy_radius":               "spur_location_accuracy_radius",
	"timezone":                      "spur_location_timezone",
	"as_number":                     "spur_as_number",
	"as_organization":               "spur_as_organization",
	"error":                         "spur_error",
}

// EnrichmentFields lists every field this plugin may produce
var EnrichmentFields = []string{
	"spur_location_country",
	"spur_location_country_iso",
	"spur_location_country_geoname_id",
	"spur_location_subdivision",
	"spur_location_subdivision_geoname_id",
	"spur_location_city",
	"spur_location_city_geoname_id",
	"spur_location_continent",
	"spur_location_continent_code",
	"spur_location_continent_geoname_id",
	"spur_location_registered_country",
	"spur_location_registered_country_iso",
	"spur_location_registered_country_geoname_id",
	"spur_location_latitude",
	"spur_location_longitude",
	"spur_location_accuracy_radius",
	"spur_location_timezone",
	"spur_as_number",
	"spur_as_organization",
	"spur_error",
}

// Config is the JSON configuration for the IP-location enricher
type Config struct {
	DBPath string `json:"db_path"`
	// Fields is a comma-separated selection of friendly names from
	// FieldMapping; empty selects everything
	Fields string `json:"fields"`
}

// SpurIPLocation is an enrichment plugin backed by the local geo database
type SpurIPLocation struct {
	Cfg Config `json:"cfg"`

	// Reader may be pre-set by the host; Initialize opens Cfg.DBPath
	// otherwise
	Reader geodb.Reader

	selected map[string]bool
}

// Initialize implement iface
func (s *SpurIPLocation) Initialize(b []byte) (err error) {
	if err = json.Unmarshal(b, &s.Cfg); err != nil {
		return
	}
	s.selected = ParseFieldsOption(s.Cfg.Fields)
	if s.Reader == nil {
		s.Reader, err = geodb.Open(s.Cfg.DBPath)
	}
	return
}

// ParseFieldsOption resolves a comma-separated field selection against
// FieldMapping. Unknown names are ignored, a full field name passes
// through, and spur_error is always included. An empty selection means
// all fields.
func ParseFieldsOption(fields string) map[string]bool {
	selected := map[string]bool{}
	if fields == "" {
		for _, f := range EnrichmentFields {
			selected[f] = true
		}
		return selected
	}
	for _, name := range str.CsvToSlice(fields) {
		if full, ok := FieldMapping[name]; ok {
			selected[full] = true
			continue
		}
		for _, f := range EnrichmentFields {
			if f == name {
				selected[f] = true
				break
			}
		}
	}
	selected["spur_error"] = true
	return selected
}

// Lookup implement iface
func (s *SpurIPLocation) Lookup(ctx context.Context, term string) (fields map[string]interface{}, err error) {
	parsed := net.ParseIP(term)
	if parsed == nil {
		return s.populate(geodb.Location{}, "Invalid IP address "+term), nil
	}
	loc, lerr := s.Reader.Lookup(parsed)
	if lerr != nil {
		return s.populate(geodb.Location{}, "Error looking up ip "+term+": "+lerr.Error()), nil
	}
	return s.populate(loc, ""), nil
}

func (s *SpurIPLocation) populate(loc geodb.Location, errMsg string) map[string]interface{} {
	values := map[string]interface{}{
		"spur_location_country":                       loc.Country,
		"spur_location_country_iso":                   loc.CountryISO,
		"spur_location_country_geoname_id":            loc.CountryGeonameID,
		"spur_location_subdivision":                   loc.Subdivision,
		"spur_location_subdivision_geoname_id":        loc.SubdivisionGeonameID,
		"spur_location_city":                          loc.City,
		"spur_location_city_geoname_id":               loc.CityGeonameID,
		"spur_location_continent":                     loc.Continent,
		"spur_location_continent_code":                loc.ContinentCode,
		"spur_location_continent_geoname_id":          loc.ContinentGeonameID,
		"spur_location_registered_country":            loc.RegisteredCountry,
		"spur_location_registered_country_iso":        loc.RegisteredCountryISO,
		"spur_location_registered_country_geoname_id": loc.RegisteredCountryGeonameID,
		"spur_location_latitude":                      loc.Latitude,
		"spur_location_longitude":                     loc.Longitude,
		"spur_location_accuracy_radius":               loc.AccuracyRadius,
		"spur_location_timezone":                      loc.Timezone,
		"spur_as_number":                              loc.ASNumber,
		"spur_as_organization":                        loc.ASOrganization,
	}
	out := map[string]interface{}{}
	for f, v := range values {
		if s.selected[f] {
			out[f] = v
		}
	}
	if s.selected["spur_error"] {
		out["spur_error"] = errMsg
	}
	return out
}
