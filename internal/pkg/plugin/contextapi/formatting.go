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

package contextapi

import "fmt"

// EnrichmentFields lists every field the flattener may produce, in the
// order hosts display them
var EnrichmentFields = []string{
	"spur_ip",
	"spur_as_number",
	"spur_as_organization",
	"spur_organization",
	"spur_infrastructure",
	"spur_client_behaviors",
	"spur_client_concentration_country",
	"spur_client_concentration_city",
	"spur_client_concentration_geohash",
	"spur_client_concentration_density",
	"spur_client_concentration_skew",
	"spur_client_countries",
	"spur_client_spread",
	"spur_client_proxies",
	"spur_client_count",
	"spur_client_types",
	"spur_location_country",
	"spur_location_state",
	"spur_location_city",
	"spur_services",
	"spur_tunnels_type",
	"spur_tunnels_anonymous",
	"spur_tunnels_operator",
	"spur_risks",
	"spur_error",
}

func sub(data map[string]interface{}, key string) (map[string]interface{}, bool) {
	v, ok := data[key].(map[string]interface{})
	return v, ok
}

func pick(dst map[string]interface{}, dstKey string, src map[string]interface{}, srcKey string) {
	if v, ok := src[srcKey]; ok {
		dst[dstKey] = v
	} else {
		dst[dstKey] = ""
	}
}

// FormatForEnrichment flattens a nested context object into flat spur_*
// fields suitable for merging into an existing host event. An error payload
// short-circuits to just spur_ip and spur_error. Absent sections still
// produce their fields with empty values, so the host's field schema stays
// stable across lookups.
func FormatForEnrichment(data map[string]interface{}) map[string]interface{} {
	out := map[string]interface{}{}
	if v, ok := data["ip"]; ok {
		out["spur_ip"] = v
	}
	if v, ok := data["spur_error"]; ok {
		out["spur_error"] = v
		return out
	}

	if as, ok := sub(data, "as"); ok {
		if v, ok := as["number"]; ok {
			out["spur_as_number"] = v
		}
		if v, ok := as["organization"]; ok {
			out["spur_as_organization"] = v
		}
	} else {
		out["spur_as_number"] = ""
		out["spur_as_organization"] = ""
	}
	pick(out, "spur_organization", data, "organization")
	pick(out, "spur_infrastructure", data, "infrastructure")

	if client, ok := sub(data, "client"); ok {
		if v, ok := client["behaviors"]; ok {
			out["spur_client_behaviors"] = v
		} else {
			out["spur_client_behaviors"] = []interface{}{}
		}
		pick(out, "spur_client_countries", client, "countries")
		pick(out, "spur_client_spread", client, "spread")
		if v, ok := client["proxies"]; ok {
			out["spur_client_proxies"] = v
		} else {
			out["spur_client_proxies"] = []interface{}{}
		}
		pick(out, "spur_client_count", client, "count")
		if v, ok := client["types"]; ok {
			out["spur_client_types"] = v
		} else {
			out["spur_client_types"] = []interface{}{}
		}
		if conc, ok := sub(client, "concentration"); ok {
			pick(out, "spur_client_concentration_country", conc, "country")
			pick(out, "spur_client_concentration_city", conc, "city")
			pick(out, "spur_client_concentration_geohash", conc, "geohash")
			pick(out, "spur_client_concentration_density", conc, "density")
			pick(out, "spur_client_concentration_skew", conc, "skew")
		}
	} else {
		for _, f := range []string{
			"spur_client_behaviors", "spur_client_countries", "spur_client_spread",
			"spur_client_proxies", "spur_client_count", "spur_client_types",
			"spur_client_concentration_country", "spur_client_concentration_city",
			"spur_client_concentration_geohash", "spur_client_concentration_density",
			"spur_client_concentration_skew",
		} {
			out[f] = ""
		}
	}

	if location, ok := sub(data, "location"); ok {
		if v, ok := location["country"]; ok {
			out["spur_location_country"] = v
		}
		if v, ok := location["state"]; ok {
			out["spur_location_state"] = v
		}
		if v, ok := location["city"]; ok {
			out["spur_location_city"] = v
		}
	} else {
		out["spur_location_country"] = ""
		out["spur_location_state"] = ""
		out["spur_location_city"] = ""
	}
	pick(out, "spur_services", data, "services")

	if tunnels, ok := data["tunnels"].([]interface{}); ok {
		types := []interface{}{}
		anonymous := []interface{}{}
		operators := []interface{}{}
		for _, t := range tunnels {
			tunnel, ok := t.(map[string]interface{})
			if !ok {
				continue
			}
			if v, ok := tunnel["type"]; ok {
				types = append(types, v)
			}
			if v, ok := tunnel["anonymous"]; ok {
				anonymous = append(anonymous, fmt.Sprintf("%v", v))
			}
			if v, ok := tunnel["operator"]; ok {
				operators = append(operators, v)
			}
		}
		out["spur_tunnels_type"] = types
		out["spur_tunnels_anonymous"] = anonymous
		out["spur_tunnels_operator"] = operators
	} else {
		out["spur_tunnels_type"] = ""
		out["spur_tunnels_anonymous"] = ""
		out["spur_tunnels_operator"] = ""
	}
	if v, ok := data["risks"]; ok {
		out["spur_risks"] = v
	} else {
		out["spur_risks"] = []interface{}{}
	}
	return out
}
