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

package feed

import (
	"net/http"

	log "github.com/spurintel/spurfeed/internal/pkg/shared/logger"
)

// ResolveGeneration determines a stable identifier for the release described
// by md, independent of its storage location. It first probes the payload
// URL with a metadata-only HEAD request, then falls back to a ranged GET for
// the first byte. When neither yields a generation header the literal
// UnknownGeneration is returned, which callers must treat as never matching
// a previously seen release.
func (c *Client) ResolveGeneration(t Type, md Metadata) string {
	url := c.PayloadURL(t, md)

	if gen := c.probeGeneration(t, http.MethodHead, url, false); gen != "" {
		return gen
	}
	if gen := c.probeGeneration(t, http.MethodGet, url, true); gen != "" {
		return gen
	}
	log.Warn(log.M{Msg: "Cannot resolve release generation, treating as a new release", Feed: string(t)})
	return UnknownGeneration
}

func (c *Client) probeGeneration(t Type, method, url string, ranged bool) string {
	req, err := c.newRequest(method, url)
	if err != nil {
		return ""
	}
	if ranged {
		req.Header.Set("Range", "bytes=0-0")
	}
	res, err := c.HTTPClient.Do(req)
	if err != nil {
		log.Debug(log.M{Msg: "Generation probe " + method + " failed: " + err.Error(), Feed: string(t)})
		return ""
	}
	defer res.Body.Close()
	if res.StatusCode >= http.StatusBadRequest {
		log.Debug(log.M{Msg: "Generation probe " + method + " returned HTTP status " + res.Status, Feed: string(t)})
		return ""
	}
	return res.Header.Get(GenerationHeader)
}
