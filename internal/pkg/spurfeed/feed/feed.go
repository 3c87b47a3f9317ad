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

// Package feed retrieves Spur feed metadata and release payloads.
package feed

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	log "github.com/spurintel/spurfeed/internal/pkg/shared/logger"
	"github.com/spurintel/spurfeed/internal/pkg/shared/str"
)

const (
	// DefaultBaseURL is the production feed endpoint
	DefaultBaseURL = "https://feeds.spur.us/v2"
	// TokenHeader carries the API token on every request
	TokenHeader = "TOKEN"
	// GenerationHeader identifies the stored release object generation
	GenerationHeader = "x-goog-generation"
	// GenerationDateHeader is the date stamped on the release by the feed service
	GenerationDateHeader = "x-feed-generation-date"
	// UnknownGeneration is used when the release generation cannot be resolved.
	// Two unknown generations never identify the same release.
	UnknownGeneration = "unknown"
)

// Type identifies a feed
type Type string

// Feed types served by the feed API
const (
	Anonymous                    Type = "anonymous"
	AnonymousIPv6                Type = "anonymous-ipv6"
	AnonymousResidential         Type = "anonymous-residential"
	AnonymousResidentialIPv6     Type = "anonymous-residential-ipv6"
	AnonymousResidentialRealtime Type = "anonymous-residential/realtime"
	IPGeo                        Type = "ipgeo"
)

// Types list all valid feed types
var Types = []Type{
	Anonymous,
	AnonymousIPv6,
	AnonymousResidential,
	AnonymousResidentialIPv6,
	AnonymousResidentialRealtime,
	IPGeo,
}

// Valid reports whether t is a recognized feed type
func (t Type) Valid() bool {
	for _, v := range Types {
		if t == v {
			return true
		}
	}
	return false
}

// Realtime reports whether t is a rolling-window variant rather than a dated release
func (t Type) Realtime() bool {
	return str.CaseInsensitiveContains(string(t), "realtime")
}

// Binary reports whether t is served as a single binary artifact instead of
// a record stream
func (t Type) Binary() bool {
	return t == IPGeo
}

// Metadata describes the current release of a feed as reported by the
// latest-pointer endpoint
type Metadata struct {
	Location    string `json:"location"`
	Date        string `json:"date"`
	GeneratedAt string `json:"generated_at"`
	AvailableAt string `json:"available_at"`
}

// Age returns the time elapsed since the release was generated
func (m Metadata) Age() (time.Duration, error) {
	epoch, err := str.TimeStampToUnix(m.GeneratedAt)
	if err != nil {
		return 0, err
	}
	return time.Since(time.Unix(epoch, 0)), nil
}

type latestResponse struct {
	JSON *Metadata `json:"json"`
	MMDB *Metadata `json:"mmdb"`
}

// Client fetches feed metadata and release payloads
type Client struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

// NewClient returns a Client for the given endpoint. A nil transport uses
// http.DefaultTransport.
func NewClient(baseURL, token string, transport http.RoundTripper) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &http.Client{}
	if transport != nil {
		c.Transport = transport
	}
	return &Client{BaseURL: baseURL, Token: token, HTTPClient: c}
}

func (c *Client) newRequest(method, url string) (*http.Request, error) {
	req, err := http.NewRequest(method, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set(TokenHeader, c.Token)
	return req, nil
}

// LatestMetadata retrieves the metadata of the current release for feed type t
func (c *Client) LatestMetadata(t Type) (md Metadata, err error) {
	url := strings.Join([]string{c.BaseURL, string(t), "latest"}, "/")
	log.Debug(log.M{Msg: "Requesting " + url, Feed: string(t)})

	req, err := c.newRequest(http.MethodGet, url)
	if err != nil {
		return
	}
	res, err := c.HTTPClient.Do(req)
	if err != nil {
		return
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		err = errors.New("feed metadata request returned HTTP status " + res.Status)
		return
	}
	var parsed latestResponse
	if err = json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return
	}
	entry := parsed.JSON
	if t.Binary() {
		entry = parsed.MMDB
	}
	if entry == nil {
		err = errors.New("feed metadata response has no entry for " + string(t))
		return
	}
	md = *entry
	return
}

// PayloadURL constructs the release payload URL from the metadata location.
// The realtime variant is served from an alternate path prefix, so a
// realtime/ segment in the location is stripped first.
func (c *Client) PayloadURL(t Type, md Metadata) string {
	location := md.Location
	if str.CaseInsensitiveContains(location, "realtime") {
		location = strings.Replace(location, "realtime/", "", 1)
	}
	return strings.Join([]string{c.BaseURL, string(t), location}, "/")
}

// OpenStream opens the release payload as a byte stream. The returned
// generation date comes from the response header and may be empty.
func (c *Client) OpenStream(t Type, md Metadata) (body io.ReadCloser, generationDate string, err error) {
	url := c.PayloadURL(t, md)
	log.Debug(log.M{Msg: "Requesting " + url, Feed: string(t)})

	req, err := c.newRequest(http.MethodGet, url)
	if err != nil {
		return
	}
	res, err := c.HTTPClient.Do(req)
	if err != nil {
		return
	}
	if res.StatusCode != http.StatusOK {
		res.Body.Close()
		err = errors.New("feed payload request returned HTTP status " + res.Status)
		return
	}
	body = res.Body
	generationDate = res.Header.Get(GenerationDateHeader)
	return
}

// DownloadToTemp fully materializes the release payload into a temporary
// file before any processing starts. The file name embeds the release
// identifier so concurrent feed types never collide. The partial file is
// removed on any failure.
func (c *Client) DownloadToTemp(t Type, md Metadata, identifier string) (tempPath string, err error) {
	body, _, err := c.OpenStream(t, md)
	if err != nil {
		return
	}
	defer body.Close()

	pattern := "spurfeed-" + str.SanitizePathComponent(string(t)) + "-" +
		str.SanitizePathComponent(identifier) + "-*.gz"
	f, err := os.CreateTemp(os.TempDir(), pattern)
	if err != nil {
		return
	}
	tempPath = f.Name()
	_, err = io.Copy(f, body)
	cerr := f.Close()
	if err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tempPath)
		tempPath = ""
		return
	}
	log.Debug(log.M{Msg: "Predownloaded feed payload to " + tempPath, Feed: string(t)})
	return
}
