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

// Package proxy discovers outbound proxy settings, preferring values from
// the host configuration over the process environment.
package proxy

import (
	"net/http"
	"net/url"
	"os"
)

// Settings holds the discovered proxy URLs per scheme
type Settings struct {
	HTTP  string
	HTTPS string
}

// Discover returns proxy settings, using the host-provided values when set
// and the process environment otherwise
func Discover(httpProxy, httpsProxy string) Settings {
	s := Settings{HTTP: httpProxy, HTTPS: httpsProxy}
	if s.HTTP == "" {
		s.HTTP = os.Getenv("HTTP_PROXY")
	}
	if s.HTTPS == "" {
		s.HTTPS = os.Getenv("HTTPS_PROXY")
	}
	return s
}

// ProxyFunc returns a function suitable for use as http.Transport.Proxy
func (s Settings) ProxyFunc() func(*http.Request) (*url.URL, error) {
	if s.HTTP == "" && s.HTTPS == "" {
		return http.ProxyFromEnvironment
	}
	return func(req *http.Request) (*url.URL, error) {
		switch req.URL.Scheme {
		case "https":
			if s.HTTPS != "" {
				return url.Parse(s.HTTPS)
			}
		case "http":
			if s.HTTP != "" {
				return url.Parse(s.HTTP)
			}
		}
		return nil, nil
	}
}

// Transport returns an http.Transport that routes through the discovered proxies
func (s Settings) Transport() *http.Transport {
	return &http.Transport{Proxy: s.ProxyFunc()}
}
