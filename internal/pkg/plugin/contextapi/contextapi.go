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

// Package contextapi enriches records with per-IP context from the Spur
// Context-API.
package contextapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"sync"

	"github.com/spurintel/spurfeed/internal/pkg/shared/apm"
	"github.com/spurintel/spurfeed/internal/pkg/shared/cache"
	"github.com/spurintel/spurfeed/internal/pkg/shared/ip"
	"github.com/spurintel/spurfeed/internal/pkg/shared/limiter"
	log "github.com/spurintel/spurfeed/internal/pkg/shared/logger"
	"github.com/spurintel/spurfeed/internal/pkg/spurfeed/notify"
	"github.com/spurintel/spurfeed/pkg/enrich"
)

func init() {
	enrich.RegisterExtension(new(SpurContext), "SpurContext")
}

const (
	// DefaultBaseURL is the production Context-API endpoint
	DefaultBaseURL = "https://api.spur.us/v2/context"
	// BalanceHeader reports the remaining query balance after each lookup
	BalanceHeader = "x-balance-remaining"
	// DefaultLowBalanceThreshold triggers the low-balance notification
	DefaultLowBalanceThreshold = 1000
)

// Config is the JSON configuration for the Context-API enricher
type Config struct {
	URL                  string `json:"url"`
	Token                string `json:"token"`
	CacheDurationMinutes int    `json:"cache_duration_minutes"`
	MaxQueriesPerSec     int    `json:"max_queries_per_sec"`
	MinQueriesPerSec     int    `json:"min_queries_per_sec"`
	LowBalanceThreshold  int    `json:"low_balance_threshold"`
	SkipPrivateIP        bool   `json:"skip_private_ip"`
}

// SpurContext is an enrichment plugin backed by the Spur Context-API
type SpurContext struct {
	Cfg Config `json:"cfg"`

	Transport http.RoundTripper
	Notifier  notify.Notifier

	cl       *http.Client
	cc       *cache.Cache
	lim      *limiter.Limiter
	mu       sync.Mutex
	notified bool
}

// Initialize implement iface
func (s *SpurContext) Initialize(b []byte) (err error) {
	if err = json.Unmarshal(b, &s.Cfg); err != nil {
		return
	}
	if s.Cfg.Token == "" {
		return errors.New("no Context-API token configured")
	}
	if s.Cfg.URL == "" {
		s.Cfg.URL = DefaultBaseURL
	}
	if s.Cfg.LowBalanceThreshold == 0 {
		s.Cfg.LowBalanceThreshold = DefaultLowBalanceThreshold
	}
	if s.Cfg.MaxQueriesPerSec == 0 {
		s.Cfg.MaxQueriesPerSec = 10
	}
	if s.Cfg.MinQueriesPerSec == 0 {
		s.Cfg.MinQueriesPerSec = 1
	}
	s.cc, err = cache.New("contextapi", s.Cfg.CacheDurationMinutes, 0)
	if err != nil {
		return
	}
	s.lim, err = limiter.New(s.Cfg.MaxQueriesPerSec, s.Cfg.MinQueriesPerSec)
	if err != nil {
		return
	}
	s.cl = &http.Client{}
	if s.Transport != nil {
		s.cl.Transport = s.Transport
	}
	return
}

// Lookup implement iface. The returned fields are the flattened spur_*
// enrichment for term; a lookup the API rejects still succeeds, carrying
// the rejection in spur_error, so one bad address never aborts a batch.
func (s *SpurContext) Lookup(ctx context.Context, term string) (fields map[string]interface{}, err error) {
	priv, err := ip.IsPrivateIP(term)
	if err != nil {
		return nil, err
	}
	if priv && s.Cfg.SkipPrivateIP {
		log.Debug(log.M{Msg: "Skipping Context-API lookup for private address " + term})
		return map[string]interface{}{}, nil
	}

	if v, cerr := s.cc.Get(term); cerr == nil {
		var cached map[string]interface{}
		if json.Unmarshal(v, &cached) == nil {
			return cached, nil
		}
	}

	if err = s.lim.Wait(ctx); err != nil {
		return
	}

	var tx *apm.Transaction
	if apm.Enabled() {
		tx = apm.StartTransaction("context lookup", "spurfeed_enrich", nil)
		tx.SetCustom("term", term)
		defer tx.End()
	}

	raw, balance, err := s.query(ctx, term)
	if err != nil {
		if tx != nil {
			tx.SetError(err)
			tx.Result("failed")
		}
		return
	}
	if tx != nil {
		tx.Result("success")
	}
	s.checkBalance(balance)

	// the response echoes the queried ip, the flattener turns it into
	// spur_ip
	fields = FormatForEnrichment(raw)
	if b, jerr := json.Marshal(fields); jerr == nil {
		s.cc.Set(term, b)
	}
	return
}

func (s *SpurContext) query(ctx context.Context, term string) (raw map[string]interface{}, balance int, err error) {
	url := s.Cfg.URL + "/" + term
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return
	}
	req = req.WithContext(ctx)
	req.Header.Set("TOKEN", s.Cfg.Token)
	req.Header.Set("Accept", "application/json")

	res, err := s.cl.Do(req)
	if err != nil {
		return
	}
	defer res.Body.Close()

	balance = -1
	if v := res.Header.Get(BalanceHeader); v != "" {
		if n, perr := strconv.Atoi(v); perr == nil {
			balance = n
		}
	}

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return
	}
	if res.StatusCode != http.StatusOK {
		msg := "Error for ip " + term + ", HTTP status " + res.Status
		var parsed struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(body, &parsed) == nil && parsed.Error != "" {
			msg = msg + ": " + parsed.Error
		}
		log.Warn(log.M{Msg: msg})
		raw = map[string]interface{}{"ip": term, "spur_error": msg}
		return
	}
	raw = map[string]interface{}{}
	err = json.Unmarshal(body, &raw)
	return
}

// checkBalance notifies once per plugin lifetime and throttles the query
// rate when the remaining balance drops below the threshold
func (s *SpurContext) checkBalance(balance int) {
	if balance < 0 || balance >= s.Cfg.LowBalanceThreshold {
		return
	}
	s.lim.Lower()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.notified {
		return
	}
	s.notified = true
	n := s.Notifier
	if n == nil {
		n = notify.LogNotifier{}
	}
	n.Notify(notify.Warn, "Spur Context-API balance is low",
		strconv.Itoa(balance)+" queries remaining")
}
