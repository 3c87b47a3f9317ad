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

// Package lockmgr serializes feed processing across process instances with
// an exclusive, non-blocking file lock per feed type.
package lockmgr

import (
	"encoding/json"
	"os"
	"path"
	"strconv"
	"time"

	"github.com/gofrs/flock"

	"github.com/spurintel/spurfeed/internal/pkg/shared/fs"
	log "github.com/spurintel/spurfeed/internal/pkg/shared/logger"
	"github.com/spurintel/spurfeed/internal/pkg/shared/proc"
	"github.com/spurintel/spurfeed/internal/pkg/shared/str"
	"github.com/spurintel/spurfeed/internal/pkg/spurfeed/feed"
)

// DefaultMaxAge is the staleness threshold after which a lock left behind by
// a crashed holder is reclaimed
const DefaultMaxAge = 24 * time.Hour

// Manager acquires and releases per feed-type locks under Dir
type Manager struct {
	Dir    string
	MaxAge time.Duration
}

// Handle represents a held lock
type Handle struct {
	feedType feed.Type
	path     string
	fl       *flock.Flock
}

type holderInfo struct {
	PID       int    `json:"pid"`
	Timestamp int64  `json:"timestamp"`
	ISOTime   string `json:"iso_time"`
}

func (m Manager) maxAge() time.Duration {
	if m.MaxAge == 0 {
		return DefaultMaxAge
	}
	return m.MaxAge
}

// LockPath derives the lock file path for a feed type
func (m Manager) LockPath(t feed.Type) string {
	return path.Join(m.Dir, str.SanitizePathComponent(string(t))+".lock")
}

// IsStale reports whether the lock file for t is absent or older than the
// staleness threshold. An absent lock is trivially acquirable and therefore
// stale.
func (m Manager) IsStale(t feed.Type) bool {
	fi, err := os.Stat(m.LockPath(t))
	if err != nil {
		return true
	}
	return time.Since(fi.ModTime()) > m.maxAge()
}

// CleanupStale removes the lock file for t when its modification time is
// older than the staleness threshold, recovering from a holder that crashed
// without releasing.
func (m Manager) CleanupStale(t feed.Type) {
	p := m.LockPath(t)
	fi, err := os.Stat(p)
	if err != nil {
		return
	}
	if time.Since(fi.ModTime()) <= m.maxAge() {
		return
	}
	if b, err := os.ReadFile(p); err == nil {
		var h holderInfo
		if json.Unmarshal(b, &h) == nil && h.PID != 0 && proc.IsAlive(h.PID) {
			log.Warn(log.M{Msg: "Reclaiming stale lock still attributed to running pid " +
				strconv.Itoa(h.PID), Feed: string(t)})
		}
	}
	if err := os.Remove(p); err != nil {
		log.Warn(log.M{Msg: "Cannot remove stale lock " + p + ": " + err.Error(), Feed: string(t)})
		return
	}
	log.Info(log.M{Msg: "Removed stale lock " + p, Feed: string(t)})
}

// Acquire attempts a non-blocking exclusive lock for t. A nil handle with a
// nil error means the lock is held elsewhere and this run should be skipped,
// which is expected under overlapping schedules.
func (m Manager) Acquire(t feed.Type) (*Handle, error) {
	if err := fs.EnsureDir(m.Dir); err != nil {
		return nil, err
	}
	m.CleanupStale(t)

	p := m.LockPath(t)
	fl := flock.New(p)
	locked, err := fl.TryLock()
	if err != nil {
		return nil, err
	}
	if !locked {
		log.Debug(log.M{Msg: "Lock " + p + " held elsewhere", Feed: string(t)})
		return nil, nil
	}

	now := time.Now()
	h := holderInfo{
		PID:       proc.GetProcID(),
		Timestamp: now.Unix(),
		ISOTime:   now.UTC().Format(time.RFC3339),
	}
	// holder metadata is for diagnostics only
	if b, err := json.Marshal(h); err == nil {
		if err := fs.OverwriteFileBytes(b, p); err != nil {
			log.Warn(log.M{Msg: "Cannot write lock holder info: " + err.Error(), Feed: string(t)})
		}
	}
	log.Debug(log.M{Msg: "Acquired lock " + p, Feed: string(t)})
	return &Handle{feedType: t, path: p, fl: fl}, nil
}

// Release unlocks and deletes the lock file. Failures are logged, never
// escalated.
func (m Manager) Release(h *Handle) {
	if h == nil {
		return
	}
	if err := h.fl.Unlock(); err != nil {
		log.Warn(log.M{Msg: "Cannot unlock " + h.path + ": " + err.Error(), Feed: string(h.feedType)})
	}
	if err := os.Remove(h.path); err != nil && !os.IsNotExist(err) {
		log.Warn(log.M{Msg: "Cannot remove lock file " + h.path + ": " + err.Error(), Feed: string(h.feedType)})
	}
	log.Debug(log.M{Msg: "Released lock " + h.path, Feed: string(h.feedType)})
}
