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

// Package checkpoint persists per-release ingest progress so that a run can
// resume after a crash without re-emitting already delivered records.
package checkpoint

import (
	"encoding/json"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spurintel/spurfeed/internal/pkg/shared/fs"
	log "github.com/spurintel/spurfeed/internal/pkg/shared/logger"
	"github.com/spurintel/spurfeed/internal/pkg/shared/str"
	"github.com/spurintel/spurfeed/internal/pkg/spurfeed/feed"
)

// Checkpoint records progress for one (feed type, release identifier) pair
type Checkpoint struct {
	Offset          int64         `json:"offset"`
	StartTime       int64         `json:"start_time,omitempty"`
	EndTime         int64         `json:"end_time,omitempty"`
	CompletedDate   string        `json:"completed_date,omitempty"`
	LastTouchedDate string        `json:"last_touched_date"`
	FeedMetadata    feed.Metadata `json:"feed_metadata"`
	FeedIdentifier  string        `json:"feed_identifier"`
	FeedDate        string        `json:"feed_date"`
}

// Store reads and writes checkpoint files under a single directory.
// Writers must hold the feed-type lock; readers without the lock get
// diagnostics only, not correctness guarantees.
type Store struct {
	Dir     string
	Enabled bool
}

// FilePath derives the checkpoint file path for a feed type and release
// identifier. An empty identifier yields the legacy per-feed-type path.
func (s Store) FilePath(t feed.Type, identifier string) string {
	name := str.SanitizePathComponent(string(t))
	if identifier != "" {
		name = name + "-" + str.SanitizePathComponent(identifier)
	}
	return path.Join(s.Dir, name+".json")
}

// Read returns the checkpoint for the given feed type and identifier.
// A disabled store, a missing file, and an unparseable file all read as
// "no checkpoint": the caller starts fresh, never fails.
func (s Store) Read(t feed.Type, identifier string) (cp Checkpoint, ok bool) {
	if !s.Enabled {
		return
	}
	p := s.FilePath(t, identifier)
	b, err := os.ReadFile(p)
	if err != nil {
		return
	}
	if err := json.Unmarshal(b, &cp); err != nil {
		log.Warn(log.M{Msg: "Cannot parse checkpoint file " + p + ", starting fresh: " + err.Error(), Feed: string(t)})
		cp = Checkpoint{}
		return
	}
	log.Debug(log.M{Msg: "Found checkpoint " + p + " at offset " + offsetString(cp.Offset), Feed: string(t)})
	ok = true
	return
}

// Write persists cp as a whole-file overwrite. The feed-type lock makes the
// store single-writer, so no multi-step write protocol is needed. A write
// that would regress a previously persisted offset for the same release is
// dropped.
func (s Store) Write(t feed.Type, identifier string, cp Checkpoint) error {
	if !s.Enabled {
		return nil
	}
	p := s.FilePath(t, identifier)
	if prev, ok := s.Read(t, identifier); ok {
		if prev.FeedIdentifier == cp.FeedIdentifier && prev.Offset > cp.Offset {
			log.Warn(log.M{Msg: "Dropping checkpoint write that would regress offset " +
				offsetString(prev.Offset) + " to " + offsetString(cp.Offset), Feed: string(t)})
			return nil
		}
	}
	if err := fs.EnsureDir(s.Dir); err != nil {
		return err
	}
	b, err := json.Marshal(cp)
	if err != nil {
		return err
	}
	return fs.OverwriteFileBytes(b, p)
}

// Remove deletes the checkpoint file for the given feed type and identifier
func (s Store) Remove(t feed.Type, identifier string) {
	if !s.Enabled {
		return
	}
	p := s.FilePath(t, identifier)
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		log.Warn(log.M{Msg: "Cannot remove checkpoint file " + p + ": " + err.Error(), Feed: string(t)})
	}
}

// CleanupSuperseded deletes checkpoint files for the same feed type that
// carry a different identifier, plus the legacy file without an identifier
// suffix, bounding storage growth once a new release is observed.
func (s Store) CleanupSuperseded(t feed.Type, keepIdentifier string) {
	if !s.Enabled {
		return
	}
	base := str.SanitizePathComponent(string(t))
	matches, err := filepath.Glob(path.Join(s.Dir, base+"*.json"))
	if err != nil {
		return
	}
	keep := s.FilePath(t, keepIdentifier)
	for _, m := range matches {
		if m == keep {
			continue
		}
		// glob may catch longer feed-type names sharing the prefix, e.g.
		// anonymous vs anonymous-ipv6
		rest := strings.TrimSuffix(path.Base(m), ".json")
		rest = strings.TrimPrefix(rest, base)
		if rest != "" && !strings.HasPrefix(rest, "-") {
			continue
		}
		if isOtherFeedType(t, rest) {
			continue
		}
		if err := os.Remove(m); err != nil {
			log.Warn(log.M{Msg: "Cannot remove superseded checkpoint " + m + ": " + err.Error(), Feed: string(t)})
			continue
		}
		log.Debug(log.M{Msg: "Removed superseded checkpoint " + m, Feed: string(t)})
	}
}

// isOtherFeedType reports whether suffix completes base into a different
// valid feed type name, with or without an identifier, rather than an
// identifier suffix of this feed type
func isOtherFeedType(t feed.Type, suffix string) bool {
	name := str.SanitizePathComponent(string(t)) + suffix
	for _, v := range feed.Types {
		if v == t {
			continue
		}
		o := str.SanitizePathComponent(string(v))
		if name == o || strings.HasPrefix(name, o+"-") {
			return true
		}
	}
	return false
}

func offsetString(o int64) string {
	return strconv.FormatInt(o, 10)
}
