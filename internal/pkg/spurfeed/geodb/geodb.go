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

package geodb

import (
	"compress/gzip"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spurintel/spurfeed/internal/pkg/shared/fs"
	log "github.com/spurintel/spurfeed/internal/pkg/shared/logger"
	"github.com/spurintel/spurfeed/internal/pkg/spurfeed/feed"
	"github.com/spurintel/spurfeed/internal/pkg/spurfeed/lockmgr"
	"github.com/spurintel/spurfeed/internal/pkg/spurfeed/notify"
)

// DefaultMaxAge is how old the local database may get before enrichment
// triggers a refresh
const DefaultMaxAge = 7 * 24 * time.Hour

// Updater replaces the local geolocation database with the latest ipgeo
// release. The database is a single binary artifact, so there is nothing to
// checkpoint: a run either swaps in the whole new file or leaves the old
// one untouched.
type Updater struct {
	Client   *feed.Client
	Locks    lockmgr.Manager
	Notifier notify.Notifier
	Path     string
	MaxAge   time.Duration
}

func (u *Updater) maxAge() time.Duration {
	if u.MaxAge == 0 {
		return DefaultMaxAge
	}
	return u.MaxAge
}

// Fresh reports whether the local database exists and is younger than MaxAge
func (u *Updater) Fresh() bool {
	fi, err := os.Stat(u.Path)
	if err != nil {
		return false
	}
	return time.Since(fi.ModTime()) <= u.maxAge()
}

// Refresh updates the database only when it is missing or stale
func (u *Updater) Refresh() error {
	if u.Fresh() {
		return nil
	}
	return u.Update()
}

// Update downloads the latest ipgeo release and atomically swaps it into
// place. A run that finds the lock held elsewhere returns nil, since the
// holder is doing the same work; lookups keep using the existing file until
// the rename lands.
func (u *Updater) Update() error {
	lock, err := u.Locks.Acquire(feed.IPGeo)
	if err != nil {
		return errors.New("cannot acquire geo database lock: " + err.Error())
	}
	if lock == nil {
		log.Info(log.M{Msg: "Another instance is updating the geo database, skipping", Feed: string(feed.IPGeo)})
		return nil
	}
	defer u.Locks.Release(lock)

	md, err := u.Client.LatestMetadata(feed.IPGeo)
	if err != nil {
		return u.fail(errors.New("cannot retrieve geo database metadata: " + err.Error()))
	}
	body, _, err := u.Client.OpenStream(feed.IPGeo, md)
	if err != nil {
		return u.fail(errors.New("cannot open geo database payload: " + err.Error()))
	}
	defer body.Close()

	var src io.Reader = body
	if strings.HasSuffix(md.Location, ".gz") {
		gz, err := gzip.NewReader(body)
		if err != nil {
			return u.fail(err)
		}
		defer gz.Close()
		src = gz
	}

	if err := fs.EnsureDir(filepath.Dir(u.Path)); err != nil {
		return u.fail(err)
	}
	// write next to the destination so the final rename stays on one
	// filesystem
	tmp, err := os.CreateTemp(filepath.Dir(u.Path), filepath.Base(u.Path)+".*")
	if err != nil {
		return u.fail(err)
	}
	tmpPath := tmp.Name()
	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return u.fail(err)
	}
	_, err = io.Copy(tmp, src)
	cerr := tmp.Close()
	if err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmpPath)
		return u.fail(err)
	}
	if err := os.Chmod(tmpPath, 0644); err != nil {
		os.Remove(tmpPath)
		return u.fail(err)
	}
	if err := os.Rename(tmpPath, u.Path); err != nil {
		os.Remove(tmpPath)
		return u.fail(err)
	}
	log.Info(log.M{Msg: "Geo database updated from release dated " + md.Date, Feed: string(feed.IPGeo)})
	return nil
}

func (u *Updater) fail(err error) error {
	log.Warn(log.M{Msg: "Geo database update failed: " + err.Error(), Feed: string(feed.IPGeo)})
	if u.Notifier != nil {
		u.Notifier.Notify(notify.Error, "Spur geo database update failed", err.Error())
	}
	return err
}
