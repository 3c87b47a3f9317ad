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
	"net/http"
	"net/http/httptest"
	"os"
	"path"
	"strings"
	"testing"
	"time"

	log "github.com/spurintel/spurfeed/internal/pkg/shared/logger"
	"github.com/spurintel/spurfeed/internal/pkg/spurfeed/feed"
	"github.com/spurintel/spurfeed/internal/pkg/spurfeed/lockmgr"
)

func geoServer(t *testing.T, content string, gzipped bool) *httptest.Server {
	t.Helper()
	location := "latest.mmdb"
	if gzipped {
		location = "latest.mmdb.gz"
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/latest") {
			w.Write([]byte(`{"json":{"location":"feed.json.gz"},"mmdb":{"location":"` +
				location + `","date":"20240115"}}`))
			return
		}
		if gzipped {
			gz := gzip.NewWriter(w)
			gz.Write([]byte(content))
			gz.Close()
			return
		}
		w.Write([]byte(content))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestUpdate(t *testing.T) {
	log.Setup(false)
	srv := geoServer(t, "fake mmdb bytes", false)
	dir := t.TempDir()
	u := &Updater{
		Client: feed.NewClient(srv.URL, "tok", nil),
		Locks:  lockmgr.Manager{Dir: t.TempDir()},
		Path:   path.Join(dir, "spur.mmdb"),
	}
	if err := u.Update(); err != nil {
		t.Fatal("expected update to succeed:", err)
	}
	b, err := os.ReadFile(u.Path)
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != "fake mmdb bytes" {
		t.Error("unexpected database content:", string(b))
	}
	fi, err := os.Stat(u.Path)
	if err != nil {
		t.Fatal(err)
	}
	if fi.Mode().Perm() != 0644 {
		t.Errorf("expected mode 0644 after swap, found %v", fi.Mode().Perm())
	}
	// no leftover temp files
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Error("expected only the database file in the target dir, found", len(entries))
	}
}

func TestUpdateGzipped(t *testing.T) {
	log.Setup(false)
	srv := geoServer(t, "compressed mmdb bytes", true)
	u := &Updater{
		Client: feed.NewClient(srv.URL, "tok", nil),
		Locks:  lockmgr.Manager{Dir: t.TempDir()},
		Path:   path.Join(t.TempDir(), "spur.mmdb"),
	}
	if err := u.Update(); err != nil {
		t.Fatal(err)
	}
	b, err := os.ReadFile(u.Path)
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != "compressed mmdb bytes" {
		t.Error("expected transparent gunzip, found:", string(b))
	}
}

func TestRefreshSkipsFresh(t *testing.T) {
	log.Setup(false)
	requests := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
	}))
	defer srv.Close()

	p := path.Join(t.TempDir(), "spur.mmdb")
	if err := os.WriteFile(p, []byte("existing"), 0644); err != nil {
		t.Fatal(err)
	}
	u := &Updater{
		Client: feed.NewClient(srv.URL, "tok", nil),
		Locks:  lockmgr.Manager{Dir: t.TempDir()},
		Path:   p,
	}
	if err := u.Refresh(); err != nil {
		t.Fatal(err)
	}
	if requests != 0 {
		t.Error("expected no requests for a fresh database")
	}

	// a stale file triggers the update path
	old := time.Now().Add(-8 * 24 * time.Hour)
	if err := os.Chtimes(p, old, old); err != nil {
		t.Fatal(err)
	}
	if u.Fresh() {
		t.Error("expected 8-day-old database to read as stale")
	}
}

func TestUpdateSkipsWhenLockHeld(t *testing.T) {
	log.Setup(false)
	requests := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
	}))
	defer srv.Close()

	locks := lockmgr.Manager{Dir: t.TempDir()}
	h, err := locks.Acquire(feed.IPGeo)
	if err != nil || h == nil {
		t.Fatal("cannot pre-acquire lock")
	}
	defer locks.Release(h)

	u := &Updater{
		Client: feed.NewClient(srv.URL, "tok", nil),
		Locks:  locks,
		Path:   path.Join(t.TempDir(), "spur.mmdb"),
	}
	if err := u.Update(); err != nil {
		t.Fatal("expected contended update to skip cleanly:", err)
	}
	if requests != 0 {
		t.Error("expected no requests while the lock is held elsewhere")
	}
}

func TestOpenMissingFile(t *testing.T) {
	if _, err := Open(path.Join(t.TempDir(), "absent.mmdb")); err == nil {
		t.Error("expected open of a missing database to fail")
	}
}
