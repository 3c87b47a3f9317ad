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

package notify

import (
	"strings"
	"testing"

	log "github.com/spurintel/spurfeed/internal/pkg/shared/logger"
)

func TestLogNotifier(t *testing.T) {
	log.EnableTestingMode()
	var n LogNotifier
	out := log.CaptureZapOutput(func() {
		n.Notify(Info, "Feed ingestion completed", "anonymous feed done")
	})
	if !strings.Contains(out, "Feed ingestion completed") {
		t.Error("expected notification in log output, found:", out)
	}
	out = log.CaptureZapOutput(func() {
		n.Notify(Error, "Feed ingestion failed", "connection reset")
	})
	if !strings.Contains(out, "connection reset") {
		t.Error("expected failure notification in log output, found:", out)
	}
}

type recorder struct {
	titles []string
}

func (r *recorder) Notify(severity Severity, title, message string) {
	r.titles = append(r.titles, title)
}

func TestMulti(t *testing.T) {
	a := &recorder{}
	b := &recorder{}
	m := Multi{a, b}
	m.Notify(Warn, "Low balance", "9 lookups remaining")
	if len(a.titles) != 1 || len(b.titles) != 1 {
		t.Error("expected both notifiers to receive the notification")
	}
}
