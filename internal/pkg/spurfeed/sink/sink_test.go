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

package sink

import (
	"bufio"
	"encoding/json"
	"os"
	"path"
	"testing"
	"time"
)

func TestFileSink(t *testing.T) {
	p := path.Join(t.TempDir(), "spool", "events.json")
	s, err := NewFileSink(p)
	if err != nil {
		t.Fatal("cannot create file sink:", err)
	}

	evts := []Event{
		{Input: "anonymous", SourceType: "spur_feed", Time: time.Unix(1700000000, 0).UTC(),
			Data: map[string]interface{}{"ip": "1.2.3.4", "spur_feed_identifier": "12345"}},
		{Input: "anonymous", SourceType: "spur_feed", Time: time.Unix(1700000001, 0).UTC(),
			Data: map[string]interface{}{"ip": "5.6.7.8"}},
	}
	for _, evt := range evts {
		if err := s.Write(evt); err != nil {
			t.Fatal("cannot write event:", err)
		}
	}
	if err := s.Flush(); err != nil {
		t.Fatal("cannot flush:", err)
	}

	f, err := os.Open(p)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	n := 0
	for scanner.Scan() {
		var evt Event
		if err := json.Unmarshal(scanner.Bytes(), &evt); err != nil {
			t.Fatal("cannot parse spooled line:", err)
		}
		if evt.Input != "anonymous" {
			t.Errorf("expected input anonymous, found %v", evt.Input)
		}
		n++
	}
	if n != len(evts) {
		t.Errorf("expected %v spooled events, found %v", len(evts), n)
	}
	if err := s.Close(); err != nil {
		t.Fatal("cannot close:", err)
	}
}

func TestFileSinkAppends(t *testing.T) {
	p := path.Join(t.TempDir(), "events.json")
	for i := 0; i < 2; i++ {
		s, err := NewFileSink(p)
		if err != nil {
			t.Fatal(err)
		}
		if err := s.Write(Event{Input: "ipgeo"}); err != nil {
			t.Fatal(err)
		}
		if err := s.Close(); err != nil {
			t.Fatal(err)
		}
	}
	b, err := os.ReadFile(p)
	if err != nil {
		t.Fatal(err)
	}
	lines := 0
	for _, c := range b {
		if c == '\n' {
			lines++
		}
	}
	if lines != 2 {
		t.Errorf("expected 2 lines after two append sessions, found %v", lines)
	}
}
