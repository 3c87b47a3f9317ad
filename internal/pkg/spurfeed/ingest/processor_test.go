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

package ingest

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"strconv"
	"strings"
	"testing"

	log "github.com/spurintel/spurfeed/internal/pkg/shared/logger"
	"github.com/spurintel/spurfeed/internal/pkg/spurfeed/feed"
	"github.com/spurintel/spurfeed/internal/pkg/spurfeed/sink"
)

// memSink buffers writes and marks them durable on Flush, mimicking the
// delivery contract of the real sinks
type memSink struct {
	pending []sink.Event
	durable []sink.Event
	failAt  int // fail the nth write, 0 disables
	writes  int
}

func (s *memSink) Write(evt sink.Event) error {
	s.writes++
	if s.failAt > 0 && s.writes >= s.failAt {
		return errors.New("sink write refused")
	}
	s.pending = append(s.pending, evt)
	return nil
}

func (s *memSink) Flush() error {
	s.durable = append(s.durable, s.pending...)
	s.pending = nil
	return nil
}

func (s *memSink) Close() error { return s.Flush() }

func payload(lines ...string) string {
	return strings.Join(lines, "\n") + "\n"
}

func records(n int) string {
	lines := make([]string, n)
	for i := 0; i < n; i++ {
		lines[i] = `{"ip":"10.0.0.` + strconv.Itoa(i+1) + `"}`
	}
	return payload(lines...)
}

func TestProcessorEmitsAll(t *testing.T) {
	log.Setup(false)
	s := &memSink{}
	p := Processor{Sink: s, Input: "spur", SourceType: "spur_feed"}
	res, err := p.Run(context.Background(), feed.Anonymous,
		strings.NewReader(records(5)), 0, "gen1", "20240101", "run1")
	if err != nil {
		t.Fatal("expected run to succeed:", err)
	}
	if res.Offset != 5 || res.Emitted != 5 || res.Skipped != 0 {
		t.Fatalf("expected 5 emitted, found %+v", res)
	}
	if len(s.durable) != 5 {
		t.Fatal("expected all events durable after final flush, found", len(s.durable))
	}
	first := s.durable[0]
	if first.Data[IdentifierField] != "gen1" || first.Data[DateField] != "20240101" {
		t.Error("expected release annotation on emitted records, found", first.Data)
	}
	if first.Input != "spur" || first.SourceType != "spur_feed" {
		t.Error("expected input and sourcetype passthrough, found", first)
	}
}

func TestProcessorResume(t *testing.T) {
	log.Setup(false)
	s := &memSink{}
	p := Processor{Sink: s}
	res, err := p.Run(context.Background(), feed.Anonymous,
		strings.NewReader(records(10)), 7, "gen1", "20240101", "run1")
	if err != nil {
		t.Fatal(err)
	}
	if res.Skipped != 7 || res.Emitted != 3 || res.Offset != 10 {
		t.Fatalf("expected resume to skip 7 and emit 3, found %+v", res)
	}
	// exactly records 8, 9, 10 are delivered, none twice
	if s.durable[0].Data["ip"] != "10.0.0.8" {
		t.Error("expected first resumed record to be 10.0.0.8, found", s.durable[0].Data["ip"])
	}
}

func TestProcessorResumePastEnd(t *testing.T) {
	log.Setup(false)
	s := &memSink{}
	p := Processor{Sink: s}
	res, err := p.Run(context.Background(), feed.Anonymous,
		strings.NewReader(records(3)), 99, "gen1", "20240101", "run1")
	if err != nil {
		t.Fatal(err)
	}
	if res.Emitted != 0 || len(s.durable) != 0 {
		t.Errorf("expected no emission when checkpoint is past the payload, found %+v", res)
	}
}

func TestProcessorMalformedLines(t *testing.T) {
	log.Setup(false)
	s := &memSink{}
	p := Processor{Sink: s}
	in := payload(
		`{"ip":"1.1.1.1"}`,
		`this is not json`,
		``,
		`{"ip":"2.2.2.2"}`,
		`{"truncated":`,
		`{"ip":"3.3.3.3"}`,
	)
	res, err := p.Run(context.Background(), feed.Anonymous,
		strings.NewReader(in), 0, "gen1", "20240101", "run1")
	if err != nil {
		t.Fatal("expected malformed lines to be tolerated:", err)
	}
	if res.Emitted != 3 || res.Malformed != 2 {
		t.Fatalf("expected 3 emitted and 2 malformed, found %+v", res)
	}
	// offsets count valid records only, so a resume after this run starts
	// at 3 regardless of the junk in between
	if res.Offset != 3 {
		t.Error("expected offset 3, found", res.Offset)
	}
}

func TestProcessorGzipPayload(t *testing.T) {
	log.Setup(false)
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	gz.Write([]byte(records(4)))
	gz.Close()

	s := &memSink{}
	p := Processor{Sink: s}
	res, err := p.Run(context.Background(), feed.Anonymous,
		&buf, 0, "gen1", "20240101", "run1")
	if err != nil {
		t.Fatal("expected gzip payload to be decompressed:", err)
	}
	if res.Emitted != 4 {
		t.Error("expected 4 emitted, found", res.Emitted)
	}
}

func TestProcessorCheckpointInterval(t *testing.T) {
	log.Setup(false)
	s := &memSink{}
	var offsets []int64
	var durableAt []int
	p := Processor{
		Sink:               s,
		CheckpointInterval: 3,
		OnCheckpoint: func(offset int64) error {
			offsets = append(offsets, offset)
			durableAt = append(durableAt, len(s.durable))
			return nil
		},
	}
	res, err := p.Run(context.Background(), feed.Anonymous,
		strings.NewReader(records(10)), 0, "gen1", "20240101", "run1")
	if err != nil {
		t.Fatal(err)
	}
	if res.Emitted != 10 {
		t.Fatal("expected 10 emitted, found", res.Emitted)
	}
	if len(offsets) != 3 || offsets[0] != 3 || offsets[1] != 6 || offsets[2] != 9 {
		t.Fatal("expected checkpoints at 3, 6, 9, found", offsets)
	}
	// events must be durable before their offset is checkpointed
	for i, d := range durableAt {
		if int64(d) < offsets[i] {
			t.Errorf("checkpoint at offset %v ran ahead of durable delivery (%v)", offsets[i], d)
		}
	}
}

func TestProcessorSinkFailure(t *testing.T) {
	log.Setup(false)
	s := &memSink{failAt: 4}
	p := Processor{Sink: s}
	res, err := p.Run(context.Background(), feed.Anonymous,
		strings.NewReader(records(10)), 0, "gen1", "20240101", "run1")
	if err == nil {
		t.Fatal("expected sink failure to surface")
	}
	// the failed record is not counted as delivered
	if res.Offset != 3 {
		t.Error("expected offset 3 after failing the 4th write, found", res.Offset)
	}
}

func TestProcessorContextCancel(t *testing.T) {
	log.Setup(false)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := &memSink{}
	p := Processor{Sink: s}
	_, err := p.Run(ctx, feed.Anonymous, strings.NewReader(records(3)), 0, "g", "d", "r")
	if err == nil {
		t.Fatal("expected canceled context to stop the run")
	}
}
