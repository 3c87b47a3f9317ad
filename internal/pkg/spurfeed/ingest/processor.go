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

// Package ingest turns a feed release payload into events on the host sink,
// coordinating locks, checkpoints, and notifications for each run.
package ingest

import (
	"bufio"
	"compress/gzip"
	"context"
	"encoding/json"
	"io"
	"strconv"
	"time"

	"github.com/paulbellamy/ratecounter"

	log "github.com/spurintel/spurfeed/internal/pkg/shared/logger"
	"github.com/spurintel/spurfeed/internal/pkg/spurfeed/feed"
	"github.com/spurintel/spurfeed/internal/pkg/spurfeed/sink"
)

const (
	// DefaultCheckpointInterval is how many emitted records pass between
	// checkpoint writes
	DefaultCheckpointInterval = 10000

	// feed records can be large, a /16 residential block with full metadata
	// easily exceeds bufio's default line limit
	maxLineSize = 10 * 1024 * 1024
)

// IdentifierField and DateField annotate every emitted record with the
// release it came from
const (
	IdentifierField = "spur_feed_identifier"
	DateField       = "spur_feed_date"
)

// Processor streams one release payload into the sink
type Processor struct {
	Sink               sink.Writer
	CheckpointInterval int
	// OnCheckpoint runs after each interval's events are flushed durable.
	// The offset passed is the count of records fully delivered.
	OnCheckpoint func(offset int64) error
	Input        string
	SourceType   string
}

// Result summarizes one processing pass
type Result struct {
	Offset    int64 // records counted, whether skipped or emitted
	Emitted   int64
	Skipped   int64 // resumed over from a previous run
	Malformed int64
}

func (p *Processor) interval() int64 {
	if p.CheckpointInterval == 0 {
		return DefaultCheckpointInterval
	}
	return int64(p.CheckpointInterval)
}

// Run reads newline-delimited JSON records from r, skips past startOffset
// records already delivered by a previous run, and emits the rest to the
// sink annotated with the release identifier and date. Offsets count valid
// records only; lines that fail to parse are logged and skipped without
// advancing the offset. A gzip payload is detected and decompressed
// transparently. On error the result still carries the offset reached, so
// the caller can checkpoint the partial progress.
func (p *Processor) Run(ctx context.Context, t feed.Type, r io.Reader,
	startOffset int64, identifier, feedDate, runID string) (res Result, err error) {

	br := bufio.NewReader(r)
	if magic, perr := br.Peek(2); perr == nil && magic[0] == 0x1f && magic[1] == 0x8b {
		var gz *gzip.Reader
		gz, err = gzip.NewReader(br)
		if err != nil {
			return
		}
		defer gz.Close()
		return p.scan(ctx, t, gz, startOffset, identifier, feedDate, runID)
	}
	return p.scan(ctx, t, br, startOffset, identifier, feedDate, runID)
}

func (p *Processor) scan(ctx context.Context, t feed.Type, r io.Reader,
	startOffset int64, identifier, feedDate, runID string) (res Result, err error) {

	counter := ratecounter.NewRateCounter(time.Second)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	interval := p.interval()
	for scanner.Scan() {
		if err = ctx.Err(); err != nil {
			return
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec map[string]interface{}
		if jerr := json.Unmarshal(line, &rec); jerr != nil {
			res.Malformed++
			log.Warn(log.M{Msg: "Skipping malformed feed record: " + jerr.Error(),
				Feed: string(t), RId: runID, Offset: res.Offset})
			continue
		}
		if res.Offset < startOffset {
			res.Offset++
			res.Skipped++
			continue
		}
		rec[IdentifierField] = identifier
		rec[DateField] = feedDate
		evt := sink.Event{
			Input:      p.Input,
			SourceType: p.SourceType,
			Time:       time.Now().UTC(),
			Data:       rec,
		}
		// the offset advances only once the record is handed to the sink,
		// so a failed write is never counted as delivered
		if err = p.Sink.Write(evt); err != nil {
			return
		}
		res.Offset++
		res.Emitted++
		counter.Incr(1)

		if res.Offset%interval == 0 {
			if err = p.Sink.Flush(); err != nil {
				return
			}
			if p.OnCheckpoint != nil {
				if err = p.OnCheckpoint(res.Offset); err != nil {
					return
				}
			}
			log.Info(log.M{Msg: "Processed " + strconv.FormatInt(res.Offset, 10) +
				" records at " + strconv.FormatInt(counter.Rate(), 10) + " records/sec",
				Feed: string(t), RId: runID, Offset: res.Offset})
		}
	}
	if err = scanner.Err(); err != nil {
		return
	}
	err = p.Sink.Flush()
	return
}
