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
	"context"
	"errors"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/spurintel/spurfeed/internal/pkg/shared/apm"
	"github.com/spurintel/spurfeed/internal/pkg/shared/idgen"
	log "github.com/spurintel/spurfeed/internal/pkg/shared/logger"
	"github.com/spurintel/spurfeed/internal/pkg/spurfeed/checkpoint"
	"github.com/spurintel/spurfeed/internal/pkg/spurfeed/feed"
	"github.com/spurintel/spurfeed/internal/pkg/spurfeed/lockmgr"
	"github.com/spurintel/spurfeed/internal/pkg/spurfeed/notify"
	"github.com/spurintel/spurfeed/internal/pkg/spurfeed/sink"
)

const dateLayout = "20060102"

// staleReleaseAge is how old the latest release may get before a run warns
// that the feed service looks behind
const staleReleaseAge = 48 * time.Hour

// Orchestrator drives one feed run end to end: lock, release identity,
// checkpoint decision, payload streaming, and finalization. Runs are
// single-threaded; concurrency is handled across processes by the lock
// manager, not within a run.
type Orchestrator struct {
	Client             *feed.Client
	Checkpoints        checkpoint.Store
	Locks              lockmgr.Manager
	Sink               sink.Writer
	Notifier           notify.Notifier
	Input              string
	SourceType         string
	Predownload        bool
	CheckpointInterval int
	Now                func() time.Time
}

func (o *Orchestrator) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

func (o *Orchestrator) notifier() notify.Notifier {
	if o.Notifier != nil {
		return o.Notifier
	}
	return notify.LogNotifier{}
}

// Run ingests the current release of feed type t. A run that finds the lock
// held elsewhere, or finds today's release already completed, returns nil
// without touching the payload. The realtime variant runs without
// checkpoints and without a success notification, since its rolling window
// makes release-level bookkeeping meaningless.
func (o *Orchestrator) Run(ctx context.Context, t feed.Type) error {
	if !t.Valid() {
		return errors.New("unrecognized feed type " + string(t))
	}
	if t.Binary() {
		return errors.New("feed type " + string(t) + " is a binary artifact, use the geo database updater")
	}

	runID, _ := idgen.GenerateID()
	realtime := t.Realtime()
	store := o.Checkpoints
	if realtime {
		store.Enabled = false
	}

	var tx *apm.Transaction
	if apm.Enabled() {
		tx = apm.StartTransaction("feed "+string(t), "spurfeed_ingest", nil)
		tx.SetCustom("feed", string(t))
		tx.SetCustom("runId", runID)
		defer tx.End()
	}

	lock, err := o.Locks.Acquire(t)
	if err != nil {
		return o.fail(tx, t, runID, errors.New("cannot acquire feed lock: "+err.Error()))
	}
	if lock == nil {
		log.Info(log.M{Msg: "Another instance is processing this feed, skipping run", Feed: string(t), RId: runID})
		if tx != nil {
			tx.Result("skipped: lock held")
		}
		return nil
	}
	defer o.Locks.Release(lock)

	md, err := o.Client.LatestMetadata(t)
	if err != nil {
		err = errors.New("cannot retrieve feed metadata: " + err.Error())
		o.notifier().Notify(notify.Error, "Spur feed ingestion failed", string(t)+": "+err.Error())
		return o.fail(tx, t, runID, err)
	}
	if age, aerr := md.Age(); aerr == nil && age > staleReleaseAge {
		log.Warn(log.M{Msg: "Latest release is " + strconv.Itoa(int(age.Hours())) +
			" hours old, the feed service may be behind", Feed: string(t), RId: runID})
	}
	identifier := o.Client.ResolveGeneration(t, md)
	today := o.now().UTC().Format(dateLayout)

	cp, found := store.Read(t, identifier)
	if identifier == feed.UnknownGeneration {
		// an unresolved identity never matches a previous release, so
		// neither completion skip nor resume applies
		cp, found = checkpoint.Checkpoint{}, false
	}
	if found && cp.CompletedDate == today && cp.FeedMetadata.Location == md.Location {
		log.Info(log.M{Msg: "Release " + identifier + " already ingested today, skipping run",
			Feed: string(t), RId: runID})
		if tx != nil {
			tx.Result("skipped: already completed")
		}
		return nil
	}

	startOffset := int64(0)
	if found && cp.CompletedDate == "" {
		startOffset = cp.Offset
		log.Info(log.M{Msg: "Resuming release " + identifier + " from a previous incomplete run",
			Feed: string(t), RId: runID, Offset: startOffset})
	} else if found {
		// completed on an earlier date, re-ingest from the start; the old
		// checkpoint has to go first or its higher offset would block
		// progress writes
		store.Remove(t, identifier)
	}

	startTime := o.now().Unix()
	if found && cp.StartTime != 0 {
		startTime = cp.StartTime
	}
	progress := checkpoint.Checkpoint{
		Offset:          startOffset,
		StartTime:       startTime,
		LastTouchedDate: today,
		FeedMetadata:    md,
		FeedIdentifier:  identifier,
		FeedDate:        md.Date,
	}

	body, genDate, err := o.openPayload(t, md, identifier)
	if err != nil {
		err = errors.New("cannot open feed payload: " + err.Error())
		// record the release identity so the retry carries the same
		// bookkeeping from offset startOffset
		if werr := store.Write(t, identifier, progress); werr != nil {
			log.Warn(log.M{Msg: "Cannot write checkpoint: " + werr.Error(),
				Feed: string(t), RId: runID, Offset: startOffset})
		}
		o.notifier().Notify(notify.Error, "Spur feed ingestion failed", string(t)+": "+err.Error())
		return o.fail(tx, t, runID, err)
	}
	defer body.Close()
	if progress.FeedDate == "" {
		progress.FeedDate = genDate
	}
	if progress.FeedDate == "" {
		progress.FeedDate = today
	}
	feedDate := progress.FeedDate

	proc := Processor{
		Sink:               o.Sink,
		CheckpointInterval: o.CheckpointInterval,
		Input:              o.Input,
		SourceType:         o.SourceType,
		OnCheckpoint: func(offset int64) error {
			progress.Offset = offset
			return store.Write(t, identifier, progress)
		},
	}

	log.Info(log.M{Msg: "Ingesting release " + identifier + " dated " + feedDate,
		Feed: string(t), RId: runID, Offset: startOffset})

	res, err := proc.Run(ctx, t, body, startOffset, identifier, feedDate, runID)
	if err != nil {
		// persist whatever made it to the sink so the next run resumes
		// instead of starting over
		if ferr := o.Sink.Flush(); ferr == nil {
			progress.Offset = res.Offset
			if werr := store.Write(t, identifier, progress); werr != nil {
				log.Warn(log.M{Msg: "Cannot write partial checkpoint: " + werr.Error(),
					Feed: string(t), RId: runID, Offset: res.Offset})
			}
		}
		o.notifier().Notify(notify.Error, "Spur feed ingestion failed",
			string(t)+" release "+identifier+" failed at offset "+
				strconv.FormatInt(res.Offset, 10)+": "+err.Error())
		return o.fail(tx, t, runID, err)
	}

	progress.Offset = res.Offset
	progress.EndTime = o.now().Unix()
	progress.CompletedDate = today
	if err := store.Write(t, identifier, progress); err != nil {
		return o.fail(tx, t, runID, errors.New("cannot write completion checkpoint: "+err.Error()))
	}
	store.CleanupSuperseded(t, identifier)

	log.Info(log.M{Msg: "Completed release " + identifier + ": " +
		strconv.FormatInt(res.Emitted, 10) + " emitted, " +
		strconv.FormatInt(res.Skipped, 10) + " resumed over, " +
		strconv.FormatInt(res.Malformed, 10) + " malformed",
		Feed: string(t), RId: runID, Offset: res.Offset})
	if !realtime {
		o.notifier().Notify(notify.Info, "Spur feed ingestion completed",
			string(t)+" release "+identifier+": "+strconv.FormatInt(res.Emitted, 10)+" records")
	}
	if tx != nil {
		tx.Result("success")
	}
	return nil
}

// openPayload either streams the release directly or fully downloads it
// first, which trades disk for immunity to connection drops on slow sinks
func (o *Orchestrator) openPayload(t feed.Type, md feed.Metadata, identifier string) (body io.ReadCloser, genDate string, err error) {
	if !o.Predownload || t.Realtime() {
		return o.Client.OpenStream(t, md)
	}
	tempPath, err := o.Client.DownloadToTemp(t, md, identifier)
	if err != nil {
		return
	}
	f, err := os.Open(tempPath)
	if err != nil {
		os.Remove(tempPath)
		return
	}
	body = tempFile{f, tempPath}
	return
}

type tempFile struct {
	*os.File
	path string
}

func (f tempFile) Close() error {
	err := f.File.Close()
	os.Remove(f.path)
	return err
}

func (o *Orchestrator) fail(tx *apm.Transaction, t feed.Type, runID string, err error) error {
	log.Warn(log.M{Msg: "Feed run failed: " + err.Error(), Feed: string(t), RId: runID})
	if tx != nil {
		tx.SetError(err)
		tx.Result("failed")
	}
	return err
}
