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
	"context"
	"errors"
	"strconv"

	elastic7 "github.com/olivere/elastic/v7"
)

const defaultBulkSize = 1000

// ES7Sink indexes events into Elasticsearch 7.x through the bulk API.
// Events accumulate into a bulk request of at most BulkSize actions;
// Flush sends whatever is pending and fails on the first rejected action.
type ES7Sink struct {
	client   *elastic7.Client
	bulk     *elastic7.BulkService
	Index    string
	BulkSize int
}

// NewES7Sink connects to the cluster at esURL and targets index
func NewES7Sink(esURL, index string) (s *ES7Sink, err error) {
	s = &ES7Sink{Index: index, BulkSize: defaultBulkSize}
	s.client, err = elastic7.NewSimpleClient(elastic7.SetURL(esURL))
	if err != nil {
		return nil, err
	}
	s.bulk = s.client.Bulk()
	return
}

// Write queues one event for bulk indexing, sending the batch when full
func (s *ES7Sink) Write(evt Event) error {
	req := elastic7.NewBulkIndexRequest().Index(s.Index).Doc(evt)
	s.bulk = s.bulk.Add(req)
	if s.bulk.NumberOfActions() >= s.BulkSize {
		return s.Flush()
	}
	return nil
}

// Flush sends the pending bulk request and verifies every action succeeded
func (s *ES7Sink) Flush() error {
	if s.bulk.NumberOfActions() == 0 {
		return nil
	}
	res, err := s.bulk.Do(context.Background())
	if err != nil {
		return err
	}
	if failed := res.Failed(); len(failed) > 0 {
		reason := ""
		if failed[0].Error != nil {
			reason = ": " + failed[0].Error.Reason
		}
		return errors.New("bulk indexing rejected " + strconv.Itoa(len(failed)) + " events" + reason)
	}
	return nil
}

// Close flushes any pending events
func (s *ES7Sink) Close() error {
	return s.Flush()
}
