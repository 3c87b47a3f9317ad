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

// Package sink delivers annotated feed records to the host log platform.
// Delivery is synchronous: once Flush returns nil, every event written so
// far is durable, which is what makes checkpoint offsets trustworthy.
package sink

import (
	"time"
)

// Event is one feed record ready for indexing
type Event struct {
	Input      string                 `json:"input"`
	SourceType string                 `json:"sourcetype"`
	Time       time.Time              `json:"time"`
	Data       map[string]interface{} `json:"data"`
}

// Writer receives events from the stream processor. Write may buffer;
// Flush must not return until all buffered events are durable.
type Writer interface {
	Write(evt Event) error
	Flush() error
	Close() error
}
