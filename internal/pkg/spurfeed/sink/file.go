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
	"path/filepath"

	"github.com/spurintel/spurfeed/internal/pkg/shared/fs"
)

// FileSink appends events as JSON lines to a single file, one line per
// event, for hosts that pick up events from a spool directory.
type FileSink struct {
	file *os.File
	w    *bufio.Writer
}

// NewFileSink opens or creates the spool file at p for appending
func NewFileSink(p string) (*FileSink, error) {
	if err := fs.EnsureDir(filepath.Dir(p)); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(p, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	return &FileSink{file: f, w: bufio.NewWriter(f)}, nil
}

// Write buffers one event as a JSON line
func (s *FileSink) Write(evt Event) error {
	b, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	if _, err := s.w.Write(b); err != nil {
		return err
	}
	return s.w.WriteByte('\n')
}

// Flush drains the buffer and syncs the file to stable storage
func (s *FileSink) Flush() error {
	if err := s.w.Flush(); err != nil {
		return err
	}
	return s.file.Sync()
}

// Close flushes and closes the spool file
func (s *FileSink) Close() error {
	if err := s.Flush(); err != nil {
		s.file.Close()
		return err
	}
	return s.file.Close()
}
