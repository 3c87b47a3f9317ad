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

package fs

import (
	"os"
	"path"
	"testing"
)

func TestFs(t *testing.T) {
	d := t.TempDir()

	f := path.Join(d, "test.txt")
	if err := OverwriteFileBytes([]byte("first"), f); err != nil {
		t.Fatal(err)
	}
	if err := OverwriteFileBytes([]byte("raw"), f); err != nil {
		t.Fatal(err)
	}
	b, err := os.ReadFile(f)
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != "raw" {
		t.Errorf("expected overwritten content, got %s", string(b))
	}

	sub := path.Join(d, "a", "b")
	if err := EnsureDir(sub); err != nil {
		t.Fatal(err)
	}
	if fi, err := os.Stat(sub); err != nil || !fi.IsDir() {
		t.Fatal("dir should exist")
	}

	if _, err := GetDir(true); err != nil {
		t.Fatal(err)
	}
}
