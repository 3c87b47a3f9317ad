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

// Package secret retrieves the API token from the host-managed credential
// storage. Hosts that keep credentials elsewhere implement Store themselves.
package secret

import (
	"errors"
	"os"
	"strings"
)

// DefaultTokenVar is the environment variable consulted by EnvStore when
// no explicit variable name is given
const DefaultTokenVar = "SPURFEED_TOKEN"

// Store retrieves credentials from the host credential storage
type Store interface {
	Token() (string, error)
}

// EnvStore reads the token from an environment variable
type EnvStore struct {
	Var string
}

// Token implement Store
func (e EnvStore) Token() (string, error) {
	v := e.Var
	if v == "" {
		v = DefaultTokenVar
	}
	t := strings.TrimSpace(os.Getenv(v))
	if t == "" {
		return "", errors.New("no token found in environment variable " + v)
	}
	return t, nil
}

// FileStore reads the token from a file populated by the host credential store
type FileStore struct {
	Path string
}

// Token implement Store
func (f FileStore) Token() (string, error) {
	b, err := os.ReadFile(f.Path)
	if err != nil {
		return "", err
	}
	t := strings.TrimSpace(string(b))
	if t == "" {
		return "", errors.New("token file " + f.Path + " is empty")
	}
	return t, nil
}
