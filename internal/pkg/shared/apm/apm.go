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

package apm

import (
	"sync"
	"time"

	"go.elastic.co/apm"
)

var enabled bool
var mu = sync.RWMutex{}

// Enabled returns whether apm is enabled
func Enabled() bool {
	mu.RLock()
	defer mu.RUnlock()
	return enabled
}

// Enable set apm status
func Enable(e bool) {
	mu.Lock()
	enabled = e
	mu.Unlock()
}

// Transaction wraps transaction from apm Default tracer and make it concurrency safe
type Transaction struct {
	sync.Mutex
	Tx    *apm.Transaction
	ended bool
}

// StartTransaction returns a mutex protected apm.Transaction with optional starting time.
func StartTransaction(name, transactionType string, startTime *time.Time) (tx *Transaction) {
	txObj := Transaction{}
	opts := apm.TransactionOptions{}
	if startTime != nil {
		opts.Start = *startTime
	}
	txObj.Tx = apm.DefaultTracer.StartTransactionOptions(name, transactionType, opts)
	tx = &txObj
	return
}

// Recover returns an apm.DefaultTracer.Recover function to be deferred
func (t *Transaction) Recover() {
	// this is copied from apm.DefaultTracer.Recover(t.Tx)
	v := recover()
	if v == nil {
		return
	}
	e := apm.DefaultTracer.Recovered(v)
	e.SetTransaction(t.Tx)
	e.Send()
}

// SetCustom set custom value for the transaction
func (t *Transaction) SetCustom(key string, value string) {
	t.Lock()
	defer t.Unlock()
	if t.ended {
		return
	}
	defer t.Recover()
	t.Tx.Context.SetTag(key, value)
}

// Result set the result for the transaction
func (t *Transaction) Result(value string) {
	t.Lock()
	defer t.Unlock()
	if t.ended {
		return
	}
	t.Tx.Result = value
}

// SetError set and send error
func (t *Transaction) SetError(err error) {
	e := apm.DefaultTracer.NewError(err)
	e.SetTransaction(t.Tx)
	e.Send()
}

// End completes the transaction
func (t *Transaction) End() {
	t.Lock()
	defer t.Unlock()
	if t.ended {
		return
	}
	t.ended = true
	t.Tx.End()
}
