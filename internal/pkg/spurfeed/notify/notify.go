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

// Package notify surfaces run outcomes to operators. Notification delivery
// is best effort and never interrupts ingestion.
package notify

import (
	log "github.com/spurintel/spurfeed/internal/pkg/shared/logger"
)

// Severity classifies a notification
type Severity string

// Notification severities
const (
	Info  Severity = "info"
	Warn  Severity = "warn"
	Error Severity = "error"
)

// Notifier delivers operator-facing notifications
type Notifier interface {
	Notify(severity Severity, title, message string)
}

// LogNotifier writes notifications to the structured log
type LogNotifier struct{}

// Notify logs the notification at a level matching its severity
func (LogNotifier) Notify(severity Severity, title, message string) {
	m := log.M{Msg: title + ": " + message}
	switch severity {
	case Error:
		log.Error(m)
	case Warn:
		log.Warn(m)
	default:
		log.Info(m)
	}
}

// Multi fans a notification out to several notifiers
type Multi []Notifier

// Notify delivers to every member in order
func (n Multi) Notify(severity Severity, title, message string) {
	for _, v := range n {
		v.Notify(severity, title, message)
	}
}
