/*
Mailblast - High-throughput bulk mail submission tool.
Copyright © 2024-2025 Mailblast contributors

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

// Package stats aggregates per-run delivery counters: successes, failure
// classes, per-class failed file lists and latency samples. One Stats
// value is shared by all workers of a round; every operation takes an
// internal lock.
//
// Failure accounting distinguishes terminal failures from detail
// records. A terminal failure decides the fate of one source file and
// lands it in exactly one of the send/parse buckets. Detail records
// (such as individual rejected recipients of a transaction that still
// failed as a whole) only extend the class tables. Class tables always
// satisfy len(FailedFiles[k]) == ErrorDetails[k].
package stats

import (
	"sync"
	"time"
)

type Stats struct {
	mu sync.Mutex

	emailCount     int
	parseDurations []time.Duration
	sendDurations  []time.Duration
	totalDuration  time.Duration
	parseErrors    int
	sendErrors     int
	errorDetails   map[string]int
	failedFiles    map[string][]string
}

func New() *Stats {
	return &Stats{
		errorDetails: make(map[string]int),
		failedFiles:  make(map[string][]string),
	}
}

// AddSuccess records one message accepted by the server at the DATA
// step, with its preparation and send latency samples.
func (s *Stats) AddSuccess(parseD, sendD time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.emailCount++
	s.parseDurations = append(s.parseDurations, parseD)
	s.sendDurations = append(s.sendDurations, sendD)
}

// AddFailure records the terminal send failure of one source file.
func (s *Stats) AddFailure(class, path string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.record(class, path)
	s.sendErrors++
}

// AddParseFailure records the terminal failure of one source file that
// never made it to the wire (unreadable or unparsable content).
func (s *Stats) AddParseFailure(class, path string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.record(class, path)
	s.parseErrors++
}

// AddDetail records an additional failure class for a source without
// deciding its fate. Used for per-recipient rejections; the transaction
// outcome is recorded separately.
func (s *Stats) AddDetail(class, path string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.record(class, path)
}

// record must be called with mu held. The count bump and the file
// append stay in one critical section.
func (s *Stats) record(class, path string) {
	s.errorDetails[class]++
	s.failedFiles[class] = append(s.failedFiles[class], path)
}

// SetTotalDuration stores the wall time of the producing run. Merge
// deliberately leaves this field alone; the caller decides whether a
// merged value covers one round or a whole multi-round session.
func (s *Stats) SetTotalDuration(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.totalDuration = d
}

// Merge folds other into s: counters summed, sample vectors and file
// lists concatenated in order.
func (s *Stats) Merge(other *Stats) {
	o := other.Snapshot()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.emailCount += o.EmailCount
	s.parseDurations = append(s.parseDurations, o.ParseDurations...)
	s.sendDurations = append(s.sendDurations, o.SendDurations...)
	s.parseErrors += o.ParseErrors
	s.sendErrors += o.SendErrors
	for class, n := range o.ErrorDetails {
		s.errorDetails[class] += n
	}
	for class, files := range o.FailedFiles {
		s.failedFiles[class] = append(s.failedFiles[class], files...)
	}
}

// Snapshot returns a deep copy safe to read without further locking.
type Snapshot struct {
	EmailCount     int
	ParseDurations []time.Duration
	SendDurations  []time.Duration
	TotalDuration  time.Duration
	ParseErrors    int
	SendErrors     int
	ErrorDetails   map[string]int
	FailedFiles    map[string][]string
}

func (s *Stats) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	sn := Snapshot{
		EmailCount:     s.emailCount,
		ParseDurations: append([]time.Duration(nil), s.parseDurations...),
		SendDurations:  append([]time.Duration(nil), s.sendDurations...),
		TotalDuration:  s.totalDuration,
		ParseErrors:    s.parseErrors,
		SendErrors:     s.sendErrors,
		ErrorDetails:   make(map[string]int, len(s.errorDetails)),
		FailedFiles:    make(map[string][]string, len(s.failedFiles)),
	}
	for class, n := range s.errorDetails {
		sn.ErrorDetails[class] = n
	}
	for class, files := range s.failedFiles {
		sn.FailedFiles[class] = append([]string(nil), files...)
	}
	return sn
}

// Attempts is the number of sources with a decided outcome.
func (sn Snapshot) Attempts() int {
	return sn.EmailCount + sn.SendErrors + sn.ParseErrors
}

// Failed is the number of sources whose outcome was a failure.
func (sn Snapshot) Failed() int {
	return sn.SendErrors + sn.ParseErrors
}
