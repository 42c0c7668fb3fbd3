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

// Package anonymize rewrites email addresses in message bytes to fresh
// random addresses under a configured domain. Each Anonymizer instance
// keeps its own address mapping, so the same input address always maps
// to the same replacement within one instance. Instances are not shared
// across workers and are not safe for concurrent use.
package anonymize

import (
	"math/rand"
	"regexp"
	"time"
	"unicode/utf8"
)

var addrRegexp = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)

const localPartLen = 8

const alphanumeric = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

type Anonymizer struct {
	domain string
	seen   map[string]string
	rnd    *rand.Rand
}

func New(domain string) *Anonymizer {
	return &Anonymizer{
		domain: domain,
		seen:   make(map[string]string),
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Rewrite replaces every address found in data and returns the result.
// Content that is not valid UTF-8 is returned unchanged: it is likely
// binary (base64 parts are ASCII and pass through untouched anyway) and
// rewriting it could corrupt the message.
func (a *Anonymizer) Rewrite(data []byte) []byte {
	if !utf8.Valid(data) {
		return data
	}
	return addrRegexp.ReplaceAllFunc(data, func(m []byte) []byte {
		return []byte(a.replacement(string(m)))
	})
}

func (a *Anonymizer) replacement(addr string) string {
	if r, ok := a.seen[addr]; ok {
		return r
	}

	local := make([]byte, localPartLen)
	for i := range local {
		local[i] = alphanumeric[a.rnd.Intn(len(alphanumeric))]
	}
	r := string(local) + "@" + a.domain

	a.seen[addr] = r
	// Replacements map to themselves so that rewriting already
	// anonymized content is a no-op.
	a.seen[r] = r
	return r
}
