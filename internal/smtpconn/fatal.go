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

package smtpconn

import (
	"context"
	"errors"
	"net"
	"strings"
	"syscall"

	"github.com/emersion/go-smtp"
)

// Substring matching is a fallback for errors that reach us flattened
// into plain strings (wrapped by third-party code or read back from
// logs). Typed checks in Fatal take precedence.
var fatalSubstrings = []string{
	"421",
	"Cannot accept further commands",
	"Broken pipe",
	"Connection reset",
	"Unparseable SMTP reply",
	"timeout",
	"超时",
}

// Fatal reports whether err indicates that the session is poisoned and
// must be discarded instead of being reused for the next transaction.
// This covers server shutdown announcements (421), broken or reset
// sockets, protocol desync and timeouts.
func Fatal(err error) bool {
	if err == nil {
		return false
	}

	var smtpErr *smtp.SMTPError
	if errors.As(err, &smtpErr) && smtpErr.Code == 421 {
		return true
	}

	if errors.Is(err, syscall.EPIPE) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}

	if IsTimeout(err) {
		return true
	}

	msg := err.Error()
	for _, sub := range fatalSubstrings {
		if strings.Contains(msg, sub) {
			return true
		}
	}

	return false
}

// IsTimeout reports whether err is a network deadline expiry or a
// context deadline expiry.
func IsTimeout(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	return errors.Is(err, context.DeadlineExceeded)
}
