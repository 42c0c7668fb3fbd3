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

package engine

import (
	"github.com/foxcpp/mailblast/internal/smtpconn"
)

// connectClass maps a session-open failure to its stable report class.
// The identifiers are fixed strings that operators grep for and
// downstream tooling matches on, they are never localized.
func connectClass(authed bool, posture smtpconn.Security, err error) string {
	timeout := smtpconn.IsTimeout(err)
	switch {
	case authed && timeout:
		return "SMTP认证连接超时"
	case authed:
		return "SMTP认证连接失败"
	case posture != smtpconn.SecurityNone && timeout:
		return "SMTP非认证TLS连接超时"
	case posture != smtpconn.SecurityNone:
		return "SMTP非认证TLS连接失败"
	case timeout:
		return "SMTP连接超时"
	default:
		return "SMTP连接失败"
	}
}
