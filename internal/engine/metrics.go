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

import "github.com/prometheus/client_golang/prometheus"

var (
	sentEmails = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "mailblast",
			Subsystem: "engine",
			Name:      "sent_emails",
			Help:      "Amount of emails accepted by the server (DATA succeeded)",
		},
	)
	failedEmails = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "mailblast",
			Subsystem: "engine",
			Name:      "failed_emails",
			Help:      "Amount of emails that failed terminally",
		},
	)
	openedSessions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "mailblast",
			Subsystem: "engine",
			Name:      "opened_sessions",
			Help:      "Amount of SMTP sessions established",
		},
	)
	discardedSessions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "mailblast",
			Subsystem: "engine",
			Name:      "discarded_sessions",
			Help:      "Amount of sessions discarded after a server-directed reset",
		},
	)
	completedRounds = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "mailblast",
			Subsystem: "engine",
			Name:      "completed_rounds",
			Help:      "Amount of successfully completed sending rounds",
		},
	)
	sendDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "mailblast",
			Subsystem: "engine",
			Name:      "send_duration_seconds",
			Help:      "Time from MAIL FROM to DATA completion for successful sends",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		},
	)
	activeWorkers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "mailblast",
			Subsystem: "engine",
			Name:      "active_workers",
			Help:      "Amount of workers currently processing a chunk",
		},
	)
)

func init() {
	prometheus.MustRegister(sentEmails)
	prometheus.MustRegister(failedEmails)
	prometheus.MustRegister(openedSessions)
	prometheus.MustRegister(discardedSessions)
	prometheus.MustRegister(completedRounds)
	prometheus.MustRegister(sendDuration)
	prometheus.MustRegister(activeWorkers)
}
