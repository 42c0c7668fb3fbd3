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
	"context"
	"strconv"

	"github.com/foxcpp/mailblast/framework/log"
	"github.com/foxcpp/mailblast/internal/anonymize"
	"github.com/foxcpp/mailblast/internal/config"
	"github.com/foxcpp/mailblast/internal/smtpconn"
	"github.com/foxcpp/mailblast/internal/source"
	"github.com/foxcpp/mailblast/internal/stats"
)

// worker owns one contiguous chunk of the source list and drives it
// batch by batch over its own SMTP sessions. No two workers share a
// session or a stats object.
type worker struct {
	id       int
	cfg      *config.Config
	st       *stats.Stats
	log      log.Logger
	hostname string

	anon *anonymize.Anonymizer
	open openFunc

	chunk []source.Source
}

func newWorker(e *Engine, id int, chunk []source.Source) *worker {
	w := &worker{
		id:       id,
		cfg:      e.cfg,
		st:       stats.New(),
		log:      e.Log.Sublogger("worker " + strconv.Itoa(id)),
		hostname: e.hostname,
		open:     e.open,
		chunk:    chunk,
	}
	if e.cfg.AnonymizeEmails {
		w.anon = anonymize.New(e.cfg.AnonymizeDomain)
	}
	return w
}

// posture returns the TLS posture for the configured run. The
// attachment-dir mode opens a plain connection regardless of the TLS
// settings, matching the long-standing behaviour the tool's users
// depend on.
func posture(cfg *config.Config) smtpconn.Security {
	switch {
	case cfg.Mode() == config.ModeAttachmentDir:
		return smtpconn.SecurityNone
	case cfg.Port == 465:
		return smtpconn.SecurityTLS
	case cfg.UseTLS:
		return smtpconn.SecuritySTARTTLS
	default:
		return smtpconn.SecurityNone
	}
}

// authed reports whether sessions authenticate after connecting. The
// attachment-dir mode never does, see posture.
func authed(cfg *config.Config) bool {
	return cfg.AuthMode && cfg.Mode() != config.ModeAttachmentDir
}

// run processes the worker's chunk and returns its partial stats.
func (w *worker) run(ctx context.Context) *stats.Stats {
	batchSize := w.cfg.BatchSize
	if batchSize < 1 {
		batchSize = 1
	}

	// Sessions are kept alive across batches only for the plain
	// unauthenticated posture. Authenticated and TLS sessions are opened
	// per batch, and batch_size == 1 forces a fresh connection per
	// message in every posture.
	reusable := !authed(w.cfg) && posture(w.cfg) == smtpconn.SecurityNone && batchSize != 1

	var sess session
	closeSess := func() {
		if sess == nil {
			return
		}
		if err := sess.Close(); err != nil {
			w.log.Error("session close", err)
		}
		sess = nil
	}
	defer closeSess()

	for idx := 0; idx < len(w.chunk); {
		if ctx.Err() != nil {
			break
		}

		end := idx + batchSize
		if end > len(w.chunk) {
			end = len(w.chunk)
		}
		batch := w.chunk[idx:end]

		if sess == nil {
			var failClass string
			sess, failClass = w.openSession(ctx)
			if sess == nil {
				for _, src := range batch {
					w.fail(failClass, src, false)
				}
				idx = end
				if idx < len(w.chunk) && !sleepCtx(ctx, w.cfg.SendInterval()) {
					break
				}
				continue
			}
		}

		consumed, reset := w.driveBatch(ctx, sess, batch)
		idx += consumed

		if reset {
			w.log.Msg("discarding poisoned session", "consumed", consumed)
			discardedSessions.Inc()
			sess.DirectClose()
			sess = nil
		} else if !reusable {
			closeSess()
		}

		if idx < len(w.chunk) && ctx.Err() == nil {
			if !sleepCtx(ctx, w.cfg.SendInterval()) {
				break
			}
		}
	}

	return w.st
}

// openSession applies the authentication gate and opens a session with
// the worker's posture. On failure it returns a nil session and the
// class to record for every source of the affected batch.
func (w *worker) openSession(ctx context.Context) (session, string) {
	if authed(w.cfg) {
		if !w.cfg.UseTLS && w.cfg.Port != 465 {
			w.log.Msg("authentication requires TLS, refusing to connect")
			return nil, "认证失败: 需要TLS连接"
		}
		if w.cfg.Username == "" || w.cfg.Password == "" {
			w.log.Msg("authentication enabled but credentials are incomplete")
			return nil, "认证失败: 缺少用户名或密码"
		}
	}

	sess, err := w.open(ctx, posture(w.cfg))
	if err != nil {
		w.log.Error("connection failed", err, "remote_server", w.cfg.SMTPServer, "port", w.cfg.Port)
		return nil, connectClass(authed(w.cfg), posture(w.cfg), err)
	}
	openedSessions.Inc()
	return sess, ""
}

// fail records a terminal send failure. sinkable says whether the
// source content was read and can be persisted.
func (w *worker) fail(class string, src source.Source, sinkable bool) {
	w.st.AddFailure(class, src.Path)
	failedEmails.Inc()
	w.sink(src, sinkable)
}

// failParse records a terminal parse/read failure.
func (w *worker) failParse(class string, src source.Source, sinkable bool) {
	w.st.AddParseFailure(class, src.Path)
	failedEmails.Inc()
	w.sink(src, sinkable)
}

func (w *worker) sink(src source.Source, sinkable bool) {
	if !sinkable || w.cfg.FailedEmailsDir == "" {
		return
	}
	if err := saveFailed(w.cfg.FailedEmailsDir, src); err != nil {
		w.log.Error("failed-email copy", err, "src", src.Path)
	}
}
