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
	"bytes"
	"context"
	"io"
	"os"
	"time"

	"github.com/foxcpp/mailblast/internal/compose"
	"github.com/foxcpp/mailblast/internal/config"
	"github.com/foxcpp/mailblast/internal/smtpconn"
	"github.com/foxcpp/mailblast/internal/source"
)

// session is the part of the SMTP connection the batch driver needs.
// *smtpconn.C implements it; tests substitute a scripted stand-in so
// the exact wire order can be asserted without a live server.
type session interface {
	Mail(ctx context.Context, from string) error
	Rcpt(ctx context.Context, to string) error
	Data(ctx context.Context, msg io.Reader) error
	Rset(ctx context.Context) error
	Close() error
	DirectClose() error
}

// driveBatch runs one transaction per source over sess, sending RSET
// between consecutive transactions. It returns how many sources were
// consumed (their outcome is recorded) and whether the session is
// poisoned and must be discarded by the caller. Sources that were not
// consumed are re-batched by the worker.
func (w *worker) driveBatch(ctx context.Context, sess session, batch []source.Source) (consumed int, reset bool) {
	for i, src := range batch {
		if ctx.Err() != nil {
			return i, false
		}

		if w.transact(ctx, sess, src) {
			return i + 1, true
		}

		if ctx.Err() != nil {
			return i + 1, false
		}

		if i == len(batch)-1 {
			break
		}

		if err := sess.Rset(ctx); err != nil {
			w.log.Error("RSET failed", err, "src", src.Path)
			return i + 1, true
		}

		if !sleepCtx(ctx, w.cfg.SendInterval()) {
			return i + 1, false
		}
	}
	return len(batch), false
}

// transact performs the full per-source flow: read, anonymize, parse,
// envelope, assemble, DATA. All failures are recorded in the worker's
// stats; the return value only says whether the session was poisoned.
func (w *worker) transact(ctx context.Context, sess session, src source.Source) (fatal bool) {
	parseStart := time.Now()
	mode := w.cfg.Mode()

	raw, err := os.ReadFile(src.Path)
	if err != nil {
		w.log.Error("read failed", err, "src", src.Path)
		var cls string
		switch mode {
		case config.ModeAttachment:
			cls = "读取附件文件失败"
		case config.ModeAttachmentDir:
			cls = "读取附件文件失败: " + err.Error()
		default:
			cls = "读取文件失败: " + err.Error()
		}
		// The content never made it to memory, nothing to persist.
		w.failParse(cls, src, false)
		return false
	}

	if w.anon != nil {
		raw = w.anon.Rewrite(raw)
	}

	var parts *compose.Parts
	if mode == config.ModeEmlDir && w.cfg.ModifyHeaders {
		parts, err = compose.ParseEml(raw)
		if err != nil {
			w.log.Error("parse failed", err, "src", src.Path)
			w.failParse("无法解析邮件文件", src, true)
			return false
		}
	}

	rcpts := w.cfg.Recipients()
	if len(rcpts) == 0 {
		w.log.Msg("no valid recipients", "src", src.Path, "to", w.cfg.To)
		w.fail("没有有效的收件人地址", src, true)
		return false
	}

	parseDur := time.Since(parseStart)
	sendStart := time.Now()

	if err := sess.Mail(ctx, w.cfg.From); err != nil {
		w.log.Error("MAIL FROM rejected", err, "src", src.Path)
		w.fail("设置发件人失败: "+err.Error(), src, true)
		return smtpconn.Fatal(err)
	}

	accepted := 0
	for _, rcpt := range rcpts {
		err := sess.Rcpt(ctx, rcpt)
		if err == nil {
			accepted++
			continue
		}
		w.log.Error("RCPT TO rejected", err, "src", src.Path, "rcpt", rcpt)
		cls := "设置收件人 " + rcpt + " 失败: " + err.Error()
		if smtpconn.Fatal(err) {
			w.fail(cls, src, true)
			return true
		}
		w.st.AddDetail(cls, src.Path)
	}
	if accepted == 0 {
		w.log.Msg("every recipient was rejected", "src", src.Path)
		w.fail("所有收件人均设置失败", src, true)
		return false
	}

	wire, err := w.assemble(src, raw, parts, rcpts)
	if err != nil {
		w.log.Error("message assembly failed", err, "src", src.Path)
		var cls string
		switch mode {
		case config.ModeAttachment:
			cls = "生成邮件内容失败"
		case config.ModeAttachmentDir:
			cls = "生成邮件内容失败: " + err.Error()
		default:
			cls = "构建邮件内容失败: " + err.Error()
		}
		w.fail(cls, src, true)
		return false
	}

	if err := sess.Data(ctx, bytes.NewReader(wire)); err != nil {
		w.log.Error("DATA failed", err, "src", src.Path)
		if smtpconn.IsTimeout(err) {
			w.fail("邮件发送超时", src, true)
		} else {
			w.fail("邮件发送失败: "+err.Error(), src, true)
		}
		return smtpconn.Fatal(err)
	}

	sendDur := time.Since(sendStart)
	w.st.AddSuccess(parseDur, sendDur)
	sentEmails.Inc()
	sendDuration.Observe(sendDur.Seconds())
	w.log.DebugMsg("sent", "src", src.Path, "rcpts", accepted)
	return false
}

// assemble produces the wire bytes for one source per the header policy
// and mode.
func (w *worker) assemble(src source.Source, raw []byte, parts *compose.Parts, rcpts []string) ([]byte, error) {
	switch w.cfg.Mode() {
	case config.ModeAttachment, config.ModeAttachmentDir:
		att := compose.Attachment{
			Filename: src.Filename,
			Content:  raw,
			Subject:  compose.SubjectFor(w.cfg.SubjectTemplate, src.Filename),
			Text:     compose.TextFor(w.cfg.TextTemplate, src.Filename),
			HTML:     compose.HTMLFor(w.cfg.HTMLTemplate, src.Filename),
		}
		return compose.BuildAttachment(att, w.cfg.From, rcpts, w.hostname)
	default:
		// keep_headers and the default policy both send the file bytes
		// untouched; only modify_headers re-renders the message.
		if w.cfg.ModifyHeaders && parts != nil {
			return compose.Rebuild(parts, w.cfg.From, rcpts, w.hostname)
		}
		return raw, nil
	}
}
