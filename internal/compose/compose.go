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

// Package compose builds wire-ready message bytes.
//
// For existing .eml sources the default policy is to send the file
// bytes verbatim; the rewrite policy parses the file, keeps subject and
// bodies and renders a fresh message around them. For attachment
// sources a complete multipart message is generated from scratch.
package compose

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/textproto"
	"github.com/emersion/go-textwrapper"
	"github.com/google/uuid"
)

const dateLayout = "Mon, 2 Jan 2006 15:04:05 -0700"

// Parts is the content carried over from a parsed message.
type Parts struct {
	Subject string
	Text    string
	HTML    string
}

// ParseEml extracts the subject, the first text/plain body and the
// first text/html body of a message. Messages in unknown charsets are
// still accepted; undecodable bodies simply come back empty.
func ParseEml(raw []byte) (*Parts, error) {
	e, err := message.Read(bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) {
		return nil, err
	}

	parts := &Parts{Subject: e.Header.Get("Subject")}
	collectBodies(e, parts)
	return parts, nil
}

func collectBodies(e *message.Entity, parts *Parts) {
	if mr := e.MultipartReader(); mr != nil {
		for {
			p, err := mr.NextPart()
			if err != nil {
				return
			}
			collectBodies(p, parts)
		}
	}

	t, _, err := e.Header.ContentType()
	if err != nil {
		return
	}
	switch {
	case t == "text/plain" && parts.Text == "":
		if b, err := io.ReadAll(e.Body); err == nil {
			parts.Text = string(b)
		}
	case t == "text/html" && parts.HTML == "":
		if b, err := io.ReadAll(e.Body); err == nil {
			parts.HTML = string(b)
		}
	}
}

// Rebuild renders a fresh message around parts. Only the subject and
// bodies survive from the source; all other headers are newly
// generated, with the envelope sender and recipients taking over the
// From and To fields.
func Rebuild(parts *Parts, from string, to []string, hostname string) ([]byte, error) {
	var buf bytes.Buffer

	if parts.HTML == "" {
		h, err := messageHeader("text/plain; charset=utf-8", from, to, parts.Subject, hostname)
		if err != nil {
			return nil, err
		}
		if err := textproto.WriteHeader(&buf, h); err != nil {
			return nil, err
		}
		buf.WriteString(parts.Text)
		return buf.Bytes(), nil
	}

	mw := textproto.NewMultipartWriter(&buf)
	h, err := messageHeader("multipart/alternative; boundary="+mw.Boundary(), from, to, parts.Subject, hostname)
	if err != nil {
		return nil, err
	}
	if err := textproto.WriteHeader(&buf, h); err != nil {
		return nil, err
	}
	if err := writeTextPart(mw, "text/plain; charset=utf-8", parts.Text); err != nil {
		return nil, err
	}
	if err := writeTextPart(mw, "text/html; charset=utf-8", parts.HTML); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Attachment describes one generated attachment message.
type Attachment struct {
	Filename string
	Content  []byte
	Subject  string
	Text     string
	HTML     string
}

// BuildAttachment renders a multipart/mixed message: the configured
// text (and optional HTML alternative), followed by the file content as
// a base64 attachment part. The attachment MIME type is sniffed from
// the content, falling back to application/octet-stream.
func BuildAttachment(a Attachment, from string, to []string, hostname string) ([]byte, error) {
	var buf bytes.Buffer

	mw := textproto.NewMultipartWriter(&buf)
	h, err := messageHeader("multipart/mixed; boundary="+mw.Boundary(), from, to, a.Subject, hostname)
	if err != nil {
		return nil, err
	}
	if err := textproto.WriteHeader(&buf, h); err != nil {
		return nil, err
	}

	if a.HTML == "" {
		if err := writeTextPart(mw, "text/plain; charset=utf-8", a.Text); err != nil {
			return nil, err
		}
	} else {
		// The alternative container is rendered separately first so its
		// boundary is known when the enclosing part header is written.
		var alt bytes.Buffer
		aw := textproto.NewMultipartWriter(&alt)
		if err := writeTextPart(aw, "text/plain; charset=utf-8", a.Text); err != nil {
			return nil, err
		}
		if err := writeTextPart(aw, "text/html; charset=utf-8", a.HTML); err != nil {
			return nil, err
		}
		if err := aw.Close(); err != nil {
			return nil, err
		}

		ph := textproto.Header{}
		ph.Add("Content-Type", "multipart/alternative; boundary="+aw.Boundary())
		pw, err := mw.CreatePart(ph)
		if err != nil {
			return nil, err
		}
		if _, err := pw.Write(alt.Bytes()); err != nil {
			return nil, err
		}
	}

	ph := textproto.Header{}
	ph.Add("Content-Transfer-Encoding", "base64")
	ph.Add("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": a.Filename}))
	ph.Add("Content-Type", SniffType(a.Content))
	pw, err := mw.CreatePart(ph)
	if err != nil {
		return nil, err
	}
	enc := base64.NewEncoder(base64.StdEncoding, textwrapper.NewRFC822(pw))
	if _, err := enc.Write(a.Content); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}

	if err := mw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// SniffType guesses the MIME type of content from its leading bytes.
func SniffType(content []byte) string {
	return http.DetectContentType(content)
}

// SubjectFor expands the subject template for an attachment message.
func SubjectFor(template, filename string) string {
	if template == "" {
		return "附件: " + filename
	}
	return strings.ReplaceAll(template, "{filename}", filename)
}

// TextFor expands the text body template for an attachment message.
func TextFor(template, filename string) string {
	if template == "" {
		return "请查收附件: " + filename
	}
	return strings.ReplaceAll(template, "{filename}", filename)
}

// HTMLFor expands the optional HTML body template. An empty template
// means no HTML alternative is generated.
func HTMLFor(template, filename string) string {
	if template == "" {
		return ""
	}
	return strings.ReplaceAll(template, "{filename}", filename)
}

// messageHeader builds the top-level header. Fields are added in
// reverse because the header renders last-added first.
func messageHeader(contentType, from string, to []string, subject, hostname string) (textproto.Header, error) {
	h := textproto.Header{}

	h.Add("Content-Type", contentType)
	h.Add("MIME-Version", "1.0")
	h.Add("Date", time.Now().Format(dateLayout))

	msgID, err := uuid.NewRandom()
	if err != nil {
		return h, fmt.Errorf("compose: %w", err)
	}
	h.Add("Message-ID", "<"+msgID.String()+"@"+hostname+">")

	h.Add("Subject", mime.QEncoding.Encode("utf-8", subject))
	h.Add("To", strings.Join(to, ", "))
	h.Add("From", from)
	return h, nil
}

func writeTextPart(mw *textproto.MultipartWriter, contentType, body string) error {
	ph := textproto.Header{}
	ph.Add("Content-Transfer-Encoding", "8bit")
	ph.Add("Content-Type", contentType)
	pw, err := mw.CreatePart(ph)
	if err != nil {
		return err
	}
	_, err = io.WriteString(pw, body)
	return err
}
