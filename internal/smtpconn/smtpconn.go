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

// Package smtpconn wraps one client SMTP session (go-smtp.Client) with
// the features the sending engine needs:
// - Implicit TLS, STARTTLS and plaintext connection postures.
// - PLAIN/LOGIN authentication.
// - Logging of certain errors (e.g. QUIT command errors).
// - Wrapping of returned errors using the exterrors package.
// - Classification of errors that poison the session (Fatal).
package smtpconn

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"runtime/trace"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"golang.org/x/net/idna"

	"github.com/foxcpp/mailblast/framework/exterrors"
	"github.com/foxcpp/mailblast/framework/log"
)

// Security selects the TLS posture of a connection.
type Security int

const (
	// SecurityNone uses a plaintext connection.
	SecurityNone Security = iota
	// SecuritySTARTTLS requires a successful STARTTLS upgrade after EHLO.
	SecuritySTARTTLS
	// SecurityTLS wraps the socket in TLS before any SMTP exchange
	// (implicit TLS, the port 465 convention).
	SecurityTLS
)

func (s Security) String() string {
	switch s {
	case SecuritySTARTTLS:
		return "starttls"
	case SecurityTLS:
		return "tls"
	}
	return "none"
}

// The C object represents one SMTP session and is a wrapper around
// go-smtp.Client. It cannot be reused after Close.
type C struct {
	// Dialer to use to establish new network connections. Set to net.Dialer
	// DialContext by New.
	Dialer func(ctx context.Context, network, addr string) (net.Conn, error)

	// Timeout for most session commands (EHLO, MAIL, RCPT, RSET).
	CommandTimeout time.Duration

	// Timeout for the initial TCP connection establishment.
	ConnectTimeout time.Duration

	// Timeout for the DATA stream and the final dot.
	SubmissionTimeout time.Duration

	// Hostname to send in the EHLO/HELO command. Set to
	// 'localhost.localdomain' by New. Expected to be encoded in ACE form.
	Hostname string

	// tls.Config to use. Can be nil if no special changes are required.
	TLSConfig *tls.Config

	// Logger to use for debug log and certain errors.
	Log log.Logger

	serverName string
	cl         *smtp.Client
}

// New creates the new instance of the C object, populating the required
// fields with reasonable default values.
func New() *C {
	return &C{
		Dialer:            (&net.Dialer{}).DialContext,
		ConnectTimeout:    time.Minute,
		CommandTimeout:    30 * time.Second,
		SubmissionTimeout: 2 * time.Minute,
		TLSConfig:         &tls.Config{},
		Hostname:          "localhost.localdomain",
	}
}

func (c *C) wrapClientErr(err error, serverName string) error {
	if err == nil {
		return nil
	}

	switch err := err.(type) {
	case TLSError:
		return err
	case *smtp.SMTPError:
		return exterrors.WithFields(err, map[string]interface{}{
			"remote_server": serverName,
			"smtp_code":     err.Code,
		})
	case *net.OpError:
		return exterrors.WithFields(err, map[string]interface{}{
			"remote_server": serverName,
			"io_op":         err.Op,
		})
	default:
		return exterrors.WithFields(err, map[string]interface{}{
			"remote_server": serverName,
		})
	}
}

// TLSError is returned by Connect to indicate an error during the
// STARTTLS command execution.
//
// If the connection uses implicit TLS, TLS errors are treated as
// connection errors and thus are not returned as TLSError.
type TLSError struct {
	Err error
}

func (err TLSError) Error() string {
	return "smtpconn: " + err.Err.Error()
}

func (err TLSError) Unwrap() error {
	return err.Err
}

// Connect establishes the network connection with the remote host,
// executes HELO/EHLO and negotiates the requested security posture.
// Non-ASCII hostnames are converted to the ACE form before dialing.
func (c *C) Connect(ctx context.Context, host string, port int, security Security) error {
	aceHost, err := idna.ToASCII(host)
	if err != nil {
		return exterrors.WithFields(err, map[string]interface{}{
			"remote_server": host,
		})
	}

	cl, err := c.attemptConnect(ctx, aceHost, port, security)
	if err != nil {
		return c.wrapClientErr(err, aceHost)
	}

	c.serverName = aceHost
	c.cl = cl
	c.Log.DebugMsg("connected", "remote_server", aceHost, "security", security.String())
	return nil
}

func (c *C) attemptConnect(ctx context.Context, host string, port int, security Security) (*smtp.Client, error) {
	dialCtx, cancel := context.WithTimeout(ctx, c.ConnectTimeout)
	conn, err := c.Dialer(dialCtx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	cancel()
	if err != nil {
		return nil, err
	}

	if security == SecurityTLS {
		cfg := c.tlsConfig(host)
		conn = tls.Client(conn, cfg)
	}

	cl := smtp.NewClient(conn)
	cl.CommandTimeout = c.CommandTimeout
	cl.SubmissionTimeout = c.SubmissionTimeout

	if err := cl.Hello(c.Hostname); err != nil {
		cl.Close()
		return nil, err
	}

	if security != SecuritySTARTTLS {
		return cl, nil
	}

	if ok, _ := cl.Extension("STARTTLS"); !ok {
		if err := cl.Quit(); err != nil {
			cl.Close()
		}
		return nil, TLSError{errors.New("server does not support STARTTLS")}
	}

	if err := cl.StartTLS(c.tlsConfig(host)); err != nil {
		// After a handshake failure the connection may be in a bad state.
		// We attempt to send the proper QUIT command though, in case the
		// error happened *after* the handshake (e.g. PKI verification
		// fail); we don't log the error in this case.
		if err := cl.Quit(); err != nil {
			cl.Close()
		}

		return nil, TLSError{err}
	}

	return cl, nil
}

func (c *C) tlsConfig(serverName string) *tls.Config {
	var cfg *tls.Config
	if c.TLSConfig != nil {
		cfg = c.TLSConfig.Clone()
	} else {
		cfg = &tls.Config{}
	}
	cfg.ServerName = serverName
	return cfg
}

// Auth authenticates the session, preferring PLAIN and falling back to
// LOGIN when the server advertises only that.
func (c *C) Auth(username, password string) error {
	ok, mechs := c.cl.Extension("AUTH")

	// PLAIN is attempted even when AUTH is not advertised, the server
	// rejection is more useful to the operator than a local guess.
	var client sasl.Client
	if ok && strings.Contains(mechs, "LOGIN") && !strings.Contains(mechs, "PLAIN") {
		client = sasl.NewLoginClient(username, password)
	} else {
		client = sasl.NewPlainClient("", username, password)
	}

	if err := c.cl.Auth(client); err != nil {
		return c.wrapClientErr(err, c.serverName)
	}
	return nil
}

// Mail sends the MAIL FROM command to the remote server.
func (c *C) Mail(ctx context.Context, from string) error {
	defer trace.StartRegion(ctx, "smtpconn/MAIL FROM").End()

	if err := c.cl.Mail(from, nil); err != nil {
		return c.wrapClientErr(err, c.serverName)
	}
	return nil
}

// Rcpt sends the RCPT TO command to the remote server.
func (c *C) Rcpt(ctx context.Context, to string) error {
	defer trace.StartRegion(ctx, "smtpconn/RCPT TO").End()

	if err := c.cl.Rcpt(to, nil); err != nil {
		return c.wrapClientErr(err, c.serverName)
	}
	return nil
}

// Data sends the DATA command and streams msg, which must be a complete
// message including the header.
//
// If the command fails mid-stream, the connection may be in an unclean
// state (e.g. in the middle of the message data). It is not safe to
// continue using it.
func (c *C) Data(ctx context.Context, msg io.Reader) error {
	defer trace.StartRegion(ctx, "smtpconn/DATA").End()

	wc, err := c.cl.Data()
	if err != nil {
		return c.wrapClientErr(err, c.serverName)
	}

	if _, err := io.Copy(wc, msg); err != nil {
		return c.wrapClientErr(err, c.serverName)
	}

	if err := wc.Close(); err != nil {
		return c.wrapClientErr(err, c.serverName)
	}

	return nil
}

// Rset aborts the current mail transaction, keeping the session usable
// for the next one.
func (c *C) Rset(ctx context.Context) error {
	defer trace.StartRegion(ctx, "smtpconn/RSET").End()

	if err := c.cl.Reset(); err != nil {
		return c.wrapClientErr(err, c.serverName)
	}
	return nil
}

// Noop pings the server without affecting the session state.
func (c *C) Noop() error {
	if c.cl == nil {
		return errors.New("smtpconn: not connected")
	}

	return c.cl.Noop()
}

// Close sends the QUIT command, if it fails - it directly closes the
// connection.
func (c *C) Close() error {
	if err := c.cl.Quit(); err != nil {
		c.Log.Error("QUIT error", c.wrapClientErr(err, c.serverName))
		return c.cl.Close()
	}

	c.cl = nil
	c.serverName = ""

	return nil
}

// DirectClose closes the underlying connection without sending the QUIT
// command.
func (c *C) DirectClose() error {
	c.cl.Close()
	c.cl = nil
	c.serverName = ""
	return nil
}
