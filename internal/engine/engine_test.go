package engine

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-smtp"

	"github.com/foxcpp/mailblast/internal/config"
	"github.com/foxcpp/mailblast/internal/locale"
	"github.com/foxcpp/mailblast/internal/smtpconn"
	"github.com/foxcpp/mailblast/internal/source"
	"github.com/foxcpp/mailblast/internal/testutils"
)

var testPort string

func TestMain(m *testing.M) {
	dontRecover = true

	remoteSmtpPort := flag.String("test.smtpport", "random", "(mailblast) SMTP port to use for connections in tests")
	flag.Parse()

	if *remoteSmtpPort == "random" {
		rand.Seed(time.Now().UnixNano())
		*remoteSmtpPort = strconv.Itoa(rand.Intn(65536-10000) + 10000)
	}

	testPort = *remoteSmtpPort
	os.Exit(m.Run())
}

// fakeSession records the command sequence so tests can assert the
// exact wire order without a live server.
type fakeSession struct {
	ops    []string
	data   [][]byte
	closed int
	direct int

	mailCalls int
	dataCalls int

	mailErr func(call int) error
	rcptErr func(rcpt string) error
	dataErr func(call int) error
	rsetErr error

	onData func()
}

func (f *fakeSession) Mail(_ context.Context, from string) error {
	f.mailCalls++
	f.ops = append(f.ops, "MAIL "+from)
	if f.mailErr != nil {
		return f.mailErr(f.mailCalls)
	}
	return nil
}

func (f *fakeSession) Rcpt(_ context.Context, to string) error {
	f.ops = append(f.ops, "RCPT "+to)
	if f.rcptErr != nil {
		return f.rcptErr(to)
	}
	return nil
}

func (f *fakeSession) Data(_ context.Context, msg io.Reader) error {
	f.dataCalls++
	f.ops = append(f.ops, "DATA")
	b, err := io.ReadAll(msg)
	if err != nil {
		return err
	}
	f.data = append(f.data, b)
	if f.onData != nil {
		f.onData()
	}
	if f.dataErr != nil {
		return f.dataErr(f.dataCalls)
	}
	return nil
}

func (f *fakeSession) Rset(_ context.Context) error {
	f.ops = append(f.ops, "RSET")
	return f.rsetErr
}

func (f *fakeSession) Close() error {
	f.closed++
	return nil
}

func (f *fakeSession) DirectClose() error {
	f.direct++
	return nil
}

func (f *fakeSession) rsets() int {
	n := 0
	for _, op := range f.ops {
		if op == "RSET" {
			n++
		}
	}
	return n
}

// fakeDialer hands out fakeSessions and records the requested postures.
type fakeDialer struct {
	sessions  []*fakeSession
	postures  []smtpconn.Security
	configure func(next int, s *fakeSession)
	err       error
}

func (d *fakeDialer) open(_ context.Context, posture smtpconn.Security) (session, error) {
	d.postures = append(d.postures, posture)
	if d.err != nil {
		return nil, d.err
	}
	s := &fakeSession{}
	if d.configure != nil {
		d.configure(len(d.sessions), s)
	}
	d.sessions = append(d.sessions, s)
	return s, nil
}

func emlDir(t *testing.T, names ...string) string {
	t.Helper()

	dir := t.TempDir()
	for _, n := range names {
		body := "Subject: " + n + "\r\n\r\nbody of " + n + "\r\n"
		if err := os.WriteFile(filepath.Join(dir, n), []byte(body), 0o600); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func testConfig(dir string) *config.Config {
	cfg := config.Default()
	cfg.SMTPServer = "127.0.0.1"
	cfg.From = "sender@example.org"
	cfg.To = "rcpt@example.org"
	cfg.Dir = dir
	cfg.BatchSize = 10
	cfg.Processes = "1"
	return &cfg
}

func testEngine(t *testing.T, cfg *config.Config) (*Engine, *fakeDialer) {
	t.Helper()

	e := New(cfg, testutils.Logger(t, "engine"))
	d := &fakeDialer{}
	e.open = d.open
	return e, d
}

func TestSingleEmlPlainHappyPath(t *testing.T) {
	dir := emlDir(t, "a.eml")
	cfg := testConfig(dir)
	cfg.BatchSize = 1
	port, err := strconv.Atoi(testPort)
	if err != nil {
		t.Fatal(err)
	}
	cfg.Port = port

	be, srv := testutils.SMTPServer(t, "127.0.0.1:"+testPort)
	defer srv.Close()
	defer testutils.CheckSMTPConnLeak(t, be)

	e := New(cfg, testutils.Logger(t, "engine"))
	st, err := e.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	sn := st.Snapshot()
	if sn.EmailCount != 1 || sn.SendErrors != 0 || sn.ParseErrors != 0 {
		t.Errorf("Wrong counters: success=%d send=%d parse=%d", sn.EmailCount, sn.SendErrors, sn.ParseErrors)
	}
	if be.SessionCounter != 1 {
		t.Errorf("Expected 1 session, got %d", be.SessionCounter)
	}
	if be.MailFromCounter != 1 {
		t.Errorf("Expected 1 MAIL FROM, got %d", be.MailFromCounter)
	}
	be.CheckMsg(t, 0, "sender@example.org", []string{"rcpt@example.org"})

	original, err := os.ReadFile(filepath.Join(dir, "a.eml"))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(be.Messages[0].Data, original) {
		t.Error("DATA payload does not match the source file")
	}
}

func TestBatchOfThreeRsetBetween(t *testing.T) {
	dir := emlDir(t, "a.eml", "b.eml", "c.eml")
	cfg := testConfig(dir)

	e, d := testEngine(t, cfg)
	st, err := e.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	if len(d.sessions) != 1 {
		t.Fatalf("Expected 1 session, got %d", len(d.sessions))
	}
	sess := d.sessions[0]

	want := []string{
		"MAIL sender@example.org", "RCPT rcpt@example.org", "DATA",
		"RSET",
		"MAIL sender@example.org", "RCPT rcpt@example.org", "DATA",
		"RSET",
		"MAIL sender@example.org", "RCPT rcpt@example.org", "DATA",
	}
	if !reflect.DeepEqual(sess.ops, want) {
		t.Errorf("Wrong wire sequence:\n got %v\nwant %v", sess.ops, want)
	}
	if sess.closed != 1 {
		t.Errorf("Expected exactly one QUIT, got %d", sess.closed)
	}

	sn := st.Snapshot()
	if sn.EmailCount != 3 || sn.Failed() != 0 {
		t.Errorf("Wrong counters: success=%d failed=%d", sn.EmailCount, sn.Failed())
	}
}

// RSET discipline: transactions_attempted - 1 resets within one session
// unless the batch aborts early.
func TestRsetDiscipline(t *testing.T) {
	dir := emlDir(t, "a.eml", "b.eml", "c.eml", "d.eml", "e.eml")
	cfg := testConfig(dir)

	e, d := testEngine(t, cfg)
	if _, err := e.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	sess := d.sessions[0]
	if sess.mailCalls-1 != sess.rsets() {
		t.Errorf("Expected %d RSETs for %d transactions, got %d",
			sess.mailCalls-1, sess.mailCalls, sess.rsets())
	}
}

func Test421MidBatch(t *testing.T) {
	dir := emlDir(t, "a.eml", "b.eml", "c.eml", "d.eml", "e.eml")
	cfg := testConfig(dir)

	e, d := testEngine(t, cfg)
	d.configure = func(next int, s *fakeSession) {
		if next == 0 {
			s.mailErr = func(call int) error {
				if call == 2 {
					return &smtp.SMTPError{Code: 421, Message: "Service not available"}
				}
				return nil
			}
		}
	}

	st, err := e.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	if len(d.sessions) != 2 {
		t.Fatalf("Expected a fresh session after the 421, got %d sessions", len(d.sessions))
	}
	if d.sessions[0].direct != 1 {
		t.Error("Poisoned session was not discarded")
	}
	if d.sessions[1].closed != 1 {
		t.Error("Replacement session was not QUIT at chunk end")
	}

	// The first session carried one full transaction and the rejected
	// MAIL; the replacement carried the remaining three.
	if d.sessions[0].dataCalls != 1 || d.sessions[1].dataCalls != 3 {
		t.Errorf("Wrong transaction split: %d + %d", d.sessions[0].dataCalls, d.sessions[1].dataCalls)
	}

	sn := st.Snapshot()
	if sn.EmailCount != 4 || sn.SendErrors != 1 {
		t.Errorf("Wrong counters: success=%d send_errors=%d", sn.EmailCount, sn.SendErrors)
	}
	found := false
	for class := range sn.ErrorDetails {
		if strings.Contains(class, "421") && strings.HasPrefix(class, "设置发件人失败") {
			found = true
		}
	}
	if !found {
		t.Errorf("No sender-failure class mentioning 421: %v", sn.ErrorDetails)
	}
}

func TestRsetFailureDiscardsSession(t *testing.T) {
	dir := emlDir(t, "a.eml", "b.eml", "c.eml")
	cfg := testConfig(dir)

	e, d := testEngine(t, cfg)
	d.configure = func(next int, s *fakeSession) {
		if next == 0 {
			s.rsetErr = &smtp.SMTPError{Code: 451, Message: "Local error in processing"}
		}
	}

	st, err := e.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	// The transaction before the failed RSET already completed, so only
	// the session is lost: the remainder runs on a fresh one.
	if len(d.sessions) != 2 {
		t.Fatalf("Expected a fresh session after the failed RSET, got %d sessions", len(d.sessions))
	}
	if d.sessions[0].direct != 1 {
		t.Error("Session with the failed RSET was not discarded")
	}
	if d.sessions[0].dataCalls != 1 || d.sessions[1].dataCalls != 2 {
		t.Errorf("Wrong transaction split: %d + %d", d.sessions[0].dataCalls, d.sessions[1].dataCalls)
	}
	if d.sessions[1].closed != 1 {
		t.Error("Replacement session was not QUIT at chunk end")
	}

	sn := st.Snapshot()
	if sn.EmailCount != 3 || sn.Failed() != 0 {
		t.Errorf("Wrong counters: success=%d failed=%d", sn.EmailCount, sn.Failed())
	}
}

func TestAuthWithoutTLSNeverConnects(t *testing.T) {
	dir := emlDir(t, "a.eml", "b.eml", "c.eml")
	cfg := testConfig(dir)
	cfg.AuthMode = true
	cfg.Username = "tester"
	cfg.Password = "secret"
	cfg.UseTLS = false

	// Real dial path, no stand-in. The tarpit fails the test if the
	// engine opens a TCP connection despite the rejected credentials.
	port, err := strconv.Atoi(testPort)
	if err != nil {
		t.Fatal(err)
	}
	cfg.Port = port
	tarpit := testutils.FailOnConn(t, "127.0.0.1:"+testPort)
	defer tarpit.Close()

	e := New(cfg, testutils.Logger(t, "engine"))
	st, err := e.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	sn := st.Snapshot()
	if sn.EmailCount != 0 {
		t.Errorf("Expected no successes, got %d", sn.EmailCount)
	}
	if sn.ErrorDetails["认证失败: 需要TLS连接"] != 3 {
		t.Errorf("Wrong class table: %v", sn.ErrorDetails)
	}
	if len(sn.FailedFiles["认证失败: 需要TLS连接"]) != 3 {
		t.Errorf("Wrong failed-file list: %v", sn.FailedFiles)
	}
}

func TestAuthMissingCredentials(t *testing.T) {
	dir := emlDir(t, "a.eml")
	cfg := testConfig(dir)
	cfg.AuthMode = true
	cfg.UseTLS = true
	cfg.Username = "tester"
	// no password

	e, d := testEngine(t, cfg)
	st, err := e.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	if len(d.postures) != 0 {
		t.Errorf("Expected no connection attempts, got %d", len(d.postures))
	}
	sn := st.Snapshot()
	if sn.ErrorDetails["认证失败: 缺少用户名或密码"] != 1 {
		t.Errorf("Wrong class table: %v", sn.ErrorDetails)
	}
}

func TestMissingAttachmentFailsWithoutConnecting(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(dir)
	cfg.Dir = ""
	cfg.Attachment = filepath.Join(dir, "nope.pdf")

	e, d := testEngine(t, cfg)
	st, err := e.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	if len(d.postures) != 0 {
		t.Errorf("Expected no connection attempts, got %d", len(d.postures))
	}
	sn := st.Snapshot()
	if sn.EmailCount != 0 || sn.ParseErrors != 1 {
		t.Errorf("Wrong counts: %d sent, %d parse errors", sn.EmailCount, sn.ParseErrors)
	}
	if sn.ErrorDetails["附件文件不存在"] != 1 {
		t.Errorf("Wrong class table: %v", sn.ErrorDetails)
	}
}

func TestCancellationAfterFirstSuccess(t *testing.T) {
	dir := emlDir(t, "a.eml", "b.eml")
	cfg := testConfig(dir)
	cfg.EmailSendIntervalMs = 1000

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	e, d := testEngine(t, cfg)
	d.configure = func(next int, s *fakeSession) {
		s.onData = cancel
	}

	start := time.Now()
	st, err := e.Run(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("Cancellation did not interrupt the interval sleep, took %v", elapsed)
	}

	sess := d.sessions[0]
	want := []string{"MAIL sender@example.org", "RCPT rcpt@example.org", "DATA"}
	if !reflect.DeepEqual(sess.ops, want) {
		t.Errorf("Commands after cancellation:\n got %v\nwant %v", sess.ops, want)
	}
	if sess.closed != 1 {
		t.Errorf("Expected exactly one QUIT, got %d", sess.closed)
	}

	sn := st.Snapshot()
	if sn.EmailCount != 1 || sn.Failed() != 0 {
		t.Errorf("Wrong counters: success=%d failed=%d", sn.EmailCount, sn.Failed())
	}
}

func TestBatchSizeOneIsolation(t *testing.T) {
	dir := emlDir(t, "a.eml", "b.eml", "c.eml")
	cfg := testConfig(dir)
	cfg.BatchSize = 1

	e, d := testEngine(t, cfg)
	st, err := e.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	if len(d.sessions) != 3 {
		t.Fatalf("Expected one session per message, got %d", len(d.sessions))
	}
	for i, sess := range d.sessions {
		if sess.closed != 1 {
			t.Errorf("Session %d: expected one QUIT, got %d", i, sess.closed)
		}
		if sess.rsets() != 0 {
			t.Errorf("Session %d: unexpected RSET in a single-transaction session", i)
		}
	}
	if sn := st.Snapshot(); sn.EmailCount != 3 {
		t.Errorf("Wrong success count: %d", sn.EmailCount)
	}
}

func TestAttachmentDirMode(t *testing.T) {
	dir := t.TempDir()
	pdf := append([]byte("%PDF-1.4\n"), bytes.Repeat([]byte{'x'}, 64)...)
	bin := []byte{0x01, 0x02, 0x03, 0xff, 0xfe, 0x00, 0x7f}
	if err := os.WriteFile(filepath.Join(dir, "r.pdf"), pdf, 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "q.bin"), bin, 0o600); err != nil {
		t.Fatal(err)
	}

	cfg := testConfig("")
	cfg.Dir = ""
	cfg.AttachmentDir = dir
	cfg.SubjectTemplate = "File {filename}"
	// TLS and auth settings are ignored in this mode, the connection is
	// opened plain.
	cfg.UseTLS = true
	cfg.AuthMode = true
	cfg.Username = "tester"
	cfg.Password = "secret"

	e, d := testEngine(t, cfg)
	st, err := e.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	if len(d.postures) != 1 || d.postures[0] != smtpconn.SecurityNone {
		t.Errorf("Expected a single plain connection, got %v", d.postures)
	}

	sess := d.sessions[0]
	if len(sess.data) != 2 {
		t.Fatalf("Expected 2 messages, got %d", len(sess.data))
	}

	byName := map[string]string{}
	for _, data := range sess.data {
		s := string(data)
		switch {
		case strings.Contains(s, "Subject: File r.pdf"):
			byName["r.pdf"] = s
		case strings.Contains(s, "Subject: File q.bin"):
			byName["q.bin"] = s
		}
	}
	if len(byName) != 2 {
		t.Fatalf("Missing subject lines in payloads")
	}
	if !strings.Contains(byName["r.pdf"], "application/pdf") {
		t.Error("PDF attachment was not sniffed as application/pdf")
	}
	if !strings.Contains(byName["q.bin"], "application/octet-stream") {
		t.Error("Unknown attachment did not fall back to application/octet-stream")
	}

	if sn := st.Snapshot(); sn.EmailCount != 2 {
		t.Errorf("Wrong success count: %d", sn.EmailCount)
	}
}

func TestFailedEmailSinkKeepsOriginalBytes(t *testing.T) {
	dir := t.TempDir()
	original := []byte("Subject: t\r\n\r\ncontact admin@corp.example now\r\n")
	if err := os.WriteFile(filepath.Join(dir, "a.eml"), original, 0o600); err != nil {
		t.Fatal(err)
	}

	cfg := testConfig(dir)
	cfg.AnonymizeEmails = true
	cfg.FailedEmailsDir = filepath.Join(t.TempDir(), "failed")

	e, d := testEngine(t, cfg)
	d.configure = func(next int, s *fakeSession) {
		s.dataErr = func(int) error {
			return &smtp.SMTPError{Code: 554, Message: "No"}
		}
	}

	st, err := e.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	// The wire copy was anonymized, the sink copy must not be.
	sess := d.sessions[0]
	if bytes.Contains(sess.data[0], []byte("admin@corp.example")) {
		t.Error("Wire bytes were not anonymized")
	}

	entries, err := os.ReadDir(cfg.FailedEmailsDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("Expected 1 sinked file, got %d", len(entries))
	}
	if ok, _ := regexp.MatchString(`^a_\d+\.eml$`, entries[0].Name()); !ok {
		t.Errorf("Wrong sink name: %q", entries[0].Name())
	}
	sinked, err := os.ReadFile(filepath.Join(cfg.FailedEmailsDir, entries[0].Name()))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(sinked, original) {
		t.Error("Sinked bytes differ from the original source")
	}

	if sn := st.Snapshot(); sn.SendErrors != 1 {
		t.Errorf("Wrong send_errors: %d", sn.SendErrors)
	}
}

func TestSaveFailedNaming(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"a.eml", `^a_\d+\.eml$`},
		{"two.dots.eml", `^two\.dots_\d+\.eml$`},
		{".env", `^_\d+\.env$`},
		{"noext", `^noext_\d+$`},
	}
	for _, test := range tests {
		dir := t.TempDir()
		sink := filepath.Join(dir, "failed")
		path := filepath.Join(dir, test.name)
		if err := os.WriteFile(path, []byte("body"), 0o600); err != nil {
			t.Fatal(err)
		}

		if err := saveFailed(sink, source.Source{Path: path, Filename: test.name}); err != nil {
			t.Fatal(err)
		}

		entries, err := os.ReadDir(sink)
		if err != nil {
			t.Fatal(err)
		}
		if len(entries) != 1 {
			t.Fatalf("%s: expected 1 sinked file, got %d", test.name, len(entries))
		}
		if ok, _ := regexp.MatchString(test.want, entries[0].Name()); !ok {
			t.Errorf("%s: sink name %q does not match %s", test.name, entries[0].Name(), test.want)
		}
	}
}

func TestPartialRecipientRejection(t *testing.T) {
	dir := emlDir(t, "a.eml")
	cfg := testConfig(dir)
	cfg.To = "good@example.org, bad@example.org"

	e, d := testEngine(t, cfg)
	d.configure = func(next int, s *fakeSession) {
		s.rcptErr = func(rcpt string) error {
			if rcpt == "bad@example.org" {
				return &smtp.SMTPError{Code: 550, Message: "No such user"}
			}
			return nil
		}
	}

	st, err := e.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	// One recipient was accepted, so the transaction proceeds and the
	// message still counts as sent. The rejection stays visible in the
	// class table.
	sn := st.Snapshot()
	if sn.EmailCount != 1 || sn.SendErrors != 0 {
		t.Errorf("Wrong counters: success=%d send_errors=%d", sn.EmailCount, sn.SendErrors)
	}
	found := false
	for class := range sn.ErrorDetails {
		if strings.HasPrefix(class, "设置收件人 bad@example.org 失败") {
			found = true
		}
	}
	if !found {
		t.Errorf("Missing per-recipient class: %v", sn.ErrorDetails)
	}
}

func TestAllRecipientsRejected(t *testing.T) {
	dir := emlDir(t, "a.eml")
	cfg := testConfig(dir)
	cfg.FailedEmailsDir = filepath.Join(t.TempDir(), "failed")

	e, d := testEngine(t, cfg)
	d.configure = func(next int, s *fakeSession) {
		s.rcptErr = func(string) error {
			return &smtp.SMTPError{Code: 550, Message: "No such user"}
		}
	}

	st, err := e.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	sess := d.sessions[0]
	for _, op := range sess.ops {
		if op == "DATA" {
			t.Error("DATA sent despite every recipient being rejected")
		}
	}

	sn := st.Snapshot()
	if sn.EmailCount != 0 || sn.SendErrors != 1 {
		t.Errorf("Wrong counters: success=%d send_errors=%d", sn.EmailCount, sn.SendErrors)
	}
	if sn.ErrorDetails["所有收件人均设置失败"] != 1 {
		t.Errorf("Missing terminal class: %v", sn.ErrorDetails)
	}
	if entries, _ := os.ReadDir(cfg.FailedEmailsDir); len(entries) != 1 {
		t.Error("Source was not persisted to the sink")
	}
}

func TestConnectFailureFailsWholeBatch(t *testing.T) {
	dir := emlDir(t, "a.eml", "b.eml")
	cfg := testConfig(dir)

	e, d := testEngine(t, cfg)
	d.err = fmt.Errorf("dial tcp: connection refused")

	st, err := e.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	sn := st.Snapshot()
	if sn.ErrorDetails["SMTP连接失败"] != 2 {
		t.Errorf("Wrong class table: %v", sn.ErrorDetails)
	}
	if sn.EmailCount != 0 {
		t.Errorf("Expected no successes, got %d", sn.EmailCount)
	}
}

func TestPartitionTotality(t *testing.T) {
	var srcs []source.Source
	for i := 0; i < 7; i++ {
		srcs = append(srcs, source.Source{Path: strconv.Itoa(i)})
	}

	for _, workers := range []int{1, 2, 3, 7, 10} {
		chunks := partition(srcs, workers)

		var flat []source.Source
		for _, c := range chunks {
			flat = append(flat, c...)
		}
		if !reflect.DeepEqual(flat, srcs) {
			t.Errorf("workers=%d: concatenated chunks differ from the input", workers)
		}

		per := (len(srcs) + workers - 1) / workers
		for i, c := range chunks {
			if len(c) > per {
				t.Errorf("workers=%d: chunk %d larger than ceil(total/workers)", workers, i)
			}
		}
	}
}

func TestRunWorkerPanic(t *testing.T) {
	dontRecover = false
	defer func() { dontRecover = true }()

	dir := emlDir(t, "a.eml")
	cfg := testConfig(dir)

	e, _ := testEngine(t, cfg)
	e.open = func(context.Context, smtpconn.Security) (session, error) {
		panic("boom")
	}

	_, err := e.Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "panicked") {
		t.Errorf("Expected a panic-derived error, got %v", err)
	}
}

func TestRunLoopRepeats(t *testing.T) {
	dir := emlDir(t, "a.eml")
	cfg := testConfig(dir)
	cfg.Repeat = 2
	cfg.LoopInterval = 0

	e, d := testEngine(t, cfg)
	cum, rounds, err := e.RunLoop(context.Background(), locale.For(locale.English))
	if err != nil {
		t.Fatal(err)
	}

	if rounds != 2 {
		t.Errorf("Expected 2 successful rounds, got %d", rounds)
	}
	if sn := cum.Snapshot(); sn.EmailCount != 2 {
		t.Errorf("Cumulative success count: %d", sn.EmailCount)
	}
	if len(d.sessions) != 2 {
		t.Errorf("Expected one session per round, got %d", len(d.sessions))
	}
}

func TestRunLoopSurfacesErrorWithoutLoop(t *testing.T) {
	cfg := testConfig("")
	cfg.Dir = ""
	cfg.AttachmentDir = filepath.Join(t.TempDir(), "missing")

	e, _ := testEngine(t, cfg)
	_, rounds, err := e.RunLoop(context.Background(), locale.For(locale.English))
	if err == nil {
		t.Fatal("Expected an error, got none")
	}
	if rounds != 0 {
		t.Errorf("Expected 0 successful rounds, got %d", rounds)
	}
}

func TestRunLoopRetriesUntilCancelled(t *testing.T) {
	cfg := testConfig("")
	cfg.Dir = ""
	cfg.AttachmentDir = filepath.Join(t.TempDir(), "missing")
	cfg.Loop = true
	cfg.RetryInterval = 1

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	e, _ := testEngine(t, cfg)
	_, rounds, err := e.RunLoop(ctx, locale.For(locale.English))
	if err != nil {
		t.Errorf("Loop mode must swallow round errors, got %v", err)
	}
	if rounds != 0 {
		t.Errorf("Expected 0 successful rounds, got %d", rounds)
	}
}
