package stats

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/foxcpp/mailblast/internal/locale"
)

func TestClassTablesStayLinked(t *testing.T) {
	s := New()
	s.AddFailure("邮件发送失败: 550 no", "/mail/a.eml")
	s.AddFailure("邮件发送失败: 550 no", "/mail/b.eml")
	s.AddParseFailure("读取文件失败: permission denied", "/mail/c.eml")
	s.AddDetail("设置收件人 x@example.org 失败: 550", "/mail/d.eml")

	sn := s.Snapshot()
	for class, count := range sn.ErrorDetails {
		if got := len(sn.FailedFiles[class]); got != count {
			t.Errorf("%s: %d files for count %d", class, got, count)
		}
	}
	if sn.SendErrors != 2 || sn.ParseErrors != 1 {
		t.Errorf("terminal buckets: send=%d parse=%d", sn.SendErrors, sn.ParseErrors)
	}
}

func TestOutcomePartition(t *testing.T) {
	s := New()
	s.AddSuccess(time.Millisecond, 2*time.Millisecond)
	s.AddSuccess(time.Millisecond, 2*time.Millisecond)
	s.AddFailure("邮件发送超时", "/mail/a.eml")
	s.AddParseFailure("无法解析邮件文件", "/mail/b.eml")
	// Detail records must not shift the outcome buckets.
	s.AddDetail("设置收件人 x@example.org 失败: 550", "/mail/a.eml")

	sn := s.Snapshot()
	if sn.Attempts() != 4 {
		t.Errorf("attempts: got %d, want 4", sn.Attempts())
	}
	if sn.EmailCount != 2 || sn.Failed() != 2 {
		t.Errorf("partition: success=%d failed=%d", sn.EmailCount, sn.Failed())
	}
}

func TestMerge(t *testing.T) {
	a := New()
	a.AddSuccess(1*time.Millisecond, 10*time.Millisecond)
	a.AddFailure("邮件发送超时", "/mail/a.eml")

	b := New()
	b.AddSuccess(2*time.Millisecond, 20*time.Millisecond)
	b.AddFailure("邮件发送超时", "/mail/b.eml")
	b.AddParseFailure("无法解析邮件文件", "/mail/c.eml")

	a.Merge(b)
	sn := a.Snapshot()

	if sn.EmailCount != 2 || sn.SendErrors != 2 || sn.ParseErrors != 1 {
		t.Errorf("counts after merge: %+v", sn)
	}
	if len(sn.ParseDurations) != 2 || sn.ParseDurations[0] != time.Millisecond || sn.ParseDurations[1] != 2*time.Millisecond {
		t.Errorf("sample order not preserved: %v", sn.ParseDurations)
	}
	if sn.ErrorDetails["邮件发送超时"] != 2 {
		t.Errorf("class counts not summed: %v", sn.ErrorDetails)
	}
	want := []string{"/mail/a.eml", "/mail/b.eml"}
	got := sn.FailedFiles["邮件发送超时"]
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("file lists not concatenated in order: %v", got)
	}
}

func TestMergeKeepsTotalDuration(t *testing.T) {
	a := New()
	a.SetTotalDuration(time.Minute)
	b := New()
	b.SetTotalDuration(time.Second)
	a.Merge(b)
	if d := a.Snapshot().TotalDuration; d != time.Minute {
		t.Errorf("merge must not touch total duration, got %v", d)
	}
}

func TestConcurrentRecording(t *testing.T) {
	s := New()
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				switch i % 3 {
				case 0:
					s.AddSuccess(time.Microsecond, time.Microsecond)
				case 1:
					s.AddFailure("邮件发送失败: 550", "/mail/x.eml")
				case 2:
					s.AddParseFailure("读取文件失败: gone", "/mail/y.eml")
				}
			}
		}(w)
	}
	wg.Wait()

	sn := s.Snapshot()
	if sn.Attempts() != 800 {
		t.Errorf("attempts: got %d, want 800", sn.Attempts())
	}
	for class, count := range sn.ErrorDetails {
		if len(sn.FailedFiles[class]) != count {
			t.Errorf("%s: count/files diverged under concurrency", class)
		}
	}
}

func TestRenderChinese(t *testing.T) {
	s := New()
	s.AddSuccess(time.Millisecond, time.Millisecond)
	s.AddFailure("邮件发送超时", "/mail/slow.eml")
	s.AddFailure("邮件发送超时", "/mail/slower.eml")
	s.AddFailure("邮件发送失败: 550 mailbox full", "/mail/full.eml")
	s.SetTotalDuration(2 * time.Second)

	out := s.Snapshot().Render(locale.For(locale.SimplifiedChinese))

	for _, want := range []string{
		"邮件发送统计报告",
		"总计处理: 4 封邮件",
		"成功发送: 1 封",
		"总计失败: 3 封",
		"邮件发送超时 - 2 封 (50.0%)",
		"失败文件列表:",
		"- /mail/slow.eml",
		"实际总用时: 2.00秒",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("report missing %q:\n%s", want, out)
		}
	}

	// Most frequent class first.
	if strings.Index(out, "邮件发送超时") > strings.Index(out, "邮件发送失败: 550 mailbox full") {
		t.Error("classes not sorted by count desc")
	}
}

func TestRenderEnglish(t *testing.T) {
	s := New()
	s.AddSuccess(time.Millisecond, time.Millisecond)
	s.SetTotalDuration(time.Second)

	out := s.Snapshot().Render(locale.For(locale.English))
	for _, want := range []string{
		"Email Sending Statistics Report",
		"Total processed: 1 emails",
		"Successfully sent: 1",
		"Total failed: 0",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("report missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "Error Breakdown") {
		t.Error("empty error table should not be rendered")
	}
}

func TestWriteJSON(t *testing.T) {
	s := New()
	s.AddSuccess(time.Millisecond, 3*time.Millisecond)
	s.AddFailure("邮件发送超时", "/mail/a.eml")
	s.SetTotalDuration(time.Second)

	var buf bytes.Buffer
	if err := s.Snapshot().WriteJSON(&buf); err != nil {
		t.Fatal(err)
	}

	var rep struct {
		TotalProcessed int                 `json:"total_processed"`
		EmailCount     int                 `json:"email_count"`
		SendErrors     int                 `json:"send_errors"`
		ErrorDetails   map[string]int      `json:"error_details"`
		FailedFiles    map[string][]string `json:"failed_files"`
	}
	if err := json.Unmarshal(buf.Bytes(), &rep); err != nil {
		t.Fatalf("invalid JSON: %v\n%s", err, buf.String())
	}
	if rep.TotalProcessed != 2 || rep.EmailCount != 1 || rep.SendErrors != 1 {
		t.Errorf("unexpected counters: %+v", rep)
	}
	if rep.ErrorDetails["邮件发送超时"] != 1 || len(rep.FailedFiles["邮件发送超时"]) != 1 {
		t.Errorf("class tables missing: %+v", rep)
	}
}
