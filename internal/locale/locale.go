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

// Package locale selects the language used for operator-facing output
// (round banners, the statistics report). Error class identifiers are
// not localized: they are stable keys shared by reports, logs and
// metrics regardless of the selected language.
package locale

import (
	"os"
	"strings"

	"golang.org/x/text/language"
)

type Language int

const (
	English Language = iota
	SimplifiedChinese
	TraditionalChinese
	Japanese
)

// Order matches the Language constants; the matcher returns indexes
// into this slice.
var tags = []language.Tag{
	language.AmericanEnglish,
	language.SimplifiedChinese,
	language.TraditionalChinese,
	language.Japanese,
}

var matcher = language.NewMatcher(tags)

// Word aliases accepted in addition to BCP 47 tags.
var aliases = map[string]Language{
	"english":  English,
	"chinese":  SimplifiedChinese,
	"japanese": Japanese,
}

func (l Language) Code() string {
	switch l {
	case SimplifiedChinese:
		return "zh-CN"
	case TraditionalChinese:
		return "zh-TW"
	case Japanese:
		return "ja-JP"
	}
	return "en-US"
}

func (l Language) Name() string {
	switch l {
	case SimplifiedChinese:
		return "简体中文"
	case TraditionalChinese:
		return "繁體中文"
	case Japanese:
		return "日本語"
	}
	return "English"
}

// Parse maps a user- or environment-supplied language string to a
// supported Language. It accepts BCP 47 tags ("zh-TW"), POSIX locale
// values ("zh_CN.UTF-8") and a few plain words ("english"). The second
// return value is false when the value names no supported language.
func Parse(s string) (Language, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return English, false
	}
	if l, ok := aliases[strings.ToLower(s)]; ok {
		return l, true
	}

	// POSIX locale values carry codeset/modifier suffixes the BCP 47
	// parser refuses ("zh_CN.UTF-8", "ja_JP@euc").
	if i := strings.IndexAny(s, ".@"); i != -1 {
		s = s[:i]
	}
	s = strings.ReplaceAll(s, "_", "-")

	tag, err := language.Parse(s)
	if err != nil {
		return English, false
	}
	_, idx, conf := matcher.Match(tag)
	if conf == language.No {
		return English, false
	}
	return Language(idx), true
}

// Detect picks the language from the environment: MAILBLAST_LANG wins,
// then LANG, then LC_ALL. Unset or unrecognized values fall through;
// the final fallback is English.
func Detect() Language {
	for _, name := range []string{"MAILBLAST_LANG", "LANG", "LC_ALL"} {
		if v := os.Getenv(name); v != "" {
			if l, ok := Parse(v); ok {
				return l
			}
		}
	}
	return English
}

// Catalog holds the localized operator-facing strings. Fields ending in
// a format verb description are fmt templates.
type Catalog struct {
	// Statistics report.
	ReportTitle         string
	Separator           string
	BasicStats          string
	TotalProcessed      string // %d emails
	SuccessSent         string // %d
	TotalFailed         string // %d
	ErrorClassification string
	ErrorTypeCount      string // class, count, percent
	FailedFilesList     string
	FailedFileItem      string // path
	ParseDuration       string // seconds, qps
	SendDuration        string // seconds, qps
	ActualDuration      string // seconds, qps

	// Round banners.
	StartingRound    string // round, total
	Infinite         string
	RoundCompleted   string // round
	RoundFailed      string // round, error
	WaitingNextRound string // seconds
	RetryingAfter    string // seconds
	Interrupted      string
	AllRoundsDone    string // rounds
	CumulativeStats  string
}

var catalogs = map[Language]*Catalog{
	English: {
		ReportTitle:         "Email Sending Statistics Report",
		Separator:           "===================",
		BasicStats:          "1. Basic Statistics",
		TotalProcessed:      "    Total processed: %d emails",
		SuccessSent:         "    Successfully sent: %d",
		TotalFailed:         "    Total failed: %d",
		ErrorClassification: "2. Error Breakdown",
		ErrorTypeCount:      "    %s - %d (%.1f%%)",
		FailedFilesList:     "    Failed files:",
		FailedFileItem:      "        - %s",
		ParseDuration:       "    Total parse time: %.2fs (summed across workers), QPS: %.2f/s",
		SendDuration:        "    Total send time: %.2fs (summed across workers), QPS: %.2f/s",
		ActualDuration:      "    Wall-clock time: %.2fs, QPS: %.2f/s",
		StartingRound:       "Starting round %d/%s",
		Infinite:            "unlimited",
		RoundCompleted:      "Round %d completed",
		RoundFailed:         "Round %d failed: %v",
		WaitingNextRound:    "Waiting %ds before the next round...",
		RetryingAfter:       "Retrying in %ds...",
		Interrupted:         "Interrupt received, shutting down gracefully...",
		AllRoundsDone:       "All rounds completed, %d total",
		CumulativeStats:     "Cumulative statistics:",
	},
	SimplifiedChinese: {
		ReportTitle:         "邮件发送统计报告",
		Separator:           "===================",
		BasicStats:          "1. 基本统计",
		TotalProcessed:      "    总计处理: %d 封邮件",
		SuccessSent:         "    成功发送: %d 封",
		TotalFailed:         "    总计失败: %d 封",
		ErrorClassification: "2. 错误分类统计",
		ErrorTypeCount:      "    %s - %d 封 (%.1f%%)",
		FailedFilesList:     "    失败文件列表:",
		FailedFileItem:      "        - %s",
		ParseDuration:       "    邮件解析总耗时: %.2f秒（所有进程总和），QPS: %.2f封/秒",
		SendDuration:        "    邮件发送总耗时: %.2f秒（所有进程总和），QPS: %.2f封/秒",
		ActualDuration:      "    实际总用时: %.2f秒, QPS: %.2f封/秒",
		StartingRound:       "开始第 %d/%s 轮发送",
		Infinite:            "无限",
		RoundCompleted:      "第 %d 轮发送完成！",
		RoundFailed:         "第 %d 轮发送失败: %v",
		WaitingNextRound:    "等待%d秒后开始下一轮发送...",
		RetryingAfter:       "等待%d秒后重试...",
		Interrupted:         "接收到中断信号，正在优雅退出...",
		AllRoundsDone:       "所有发送轮次完成！总计 %d 轮",
		CumulativeStats:     "总体统计信息:",
	},
	TraditionalChinese: {
		ReportTitle:         "郵件發送統計報告",
		Separator:           "===================",
		BasicStats:          "1. 基本統計",
		TotalProcessed:      "    總計處理: %d 封郵件",
		SuccessSent:         "    成功發送: %d 封",
		TotalFailed:         "    總計失敗: %d 封",
		ErrorClassification: "2. 錯誤分類統計",
		ErrorTypeCount:      "    %s - %d 封 (%.1f%%)",
		FailedFilesList:     "    失敗檔案列表:",
		FailedFileItem:      "        - %s",
		ParseDuration:       "    郵件解析總耗時: %.2f秒（所有行程總和），QPS: %.2f封/秒",
		SendDuration:        "    郵件發送總耗時: %.2f秒（所有行程總和），QPS: %.2f封/秒",
		ActualDuration:      "    實際總用時: %.2f秒, QPS: %.2f封/秒",
		StartingRound:       "開始第 %d/%s 輪發送",
		Infinite:            "無限",
		RoundCompleted:      "第 %d 輪發送完成！",
		RoundFailed:         "第 %d 輪發送失敗: %v",
		WaitingNextRound:    "等待%d秒後開始下一輪發送...",
		RetryingAfter:       "等待%d秒後重試...",
		Interrupted:         "接收到中斷訊號，正在優雅退出...",
		AllRoundsDone:       "所有發送輪次完成！總計 %d 輪",
		CumulativeStats:     "總體統計資訊:",
	},
	Japanese: {
		ReportTitle:         "メール送信統計レポート",
		Separator:           "===================",
		BasicStats:          "1. 基本統計",
		TotalProcessed:      "    処理合計: %d 通",
		SuccessSent:         "    送信成功: %d 通",
		TotalFailed:         "    失敗合計: %d 通",
		ErrorClassification: "2. エラー分類",
		ErrorTypeCount:      "    %s - %d 通 (%.1f%%)",
		FailedFilesList:     "    失敗ファイル一覧:",
		FailedFileItem:      "        - %s",
		ParseDuration:       "    メール解析合計時間: %.2f秒（全ワーカー合計）、QPS: %.2f通/秒",
		SendDuration:        "    メール送信合計時間: %.2f秒（全ワーカー合計）、QPS: %.2f通/秒",
		ActualDuration:      "    実際の合計時間: %.2f秒、QPS: %.2f通/秒",
		StartingRound:       "第 %d/%s ラウンド送信開始",
		Infinite:            "無制限",
		RoundCompleted:      "第 %d ラウンド送信完了！",
		RoundFailed:         "第 %d ラウンド送信失敗: %v",
		WaitingNextRound:    "%d秒後に次のラウンドを開始します...",
		RetryingAfter:       "%d秒後に再試行します...",
		Interrupted:         "割り込みシグナルを受信しました。正常に終了しています...",
		AllRoundsDone:       "全ラウンド完了！合計 %d ラウンド",
		CumulativeStats:     "全体統計情報:",
	},
}

// For returns the catalog for l. The returned value is shared and must
// be treated as read-only.
func For(l Language) *Catalog {
	if c, ok := catalogs[l]; ok {
		return c
	}
	return catalogs[English]
}
