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

package stats

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/foxcpp/mailblast/internal/locale"
)

// Render formats the multi-line statistics report in the catalog's
// language. Error classes are listed by occurrence count, most frequent
// first; equal counts are ordered by class name so output is stable.
func (sn Snapshot) Render(c *locale.Catalog) string {
	var b strings.Builder

	fmt.Fprintln(&b, c.ReportTitle)
	fmt.Fprintln(&b, c.Separator)
	fmt.Fprintln(&b, c.BasicStats)
	fmt.Fprintf(&b, c.TotalProcessed+"\n", sn.Attempts())
	fmt.Fprintf(&b, c.SuccessSent+"\n", sn.EmailCount)
	fmt.Fprintf(&b, c.TotalFailed+"\n", sn.Failed())

	if len(sn.ErrorDetails) > 0 {
		fmt.Fprintln(&b)
		fmt.Fprintln(&b, c.ErrorClassification)
		for _, class := range sn.sortedClasses() {
			count := sn.ErrorDetails[class]
			percent := 0.0
			if sn.Attempts() > 0 {
				percent = float64(count) / float64(sn.Attempts()) * 100
			}
			fmt.Fprintf(&b, c.ErrorTypeCount+"\n", class, count, percent)
			if files := sn.FailedFiles[class]; len(files) > 0 {
				fmt.Fprintln(&b, c.FailedFilesList)
				for _, f := range files {
					fmt.Fprintf(&b, c.FailedFileItem+"\n", f)
				}
			}
		}
	}

	parseTotal := sumDurations(sn.ParseDurations)
	sendTotal := sumDurations(sn.SendDurations)
	fmt.Fprintf(&b, c.ParseDuration+"\n", parseTotal.Seconds(), qps(sn.EmailCount, parseTotal))
	fmt.Fprintf(&b, c.SendDuration+"\n", sendTotal.Seconds(), qps(sn.EmailCount, sendTotal))
	fmt.Fprintf(&b, c.ActualDuration+"\n", sn.TotalDuration.Seconds(), qps(sn.EmailCount, sn.TotalDuration))

	return b.String()
}

func (sn Snapshot) sortedClasses() []string {
	classes := make([]string, 0, len(sn.ErrorDetails))
	for class := range sn.ErrorDetails {
		classes = append(classes, class)
	}
	sort.Slice(classes, func(i, j int) bool {
		if sn.ErrorDetails[classes[i]] != sn.ErrorDetails[classes[j]] {
			return sn.ErrorDetails[classes[i]] > sn.ErrorDetails[classes[j]]
		}
		return classes[i] < classes[j]
	})
	return classes
}

func sumDurations(ds []time.Duration) time.Duration {
	var total time.Duration
	for _, d := range ds {
		total += d
	}
	return total
}

func qps(count int, d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(count) / d.Seconds()
}

type jsonReport struct {
	TotalProcessed int                 `json:"total_processed"`
	EmailCount     int                 `json:"email_count"`
	SendErrors     int                 `json:"send_errors"`
	ParseErrors    int                 `json:"parse_errors"`
	ParseSeconds   float64             `json:"parse_seconds"`
	SendSeconds    float64             `json:"send_seconds"`
	TotalSeconds   float64             `json:"total_seconds"`
	QPS            float64             `json:"qps"`
	ErrorDetails   map[string]int      `json:"error_details,omitempty"`
	FailedFiles    map[string][]string `json:"failed_files,omitempty"`
}

// WriteJSON emits a machine-readable summary of the snapshot, meant for
// piping into other tooling. Unlike Render it is not localized.
func (sn Snapshot) WriteJSON(w io.Writer) error {
	rep := jsonReport{
		TotalProcessed: sn.Attempts(),
		EmailCount:     sn.EmailCount,
		SendErrors:     sn.SendErrors,
		ParseErrors:    sn.ParseErrors,
		ParseSeconds:   sumDurations(sn.ParseDurations).Seconds(),
		SendSeconds:    sumDurations(sn.SendDurations).Seconds(),
		TotalSeconds:   sn.TotalDuration.Seconds(),
		QPS:            qps(sn.EmailCount, sn.TotalDuration),
	}
	if len(sn.ErrorDetails) > 0 {
		rep.ErrorDetails = sn.ErrorDetails
	}
	if len(sn.FailedFiles) > 0 {
		rep.FailedFiles = sn.FailedFiles
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(rep)
}
