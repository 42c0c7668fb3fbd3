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

// Package engine implements the sending pipeline: the per-round
// scheduler that partitions sources across workers, the per-worker
// batch loop with its session lifecycle, and the multi-round iteration
// driver.
package engine

import (
	"context"
	"crypto/tls"
	"fmt"
	"math"
	"os"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/foxcpp/mailblast/framework/log"
	"github.com/foxcpp/mailblast/internal/config"
	"github.com/foxcpp/mailblast/internal/locale"
	"github.com/foxcpp/mailblast/internal/smtpconn"
	"github.com/foxcpp/mailblast/internal/source"
	"github.com/foxcpp/mailblast/internal/stats"
)

// dontRecover controls the behavior of panic handlers, if it is set to
// true - they are disabled and so tests will panic to avoid masking
// bugs.
var dontRecover = false

type openFunc func(ctx context.Context, posture smtpconn.Security) (session, error)

type Engine struct {
	cfg      *config.Config
	hostname string

	Log log.Logger

	// open is replaced in tests to intercept session creation.
	open openFunc
}

func New(cfg *config.Config, l log.Logger) *Engine {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "localhost"
	}

	e := &Engine{
		cfg:      cfg,
		hostname: host,
		Log:      l,
	}
	e.open = func(ctx context.Context, posture smtpconn.Security) (session, error) {
		c, err := e.dialSMTP(ctx, posture)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
	return e
}

// dialSMTP dials the configured server with the requested posture and
// authenticates when the configuration asks for it.
func (e *Engine) dialSMTP(ctx context.Context, posture smtpconn.Security) (*smtpconn.C, error) {
	c := smtpconn.New()
	c.CommandTimeout = e.cfg.CommandTimeout()
	c.SubmissionTimeout = e.cfg.CommandTimeout()
	c.ConnectTimeout = e.cfg.CommandTimeout()
	c.Log = e.Log.Sublogger("smtp")
	c.TLSConfig = &tls.Config{
		InsecureSkipVerify: e.cfg.AcceptInvalidCerts,
	}

	if err := c.Connect(ctx, e.cfg.SMTPServer, e.cfg.Port, posture); err != nil {
		return nil, err
	}

	if authed(e.cfg) {
		if err := c.Auth(e.cfg.Username, e.cfg.Password); err != nil {
			c.Close()
			return nil, err
		}
	}

	return c, nil
}

// TestConnection opens one session with the configured posture, probes
// it with NOOP and closes it. It verifies server reachability, the TLS
// setup and the credentials, not message submission.
func (e *Engine) TestConnection(ctx context.Context) error {
	c, err := e.dialSMTP(ctx, posture(e.cfg))
	if err != nil {
		return err
	}
	if err := c.Noop(); err != nil {
		c.Close()
		return err
	}
	return c.Close()
}

// Run executes one round: enumerate the sources, partition them into
// contiguous chunks, process the chunks concurrently and merge the
// partial stats. A worker panic aborts the round with an error; the
// stats collected so far are still returned.
func (e *Engine) Run(ctx context.Context) (*stats.Stats, error) {
	start := time.Now()

	srcs, err := source.Enumerate(e.cfg)
	if err != nil {
		return nil, err
	}

	total := stats.New()
	if len(srcs) == 0 {
		e.Log.Msg("nothing to send", "mode", e.cfg.Mode().String())
		total.SetTotalDuration(time.Since(start))
		return total, nil
	}

	// The single-attachment mode probes the file up front and fails the
	// round without a connection attempt when it is gone.
	if e.cfg.Mode() == config.ModeAttachment {
		if _, err := os.Stat(e.cfg.Attachment); err != nil {
			e.Log.Error("attachment not found", err, "path", e.cfg.Attachment)
			total.AddParseFailure("附件文件不存在", e.cfg.Attachment)
			failedEmails.Inc()
			total.SetTotalDuration(time.Since(start))
			return total, nil
		}
	}

	chunks := partition(srcs, e.cfg.Workers())
	e.Log.Msg("round started",
		"sources", len(srcs), "workers", len(chunks), "batch_size", e.cfg.BatchSize,
		"header_policy", headerPolicy(e.cfg))

	partials := make([]*stats.Stats, len(chunks))
	var (
		wg       sync.WaitGroup
		panicMu  sync.Mutex
		panicErr error
	)
	for i := range chunks {
		i := i
		w := newWorker(e, i+1, chunks[i])
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() {
				if dontRecover {
					return
				}
				if p := recover(); p != nil {
					stack := debug.Stack()
					log.Printf("panic during worker %d run: %v\n%s", i+1, p, stack)
					panicMu.Lock()
					panicErr = fmt.Errorf("engine: worker %d panicked: %v", i+1, p)
					panicMu.Unlock()
				}
			}()
			activeWorkers.Inc()
			defer activeWorkers.Dec()
			partials[i] = w.run(ctx)
		}()
	}
	wg.Wait()

	// Merge in chunk order so the sample vectors concatenate
	// deterministically.
	for _, p := range partials {
		if p != nil {
			total.Merge(p)
		}
	}
	total.SetTotalDuration(time.Since(start))

	if panicErr != nil {
		return total, panicErr
	}
	return total, nil
}

// RunLoop drives Run for the configured number of rounds, or
// indefinitely in loop mode. It returns the cumulative stats, the
// number of successful rounds and the error that terminated a
// non-loop run early, if any. Round reports and banners are written
// through the engine's logger using the given catalog.
func (e *Engine) RunLoop(ctx context.Context, cat *locale.Catalog) (*stats.Stats, int, error) {
	iterations := e.cfg.Repeat
	if iterations < 1 {
		iterations = 1
	}
	if e.cfg.Loop {
		iterations = math.MaxInt32
	}

	roundsDisplay := strconv.Itoa(iterations)
	if e.cfg.Loop {
		roundsDisplay = cat.Infinite
	}

	cum := stats.New()
	successful := 0
	firstStart := time.Now()

	for round := 1; round <= iterations; round++ {
		if ctx.Err() != nil {
			break
		}

		e.Log.Printf(cat.StartingRound, round, roundsDisplay)

		st, err := e.Run(ctx)
		if err != nil {
			e.Log.Printf(cat.RoundFailed, round, err)
			if !e.cfg.Loop {
				return cum, successful, err
			}
			if ctx.Err() != nil {
				break
			}
			e.Log.Printf(cat.RetryingAfter, e.cfg.RetryInterval)
			if !sleepCtx(ctx, e.cfg.RetryDelay()) {
				break
			}
			continue
		}

		successful++
		completedRounds.Inc()
		cum.Merge(st)
		e.Log.Printf(cat.RoundCompleted, round)
		e.logReport(st.Snapshot(), cat)

		if ctx.Err() != nil {
			break
		}
		if round < iterations {
			e.Log.Printf(cat.WaitingNextRound, e.cfg.LoopInterval)
			if !sleepCtx(ctx, e.cfg.LoopDelay()) {
				break
			}
		}
	}

	cum.SetTotalDuration(time.Since(firstStart))

	if ctx.Err() != nil {
		e.Log.Println(cat.Interrupted)
	}
	if successful > 0 {
		e.Log.Printf(cat.AllRoundsDone, successful)
		e.Log.Println(cat.CumulativeStats)
		e.logReport(cum.Snapshot(), cat)
	}

	return cum, successful, nil
}

func (e *Engine) logReport(sn stats.Snapshot, cat *locale.Catalog) {
	for _, line := range strings.Split(sn.Render(cat), "\n") {
		if line != "" {
			e.Log.Println(line)
		}
	}
}

// headerPolicy names the header handling for the log. keep and the
// default send the file bytes verbatim either way; only modify
// re-renders the message.
func headerPolicy(cfg *config.Config) string {
	switch {
	case cfg.ModifyHeaders:
		return "modify"
	case cfg.KeepHeaders:
		return "keep"
	default:
		return "verbatim"
	}
}

// partition splits srcs into contiguous chunks of size
// ceil(len/workers). The concatenation of the chunks is exactly srcs.
func partition(srcs []source.Source, workers int) [][]source.Source {
	if workers < 1 {
		workers = 1
	}
	per := (len(srcs) + workers - 1) / workers
	var chunks [][]source.Source
	for start := 0; start < len(srcs); start += per {
		end := start + per
		if end > len(srcs) {
			end = len(srcs)
		}
		chunks = append(chunks, srcs[start:end])
	}
	return chunks
}
