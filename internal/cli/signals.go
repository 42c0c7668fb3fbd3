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

package mailblastcli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/foxcpp/mailblast/framework/log"
)

// handleSignals cancels the run on the first SIGINT/SIGTERM so the
// engine can finish the in-flight transaction and report. A second
// signal forces immediate shutdown. The returned func detaches the
// handler.
func handleSignals(cancel context.CancelFunc) func() {
	sig := make(chan os.Signal, 2)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	go func() {
		s, ok := <-sig
		if !ok {
			return
		}
		log.Printf("signal received (%v), finishing the current transaction. Next signal will force immediate shutdown.", s)
		cancel()

		if s, ok = <-sig; ok {
			log.Printf("forced shutdown due to signal (%v)!", s)
			os.Exit(1)
		}
	}()

	return func() {
		signal.Stop(sig)
		close(sig)
	}
}
