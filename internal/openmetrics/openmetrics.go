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

// Package openmetrics exposes the process metrics registry over HTTP at
// /metrics, in the format Prometheus scrapes.
package openmetrics

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/foxcpp/mailblast/framework/log"
)

type Endpoint struct {
	addr   string
	logger log.Logger

	listenerWg sync.WaitGroup
	serv       http.Server
}

// Listen binds addr and starts serving the metrics endpoint in the
// background. The returned Endpoint must be Closed to release the
// listener.
func Listen(addr string, logger log.Logger) (*Endpoint, error) {
	e := &Endpoint{logger: logger}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	e.serv.Handler = mux

	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("openmetrics: %w", err)
	}
	e.addr = l.Addr().String()

	e.listenerWg.Add(1)
	go func() {
		e.logger.Println("listening on", e.addr)
		err := e.serv.Serve(l)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			e.logger.Error("serve failed", err, "endpoint", addr)
		}
		e.listenerWg.Done()
	}()
	return e, nil
}

// Addr is the bound listener address, useful when addr was passed with
// port 0.
func (e *Endpoint) Addr() string {
	return e.addr
}

func (e *Endpoint) Close() error {
	if err := e.serv.Close(); err != nil {
		return err
	}
	e.listenerWg.Wait()
	return nil
}
