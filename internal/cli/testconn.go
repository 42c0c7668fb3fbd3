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
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/foxcpp/mailblast/framework/log"
	"github.com/foxcpp/mailblast/internal/engine"
)

func testConnectionCommand() *cli.Command {
	return &cli.Command{
		Name:        "test-connection",
		Usage:       "Open one SMTP session with the configured posture and probe it",
		Description: "Verifies server reachability, the TLS setup and the credentials without sending any mail.",
		Flags:       sendFlags(),
		Action: func(c *cli.Context) error {
			cfg, err := buildConfig(c)
			if err != nil {
				return err
			}
			if err := cfg.ValidateServer(); err != nil {
				return err
			}

			closeLog, err := setupLogging(cfg)
			if err != nil {
				return err
			}
			defer closeLog()

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			defer handleSignals(cancel)()

			eng := engine.New(cfg, log.DefaultLogger.Sublogger("engine"))
			if err := eng.TestConnection(ctx); err != nil {
				return cli.Exit(fmt.Sprintf("connection test failed: %v", err), 1)
			}
			fmt.Printf("connection test passed: %s:%d\n", cfg.SMTPServer, cfg.Port)
			return nil
		},
	}
}
