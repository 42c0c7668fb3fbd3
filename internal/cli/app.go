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
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/foxcpp/mailblast/framework/log"
)

var app *cli.App

func init() {
	app = cli.NewApp()
	app.Name = "mailblast"
	app.Usage = "high-throughput bulk mail submission tool"
	app.Description = `Mailblast submits large amounts of pre-formed or generated email messages
to an SMTP server: a directory of .eml files, a single attachment, or a
directory of files wrapped as attachments, fanned out over concurrent
workers with per-class failure accounting.

Running the executable without a subcommand is equivalent to 'send'.
`
	app.Version = buildInfo()
	app.Authors = []*cli.Author{
		{
			Name: "Mailblast contributors",
		},
	}
	app.ExitErrHandler = func(c *cli.Context, err error) {
		cli.HandleExitCoder(err)
		if err != nil {
			log.Println(err)
			cli.OsExiter(1)
		}
	}
	app.EnableBashCompletion = true

	sendCmd := sendCommand()
	app.Commands = []*cli.Command{
		sendCmd,
		testConnectionCommand(),
		versionCommand(),
		{
			Name:   "generate-man",
			Hidden: true,
			Action: func(c *cli.Context) error {
				man, err := app.ToMan()
				if err != nil {
					return err
				}
				fmt.Println(man)
				return nil
			},
		},
		{
			Name:   "generate-fish-completion",
			Hidden: true,
			Action: func(c *cli.Context) error {
				cp, err := app.ToFishCompletion()
				if err != nil {
					return err
				}
				fmt.Println(cp)
				return nil
			},
		},
	}

	// A bare invocation starts a send, so scripts do not need to spell
	// out the subcommand.
	app.Action = sendCmd.Action
	app.Flags = append(app.Flags, sendCmd.Flags...)
}

func Run() {
	if err := app.Run(os.Args); err != nil {
		log.DefaultLogger.Error("app.Run failed", err)
	}
}
