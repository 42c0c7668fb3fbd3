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
	"os"

	"github.com/urfave/cli/v2"

	"github.com/foxcpp/mailblast/framework/log"
	"github.com/foxcpp/mailblast/internal/config"
	"github.com/foxcpp/mailblast/internal/engine"
	"github.com/foxcpp/mailblast/internal/locale"
	"github.com/foxcpp/mailblast/internal/openmetrics"
)

func sendCommand() *cli.Command {
	return &cli.Command{
		Name:  "send",
		Usage: "Send every configured source to the SMTP server",
		Flags: sendFlags(),
		Action: func(c *cli.Context) error {
			return sendAction(c)
		},
	}
}

func sendFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Usage:   "Load configuration from TOML `FILE` before applying flags",
			EnvVars: []string{"MAILBLAST_CONFIG"},
		},
		&cli.StringFlag{
			Name:  "smtp-server",
			Usage: "SMTP server host name or address",
		},
		&cli.IntFlag{
			Name:  "port",
			Usage: "SMTP server port; 465 implies implicit TLS",
			Value: 25,
		},
		&cli.StringFlag{
			Name:  "from",
			Usage: "Envelope sender address",
		},
		&cli.StringFlag{
			Name:  "to",
			Usage: "Comma-separated recipient list",
		},
		&cli.StringFlag{
			Name:  "dir",
			Usage: "Directory of complete email files to send",
		},
		&cli.StringFlag{
			Name:  "extension",
			Usage: "File extension filter for --dir",
			Value: "eml",
		},
		&cli.StringFlag{
			Name:  "attachment",
			Usage: "Send one generated message carrying `FILE`",
		},
		&cli.StringFlag{
			Name:  "attachment-dir",
			Usage: "Send one generated message per file in `DIR`",
		},
		&cli.StringFlag{
			Name:  "processes",
			Usage: "Worker count; \"auto\" means one per CPU",
			Value: "auto",
		},
		&cli.IntFlag{
			Name:  "batch-size",
			Usage: "Messages sent per SMTP session",
			Value: 1,
		},
		&cli.IntFlag{
			Name:  "smtp-timeout",
			Usage: "Per-command timeout in `SECONDS`",
			Value: 30,
		},
		&cli.Int64Flag{
			Name:  "email-send-interval-ms",
			Usage: "Pause between messages in `MILLISECONDS`",
		},
		&cli.BoolFlag{
			Name:  "keep-headers",
			Usage: "Send file bytes untouched (also the default, flag kept for compatibility)",
		},
		&cli.BoolFlag{
			Name:  "modify-headers",
			Usage: "Rewrite From/To/Message-ID/Date headers before sending",
		},
		&cli.BoolFlag{
			Name:  "anonymize-emails",
			Usage: "Replace addresses found in message content with random ones",
		},
		&cli.StringFlag{
			Name:  "anonymize-domain",
			Usage: "Domain used for generated replacement addresses",
			Value: "example.com",
		},
		&cli.BoolFlag{
			Name:  "auth-mode",
			Usage: "Authenticate before sending (requires TLS)",
		},
		&cli.StringFlag{
			Name:    "username",
			Usage:   "AUTH username",
			EnvVars: []string{"MAILBLAST_USERNAME"},
		},
		&cli.StringFlag{
			Name:    "password",
			Usage:   "AUTH password. Prefer MAILBLAST_PASSWORD over the flag, flags are visible in the process list",
			EnvVars: []string{"MAILBLAST_PASSWORD"},
		},
		&cli.BoolFlag{
			Name:  "use-tls",
			Usage: "Negotiate STARTTLS (implicit TLS on port 465)",
		},
		&cli.BoolFlag{
			Name:  "accept-invalid-certs",
			Usage: "Skip TLS certificate verification",
		},
		&cli.StringFlag{
			Name:  "subject-template",
			Usage: "Subject for generated messages; {filename} is substituted",
		},
		&cli.StringFlag{
			Name:  "text-template",
			Usage: "Text body for generated messages; {filename} is substituted",
		},
		&cli.StringFlag{
			Name:  "html-template",
			Usage: "HTML body for generated messages; adds a multipart/alternative part",
		},
		&cli.BoolFlag{
			Name:  "loop",
			Usage: "Repeat rounds until interrupted",
		},
		&cli.IntFlag{
			Name:  "repeat",
			Usage: "Amount of rounds to run",
			Value: 1,
		},
		&cli.IntFlag{
			Name:  "loop-interval",
			Usage: "Pause between rounds in `SECONDS`",
			Value: 1,
		},
		&cli.IntFlag{
			Name:  "retry-interval",
			Usage: "Pause before retrying a failed round in `SECONDS` (loop mode)",
			Value: 5,
		},
		&cli.StringFlag{
			Name:  "failed-emails-dir",
			Usage: "Persist sources that failed to send into `DIR`",
		},
		&cli.StringFlag{
			Name:  "log-file",
			Usage: "Mirror log output into `FILE`",
		},
		&cli.StringFlag{
			Name:  "log-level",
			Usage: "Log verbosity: debug or info",
			Value: "info",
		},
		&cli.StringFlag{
			Name:    "lang",
			Usage:   "Report and banner language: en, zh-CN, zh-TW, ja",
			EnvVars: []string{"MAILBLAST_LANG"},
		},
		&cli.StringFlag{
			Name:  "metrics-addr",
			Usage: "Expose Prometheus metrics on `ADDR` (host:port)",
		},
		&cli.BoolFlag{
			Name:  "json",
			Usage: "Print the final cumulative statistics as JSON on stdout",
		},
	}
}

func sendAction(c *cli.Context) error {
	cfg, err := buildConfig(c)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	closeLog, err := setupLogging(cfg)
	if err != nil {
		return err
	}
	defer closeLog()

	cat := locale.For(language(cfg))

	if cfg.MetricsAddr != "" {
		om, err := openmetrics.Listen(cfg.MetricsAddr, log.DefaultLogger.Sublogger("openmetrics"))
		if err != nil {
			return err
		}
		defer om.Close()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	defer handleSignals(cancel)()

	eng := engine.New(cfg, log.DefaultLogger.Sublogger("engine"))
	cum, _, err := eng.RunLoop(ctx, cat)

	if c.Bool("json") && cum != nil {
		if jerr := cum.Snapshot().WriteJSON(os.Stdout); jerr != nil {
			log.DefaultLogger.Error("json report", jerr)
		}
	}
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	return nil
}

// buildConfig merges the three configuration layers: defaults, the
// optional TOML file, and explicitly set flags on top.
func buildConfig(c *cli.Context) (*config.Config, error) {
	cfg := config.Default()
	if path := c.String("config"); path != "" {
		loaded, err := config.LoadFile(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if c.IsSet("smtp-server") {
		cfg.SMTPServer = c.String("smtp-server")
	}
	if c.IsSet("port") {
		cfg.Port = c.Int("port")
	}
	if c.IsSet("from") {
		cfg.From = c.String("from")
	}
	if c.IsSet("to") {
		cfg.To = c.String("to")
	}
	if c.IsSet("dir") {
		cfg.Dir = c.String("dir")
	}
	if c.IsSet("extension") {
		cfg.Extension = c.String("extension")
	}
	if c.IsSet("attachment") {
		cfg.Attachment = c.String("attachment")
	}
	if c.IsSet("attachment-dir") {
		cfg.AttachmentDir = c.String("attachment-dir")
	}
	if c.IsSet("processes") {
		cfg.Processes = c.String("processes")
	}
	if c.IsSet("batch-size") {
		cfg.BatchSize = c.Int("batch-size")
	}
	if c.IsSet("smtp-timeout") {
		cfg.SMTPTimeout = c.Int("smtp-timeout")
	}
	if c.IsSet("email-send-interval-ms") {
		cfg.EmailSendIntervalMs = c.Int64("email-send-interval-ms")
	}
	if c.IsSet("keep-headers") {
		cfg.KeepHeaders = c.Bool("keep-headers")
	}
	if c.IsSet("modify-headers") {
		cfg.ModifyHeaders = c.Bool("modify-headers")
	}
	if c.IsSet("anonymize-emails") {
		cfg.AnonymizeEmails = c.Bool("anonymize-emails")
	}
	if c.IsSet("anonymize-domain") {
		cfg.AnonymizeDomain = c.String("anonymize-domain")
	}
	if c.IsSet("auth-mode") {
		cfg.AuthMode = c.Bool("auth-mode")
	}
	if c.IsSet("username") {
		cfg.Username = c.String("username")
	}
	if c.IsSet("password") {
		cfg.Password = c.String("password")
	}
	if c.IsSet("use-tls") {
		cfg.UseTLS = c.Bool("use-tls")
	}
	if c.IsSet("accept-invalid-certs") {
		cfg.AcceptInvalidCerts = c.Bool("accept-invalid-certs")
	}
	if c.IsSet("subject-template") {
		cfg.SubjectTemplate = c.String("subject-template")
	}
	if c.IsSet("text-template") {
		cfg.TextTemplate = c.String("text-template")
	}
	if c.IsSet("html-template") {
		cfg.HTMLTemplate = c.String("html-template")
	}
	if c.IsSet("loop") {
		cfg.Loop = c.Bool("loop")
	}
	if c.IsSet("repeat") {
		cfg.Repeat = c.Int("repeat")
	}
	if c.IsSet("loop-interval") {
		cfg.LoopInterval = c.Int("loop-interval")
	}
	if c.IsSet("retry-interval") {
		cfg.RetryInterval = c.Int("retry-interval")
	}
	if c.IsSet("failed-emails-dir") {
		cfg.FailedEmailsDir = c.String("failed-emails-dir")
	}
	if c.IsSet("log-file") {
		cfg.LogFile = c.String("log-file")
	}
	if c.IsSet("log-level") {
		cfg.LogLevel = c.String("log-level")
	}
	if c.IsSet("lang") {
		cfg.Lang = c.String("lang")
	}
	if c.IsSet("metrics-addr") {
		cfg.MetricsAddr = c.String("metrics-addr")
	}

	return &cfg, nil
}

// setupLogging applies the log level and the optional log file tee to
// the default logger. The returned func closes the file.
func setupLogging(cfg *config.Config) (func(), error) {
	log.DefaultLogger.Debug = cfg.LogLevel == "debug"

	if cfg.LogFile == "" {
		return func() {}, nil
	}

	f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o666)
	if err != nil {
		return nil, fmt.Errorf("cannot open log file: %w", err)
	}
	fileOut := log.WriteCloserOutput(f, true)
	log.DefaultLogger.Out = log.MultiOutput(log.WriterOutput(os.Stderr, false), fileOut)
	return func() {
		if err := fileOut.Close(); err != nil {
			fmt.Fprintln(os.Stderr, "log file close:", err)
		}
	}, nil
}

// language picks the catalog language: the configured value when it
// names a supported language, the environment otherwise.
func language(cfg *config.Config) locale.Language {
	if cfg.Lang != "" {
		if l, ok := locale.Parse(cfg.Lang); ok {
			return l
		}
		log.Printf("unrecognized language %q, using environment detection", cfg.Lang)
	}
	return locale.Detect()
}
