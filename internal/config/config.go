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

// Package config defines the run configuration shared by the CLI and the
// engine. A Config can be populated from a TOML file, from command line
// flags, or from both (flags win).
package config

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Mode selects where message content comes from.
type Mode int

const (
	// ModeEmlDir sends every *.ext file found under Dir as a complete message.
	ModeEmlDir Mode = iota
	// ModeAttachment sends one generated message carrying Attachment.
	ModeAttachment
	// ModeAttachmentDir sends one generated message per file under AttachmentDir.
	ModeAttachmentDir
)

func (m Mode) String() string {
	switch m {
	case ModeEmlDir:
		return "dir"
	case ModeAttachment:
		return "attachment"
	case ModeAttachmentDir:
		return "attachment_dir"
	}
	return "unknown"
}

type Config struct {
	SMTPServer string `toml:"smtp_server"`
	Port       int    `toml:"port"`
	From       string `toml:"from"`
	// To is a comma-separated recipient list. Empty elements are dropped,
	// surrounding whitespace is not significant.
	To string `toml:"to"`

	Dir           string `toml:"dir"`
	Extension     string `toml:"extension"`
	Attachment    string `toml:"attachment"`
	AttachmentDir string `toml:"attachment_dir"`

	// Processes is either "auto" (one worker per CPU) or a positive integer.
	Processes string `toml:"processes"`
	BatchSize int    `toml:"batch_size"`

	// SMTPTimeout bounds every SMTP command exchange, in seconds.
	SMTPTimeout         int   `toml:"smtp_timeout"`
	EmailSendIntervalMs int64 `toml:"email_send_interval_ms"`

	KeepHeaders   bool `toml:"keep_headers"`
	ModifyHeaders bool `toml:"modify_headers"`

	AnonymizeEmails bool   `toml:"anonymize_emails"`
	AnonymizeDomain string `toml:"anonymize_domain"`

	AuthMode           bool   `toml:"auth_mode"`
	Username           string `toml:"username"`
	Password           string `toml:"password"`
	UseTLS             bool   `toml:"use_tls"`
	AcceptInvalidCerts bool   `toml:"accept_invalid_certs"`

	SubjectTemplate string `toml:"subject_template"`
	TextTemplate    string `toml:"text_template"`
	HTMLTemplate    string `toml:"html_template"`

	Loop          bool `toml:"loop"`
	Repeat        int  `toml:"repeat"`
	LoopInterval  int  `toml:"loop_interval"`
	RetryInterval int  `toml:"retry_interval"`

	FailedEmailsDir string `toml:"failed_emails_dir"`
	LogFile         string `toml:"log_file"`
	LogLevel        string `toml:"log_level"`
	Lang            string `toml:"lang"`

	MetricsAddr string `toml:"metrics_addr"`
}

// Default returns the configuration used when neither a file nor a flag
// says otherwise.
func Default() Config {
	return Config{
		Port:            25,
		Extension:       "eml",
		Processes:       "auto",
		BatchSize:       1,
		SMTPTimeout:     30,
		LogLevel:        "info",
		AnonymizeDomain: "example.com",
		Repeat:          1,
		LoopInterval:    1,
		RetryInterval:   5,
	}
}

// LoadFile reads a TOML configuration file on top of the defaults. Unknown
// keys are rejected so typos do not silently fall back to defaults.
func LoadFile(path string) (Config, error) {
	cfg := Default()

	f, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("config: %w", err)
	}
	defer f.Close()

	dec := toml.NewDecoder(f)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// Mode reports the source mode selected by the configuration. Meaningful
// only after Validate.
func (c *Config) Mode() Mode {
	switch {
	case c.AttachmentDir != "":
		return ModeAttachmentDir
	case c.Attachment != "":
		return ModeAttachment
	default:
		return ModeEmlDir
	}
}

// Workers resolves Processes to a worker count. "auto" means one
// worker per logical CPU; so does any value that is not a positive
// integer, a run is never refused over this knob.
func (c *Config) Workers() int {
	if c.Processes == "" || c.Processes == "auto" {
		return runtime.NumCPU()
	}
	n, err := strconv.Atoi(c.Processes)
	if err != nil || n < 1 {
		return runtime.NumCPU()
	}
	return n
}

// Recipients splits To into individual addresses.
func (c *Config) Recipients() []string {
	var out []string
	for _, part := range strings.Split(c.To, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// CommandTimeout is the per-command deadline derived from SMTPTimeout.
func (c *Config) CommandTimeout() time.Duration {
	return time.Duration(c.SMTPTimeout) * time.Second
}

// SendInterval is the pause inserted between transactions of a batch.
func (c *Config) SendInterval() time.Duration {
	return time.Duration(c.EmailSendIntervalMs) * time.Millisecond
}

// LoopDelay is the pause between successful rounds.
func (c *Config) LoopDelay() time.Duration {
	return time.Duration(c.LoopInterval) * time.Second
}

// RetryDelay is the pause before retrying a failed round in loop mode.
func (c *Config) RetryDelay() time.Duration {
	return time.Duration(c.RetryInterval) * time.Second
}

// ValidateServer checks the fields needed to open an SMTP session. It is
// the subset of Validate used by connectivity probes.
func (c *Config) ValidateServer() error {
	if c.SMTPServer == "" {
		return fmt.Errorf("config: smtp_server is required")
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("config: port must be in 1..65535, got %d", c.Port)
	}
	if c.SMTPTimeout < 1 {
		return fmt.Errorf("config: smtp_timeout must be positive, got %d", c.SMTPTimeout)
	}
	return nil
}

// Validate checks the full configuration for a send run. Missing or
// incomplete credentials are deliberately not rejected here: the engine
// records them per batch so they show up in the final report instead of
// aborting the run upfront.
func (c *Config) Validate() error {
	if err := c.ValidateServer(); err != nil {
		return err
	}
	if c.From == "" {
		return fmt.Errorf("config: from is required")
	}
	if len(c.Recipients()) == 0 {
		return fmt.Errorf("config: to must name at least one recipient")
	}

	modes := 0
	for _, set := range []bool{c.Dir != "", c.Attachment != "", c.AttachmentDir != ""} {
		if set {
			modes++
		}
	}
	if modes == 0 {
		return fmt.Errorf("config: one of dir, attachment or attachment_dir is required")
	}
	if modes > 1 {
		return fmt.Errorf("config: dir, attachment and attachment_dir are mutually exclusive")
	}
	if c.Dir != "" && c.Extension == "" {
		return fmt.Errorf("config: extension is required with dir")
	}

	if c.BatchSize < 1 {
		return fmt.Errorf("config: batch_size must be positive, got %d", c.BatchSize)
	}
	if c.Repeat < 1 {
		return fmt.Errorf("config: repeat must be positive, got %d", c.Repeat)
	}
	if c.LoopInterval < 0 || c.RetryInterval < 0 {
		return fmt.Errorf("config: loop_interval and retry_interval cannot be negative")
	}
	if c.EmailSendIntervalMs < 0 {
		return fmt.Errorf("config: email_send_interval_ms cannot be negative")
	}

	if c.KeepHeaders && c.ModifyHeaders {
		return fmt.Errorf("config: keep_headers and modify_headers are mutually exclusive")
	}
	return nil
}
