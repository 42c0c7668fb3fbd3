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

// Package source enumerates the files a run will send, one Source per
// future message.
package source

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/foxcpp/mailblast/internal/config"
)

// Source is one unit of work: a file to send and its display name.
type Source struct {
	Path     string
	Filename string
}

// Enumerate lists the sources for the configured mode. The order is the
// directory walk's natural traversal order; callers must not rely on a
// specific ordering. Unreadable directory entries are skipped, not
// reported: a partially readable tree still produces a run.
func Enumerate(cfg *config.Config) ([]Source, error) {
	switch cfg.Mode() {
	case config.ModeAttachment:
		return []Source{{Path: cfg.Attachment, Filename: filepath.Base(cfg.Attachment)}}, nil
	case config.ModeAttachmentDir:
		fi, err := os.Stat(cfg.AttachmentDir)
		if err != nil || !fi.IsDir() {
			return nil, fmt.Errorf("source: attachment_dir %q does not exist or is not a directory", cfg.AttachmentDir)
		}
		return walk(cfg.AttachmentDir, ""), nil
	default:
		return walk(cfg.Dir, cfg.Extension), nil
	}
}

// walk collects regular files under root. When ext is non-empty only
// files whose extension (without the leading dot, case-sensitive)
// matches are kept; files without any extension never match.
func walk(root, ext string) []Source {
	var out []Source
	filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if ext != "" {
			e := filepath.Ext(d.Name())
			if e == "" || e[1:] != ext {
				return nil
			}
		}
		out = append(out, Source{Path: path, Filename: d.Name()})
		return nil
	})
	return out
}
