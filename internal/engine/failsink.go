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

package engine

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/foxcpp/mailblast/internal/source"
)

// saveFailed copies the failed source into dir for later inspection or
// resubmission. The copy re-reads the file so the persisted bytes match
// the on-disk original even when the in-memory copy was rewritten
// (anonymization). A millisecond stamp in the name avoids collisions
// between rounds and workers.
func saveFailed(dir string, src source.Source) error {
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return err
	}

	raw, err := os.ReadFile(src.Path)
	if err != nil {
		return err
	}

	// The stamp goes before the last dot whenever there is one, so a
	// dotfile like ".env" comes out as "_<stamp>.env".
	stamp := strconv.FormatInt(time.Now().UnixMilli(), 10)
	name := src.Filename
	if dot := strings.LastIndex(name, "."); dot >= 0 {
		name = name[:dot] + "_" + stamp + name[dot:]
	} else {
		name += "_" + stamp
	}

	return os.WriteFile(filepath.Join(dir, name), raw, 0o666)
}
