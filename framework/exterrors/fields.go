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

// Package exterrors provides structured context for error values.
//
// Errors decorated with WithFields carry a key-value map that
// log.Logger.Error merges into the emitted message.
package exterrors

import (
	"errors"
)

type fieldsErr interface {
	Fields() map[string]interface{}
}

type fieldsWrap struct {
	err    error
	fields map[string]interface{}
}

func (fw fieldsWrap) Error() string {
	return fw.err.Error()
}

func (fw fieldsWrap) Unwrap() error {
	return fw.err
}

func (fw fieldsWrap) Fields() map[string]interface{} {
	return fw.fields
}

// Fields aggregates the field maps of all errors in the Unwrap chain.
// Fields set by outer errors override the same-named fields of the
// inner ones, not the reverse.
func Fields(err error) map[string]interface{} {
	fields := make(map[string]interface{}, 5)

	for err != nil {
		if errFields, ok := err.(fieldsErr); ok {
			for k, v := range errFields.Fields() {
				if fields[k] != nil {
					continue
				}
				fields[k] = v
			}
		}

		err = errors.Unwrap(err)
	}

	return fields
}

// WithFields wraps err so that Fields on the result (or any error
// wrapping it) includes the passed map. The original error value can be
// obtained using errors.Unwrap.
func WithFields(err error, fields map[string]interface{}) error {
	return fieldsWrap{err: err, fields: fields}
}
