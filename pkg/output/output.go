/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package output encodes response records. Encoders are schema-driven so
// columns follow the probe module's declared field order, and writes are
// serialized with a mutex since the dry-run path shares the sink.
package output

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/nettrawl/nettrawl/pkg/models"
	"github.com/nettrawl/nettrawl/pkg/probes"
)

var ErrUnknownFormat = errors.New("unknown output format")

// Encoder serializes one record per call.
type Encoder interface {
	Write(fs *models.Fieldset) error
	Close() error
}

// FullSchema is the record layout the receiver produces: address fields,
// then the module's own schema, then the system fields.
func FullSchema(m probes.Module) []models.FieldDef {
	schema := make([]models.FieldDef, 0, len(probes.IPFields)+len(m.Fields())+len(probes.SysFields))
	schema = append(schema, probes.IPFields...)
	schema = append(schema, m.Fields()...)
	schema = append(schema, probes.SysFields...)

	return schema
}

// Open builds an encoder for the configured format and destination; an
// empty path means stdout.
func Open(format, path string, schema []models.FieldDef) (Encoder, error) {
	var (
		w      io.WriteCloser = os.Stdout
		closer bool
	)

	if path != "" && path != "-" {
		f, err := os.Create(path)
		if err != nil {
			return nil, fmt.Errorf("output file: %w", err)
		}

		w = f
		closer = true
	}

	switch format {
	case "csv":
		return NewCSVEncoder(w, schema, closer)
	case "json", "":
		return NewJSONEncoder(w, closer), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}
