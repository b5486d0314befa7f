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

package output

import (
	"encoding/csv"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"sync"

	"github.com/nettrawl/nettrawl/pkg/models"
)

// CSVEncoder writes one row per record in schema order. Fields absent
// from a record leave their column empty.
type CSVEncoder struct {
	mu     sync.Mutex
	w      *csv.Writer
	raw    io.WriteCloser
	schema []models.FieldDef
	close  bool
}

func NewCSVEncoder(w io.WriteCloser, schema []models.FieldDef, closeOnDone bool) (*CSVEncoder, error) {
	e := &CSVEncoder{
		w:      csv.NewWriter(w),
		raw:    w,
		schema: schema,
		close:  closeOnDone,
	}

	header := make([]string, len(schema))
	for i, def := range schema {
		header[i] = def.Name
	}

	if err := e.w.Write(header); err != nil {
		return nil, err
	}

	e.w.Flush()

	return e, e.w.Error()
}

func (e *CSVEncoder) Write(fs *models.Fieldset) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	row := make([]string, len(e.schema))
	for i, def := range e.schema {
		row[i] = formatValue(fs.Get(def.Name))
	}

	if err := e.w.Write(row); err != nil {
		return err
	}

	e.w.Flush()

	return e.w.Error()
}

func (e *CSVEncoder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.w.Flush()

	if e.close {
		return e.raw.Close()
	}

	return e.w.Error()
}

func formatValue(v interface{}) string {
	switch value := v.(type) {
	case nil:
		return ""
	case string:
		return value
	case bool:
		return strconv.FormatBool(value)
	case uint64:
		return strconv.FormatUint(value, 10)
	case []byte:
		return hex.EncodeToString(value)
	case []interface{}:
		b, err := json.Marshal(value)
		if err != nil {
			return ""
		}

		return string(b)
	default:
		return fmt.Sprint(value)
	}
}
