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
	"bytes"
	"encoding/json"
	"io"
	"sync"

	"github.com/nettrawl/nettrawl/pkg/models"
)

// JSONEncoder writes one JSON object per line, preserving the record's
// field order.
type JSONEncoder struct {
	mu    sync.Mutex
	w     io.WriteCloser
	buf   bytes.Buffer
	close bool
}

func NewJSONEncoder(w io.WriteCloser, closeOnDone bool) *JSONEncoder {
	return &JSONEncoder{w: w, close: closeOnDone}
}

func (e *JSONEncoder) Write(fs *models.Fieldset) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.buf.Reset()
	e.buf.WriteByte('{')

	for i, field := range fs.Fields() {
		if i > 0 {
			e.buf.WriteByte(',')
		}

		name, err := json.Marshal(field.Name)
		if err != nil {
			return err
		}

		value, err := json.Marshal(field.Value)
		if err != nil {
			return err
		}

		e.buf.Write(name)
		e.buf.WriteByte(':')
		e.buf.Write(value)
	}

	e.buf.WriteString("}\n")

	_, err := e.w.Write(e.buf.Bytes())

	return err
}

func (e *JSONEncoder) Close() error {
	if e.close {
		return e.w.Close()
	}

	return nil
}
