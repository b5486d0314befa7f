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
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nettrawl/nettrawl/pkg/models"
	"github.com/nettrawl/nettrawl/pkg/probes"
)

type nopCloser struct {
	*bytes.Buffer
}

func (nopCloser) Close() error { return nil }

func sampleRecord() *models.Fieldset {
	fs := models.NewFieldset()
	fs.AddString("saddr", "1.2.3.4")
	fs.AddString("classification", "synack")
	fs.AddBool("success", true)
	fs.AddUint64("sport", 80)
	fs.AddBinary("data", []byte{0xde, 0xad})
	fs.AddBool("repeat", false)

	return fs
}

func TestJSONEncoder(t *testing.T) {
	var buf bytes.Buffer

	enc := NewJSONEncoder(nopCloser{&buf}, false)
	require.NoError(t, enc.Write(sampleRecord()))
	require.NoError(t, enc.Close())

	line := strings.TrimSpace(buf.String())

	var decoded map[string]interface{}

	require.NoError(t, json.Unmarshal([]byte(line), &decoded))
	assert.Equal(t, "1.2.3.4", decoded["saddr"])
	assert.Equal(t, "synack", decoded["classification"])
	assert.Equal(t, true, decoded["success"])
	assert.Equal(t, float64(80), decoded["sport"])

	// Field order in the line follows insertion order.
	assert.True(t, strings.Index(line, "saddr") < strings.Index(line, "classification"))
}

func TestCSVEncoder_SchemaOrder(t *testing.T) {
	var buf bytes.Buffer

	schema := []models.FieldDef{
		{Name: "saddr", Type: models.FieldTypeString},
		{Name: "classification", Type: models.FieldTypeString},
		{Name: "success", Type: models.FieldTypeBool},
		{Name: "sport", Type: models.FieldTypeInt},
		{Name: "data", Type: models.FieldTypeBinary},
		{Name: "missing", Type: models.FieldTypeString},
	}

	enc, err := NewCSVEncoder(nopCloser{&buf}, schema, false)
	require.NoError(t, err)
	require.NoError(t, enc.Write(sampleRecord()))
	require.NoError(t, enc.Close())

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	assert.Equal(t, "saddr,classification,success,sport,data,missing", lines[0])
	assert.Equal(t, "1.2.3.4,synack,true,80,dead,", lines[1])
}

func TestFullSchema(t *testing.T) {
	m, err := probes.Lookup("tcp_synscan")
	require.NoError(t, err)

	schema := FullSchema(m)

	assert.Equal(t, "saddr", schema[0].Name, "ip fields first")
	assert.Equal(t, "timestamp_us", schema[len(schema)-1].Name, "system fields last")

	names := make(map[string]bool, len(schema))
	for _, def := range schema {
		names[def.Name] = true
	}

	for _, want := range []string{"classification", "success", "repeat", "cooldown", "seqnum"} {
		assert.True(t, names[want], want)
	}
}

func TestOpen_UnknownFormat(t *testing.T) {
	_, err := Open("xml", "", nil)
	assert.ErrorIs(t, err, ErrUnknownFormat)
}
