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

package models

// Field value type names as they appear in output schemas.
const (
	FieldTypeString   = "string"
	FieldTypeInt      = "int"
	FieldTypeBool     = "bool"
	FieldTypeBinary   = "binary"
	FieldTypeRepeated = "repeated"
)

// FieldDef describes one column of a probe module's output schema.
type FieldDef struct {
	Name string `json:"name"`
	Type string `json:"type"`
	Desc string `json:"desc"`
}

// Field is a single named value in a response record.
type Field struct {
	Name  string
	Value interface{}
}

// Fieldset is an ordered response record. Encoders walk it in insertion
// order so CSV columns line up with the declared schema.
type Fieldset struct {
	fields []Field
}

func NewFieldset() *Fieldset {
	return &Fieldset{fields: make([]Field, 0, 16)}
}

func (fs *Fieldset) AddString(name, value string) {
	fs.fields = append(fs.fields, Field{Name: name, Value: value})
}

func (fs *Fieldset) AddUint64(name string, value uint64) {
	fs.fields = append(fs.fields, Field{Name: name, Value: value})
}

func (fs *Fieldset) AddBool(name string, value bool) {
	fs.fields = append(fs.fields, Field{Name: name, Value: value})
}

func (fs *Fieldset) AddBinary(name string, value []byte) {
	fs.fields = append(fs.fields, Field{Name: name, Value: value})
}

// AddRepeated appends a list-valued field (e.g. DNS answers).
func (fs *Fieldset) AddRepeated(name string, value []interface{}) {
	fs.fields = append(fs.fields, Field{Name: name, Value: value})
}

// AddNil records a field with no value so the column still appears.
func (fs *Fieldset) AddNil(name string) {
	fs.fields = append(fs.fields, Field{Name: name, Value: nil})
}

func (fs *Fieldset) Fields() []Field { return fs.fields }

// Get returns the value for name, or nil if the field is absent.
func (fs *Fieldset) Get(name string) interface{} {
	for i := range fs.fields {
		if fs.fields[i].Name == name {
			return fs.fields[i].Value
		}
	}

	return nil
}

// Len returns the number of fields recorded so far.
func (fs *Fieldset) Len() int { return len(fs.fields) }
