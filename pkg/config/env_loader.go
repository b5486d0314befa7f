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

package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"

	"github.com/nettrawl/nettrawl/pkg/logger"
)

var (
	ErrDstMustBeNonNilPointer   = errors.New("dst must be a non-nil pointer")
	ErrDstMustBePointerToStruct = errors.New("dst must be a pointer to a struct")
)

// EnvConfigLoader maps PREFIX_FIELD environment variables onto the json tag
// names of top-level struct fields. NETTRAWL_RATE=50000 sets the field
// tagged `json:"rate"`.
type EnvConfigLoader struct {
	logger logger.Logger
	prefix string
}

func NewEnvConfigLoader(log logger.Logger, prefix string) *EnvConfigLoader {
	return &EnvConfigLoader{logger: log, prefix: prefix}
}

// Load implements ConfigLoader by overlaying environment variables onto dst.
// Fields without a matching variable are left untouched.
func (e *EnvConfigLoader) Load(_ context.Context, _ string, dst interface{}) error {
	v := reflect.ValueOf(dst)
	if v.Kind() != reflect.Ptr || v.IsNil() {
		return ErrDstMustBeNonNilPointer
	}

	v = v.Elem()
	if v.Kind() != reflect.Struct {
		return ErrDstMustBePointerToStruct
	}

	t := v.Type()

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}

		tag := strings.Split(field.Tag.Get("json"), ",")[0]
		if tag == "" || tag == "-" {
			continue
		}

		key := e.prefix + strings.ToUpper(tag)

		raw, ok := os.LookupEnv(key)
		if !ok {
			continue
		}

		if err := setField(v.Field(i), raw); err != nil {
			return fmt.Errorf("env %s: %w", key, err)
		}

		if e.logger != nil {
			e.logger.Debug().Str("var", key).Msg("applied environment override")
		}
	}

	return nil
}

func setField(f reflect.Value, raw string) error {
	// Types with their own text/JSON decoding (models.Duration) go through
	// the unmarshaler when they expose one.
	if f.CanAddr() {
		if u, ok := f.Addr().Interface().(interface{ UnmarshalJSON([]byte) error }); ok && f.Kind() != reflect.Slice {
			quoted := strconv.Quote(raw)
			return u.UnmarshalJSON([]byte(quoted))
		}
	}

	switch f.Kind() {
	case reflect.String:
		f.SetString(raw)
	case reflect.Bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return err
		}

		f.SetBool(b)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return err
		}

		f.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return err
		}

		f.SetUint(n)
	case reflect.Slice:
		if f.Type().Elem().Kind() == reflect.String {
			f.Set(reflect.ValueOf(strings.Split(raw, ",")))
			return nil
		}

		return fmt.Errorf("unsupported slice element %s", f.Type().Elem().Kind())
	default:
		return fmt.Errorf("unsupported field kind %s", f.Kind())
	}

	return nil
}
