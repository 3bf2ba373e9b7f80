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
	"encoding/json"
	"reflect"
	"strings"
)

// Redacted returns cfg as JSON with every field tagged sensitive:"true"
// removed, suitable for logging the effective configuration.
func Redacted(cfg interface{}) ([]byte, error) {
	return json.Marshal(redact(reflect.ValueOf(cfg)))
}

var jsonMarshalerType = reflect.TypeOf((*json.Marshaler)(nil)).Elem()

func redact(v reflect.Value) interface{} {
	if !v.IsValid() {
		return nil
	}

	if v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return nil
		}

		v = v.Elem()
	}

	if v.Kind() != reflect.Struct || v.Type().Implements(jsonMarshalerType) {
		return v.Interface()
	}

	out := make(map[string]interface{}, v.NumField())
	t := v.Type()

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() || field.Tag.Get("sensitive") == "true" {
			continue
		}

		name := strings.Split(field.Tag.Get("json"), ",")[0]
		if name == "-" {
			continue
		}

		if name == "" {
			name = field.Name
		}

		out[name] = redact(v.Field(i))
	}

	return out
}
