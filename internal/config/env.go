// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Load populates a Config from its `env`/`default` struct tags: an `env`
// value looks up that environment variable, falling back to the `default`
// tag (or the field's zero value) when unset. dotEnvPath, if non-empty, is
// loaded first via LoadDotEnv.
//
// Supported field kinds: string, bool, int/int64, float64, time.Duration.
// Anything else is a programmer error and Load returns an error rather than
// silently ignoring the field, since an un-loadable Config field would
// otherwise fail only much later and far from its cause.
func Load(dotEnvPath string) (*Config, error) {
	if err := LoadDotEnv(dotEnvPath); err != nil {
		return nil, fmt.Errorf("config: load dotenv: %w", err)
	}

	cfg := &Config{}
	v := reflect.ValueOf(cfg).Elem()
	t := v.Type()

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		envKey, ok := field.Tag.Lookup("env")
		if !ok {
			continue
		}

		raw, present := os.LookupEnv(envKey)
		if !present {
			raw = field.Tag.Get("default")
			if raw == "" {
				continue
			}
		}

		if err := setField(v.Field(i), raw); err != nil {
			return nil, fmt.Errorf("config: field %s (env %s): %w", field.Name, envKey, err)
		}
	}

	return cfg, nil
}

func setField(field reflect.Value, raw string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(raw)
	case reflect.Bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return err
		}
		field.SetBool(b)
	case reflect.Int64:
		// time.Duration has Kind() == Int64; distinguish by type.
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(raw)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
			return nil
		}
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return err
		}
		field.SetInt(n)
	case reflect.Int:
		n, err := strconv.Atoi(raw)
		if err != nil {
			return err
		}
		field.SetInt(int64(n))
	case reflect.Float64:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)
	default:
		return fmt.Errorf("unsupported field kind %s", field.Kind())
	}
	return nil
}

// LoadDotEnv loads environment variables from a .env file, following the
// teacher's search order (v2/config/dotenv.go): an explicit path first,
// then .env in the current directory, then ~/.env. Existing environment
// variables are never overwritten, and a missing file is not an error —
// .env loading is a convenience for local/dev use, not a requirement.
func LoadDotEnv(explicitPath string) error {
	if explicitPath != "" {
		if err := loadEnvFileIfExists(explicitPath); err != nil {
			return err
		}
	}
	if err := loadEnvFileIfExists(".env"); err != nil {
		return err
	}
	if home, err := os.UserHomeDir(); err == nil {
		if err := loadEnvFileIfExists(filepath.Join(home, ".env")); err != nil {
			return err
		}
	}
	return nil
}

func loadEnvFileIfExists(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	return godotenv.Load(path)
}
