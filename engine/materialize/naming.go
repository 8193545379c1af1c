// Copyright 2024 PingCAP, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// See the License for the specific language governing permissions and
// limitations under the License.

package materialize

import (
	"fmt"
	"os"
	"strings"
	"unicode"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/gosimple/slug"
	"github.com/iancoleman/strcase"
	"github.com/pingcap/modelflow/engine/pkg/tenant"
)

// NamingEnv overrides the configured naming mode when set.
const NamingEnv = "SCHEMA__NAMING"

// NamingMode decides how column names are written.
type NamingMode string

// naming modes
const (
	// NamingDirect keeps column names as the query returns them.
	NamingDirect NamingMode = "direct"
	// NamingSnakeCase lowercases column names and separates words with "_".
	NamingSnakeCase NamingMode = "snake_case"
)

// ResolveNamingMode returns the naming mode from the environment, then
// configured, then the direct default.
func ResolveNamingMode(configured string) NamingMode {
	for _, v := range []string{os.Getenv(NamingEnv), configured} {
		switch NamingMode(strings.ToLower(strings.TrimSpace(v))) {
		case NamingDirect:
			return NamingDirect
		case NamingSnakeCase:
			return NamingSnakeCase
		}
	}
	return NamingDirect
}

// NormalizedName is the key of a model's output, derived from its name.
func NormalizedName(name string) string {
	return strings.ReplaceAll(slug.Make(name), "-", "_")
}

// StoragePrefix is where the parts of a model's table are stored.
func StoragePrefix(teamID tenant.TeamID, modelID, normalizedName string) string {
	return fmt.Sprintf("%s/modeling/%s__query",
		tenant.NewTeamInfo(teamID, "").StoragePrefix(modelID), normalizedName)
}

// SnakeCase converts an identifier such as "DistinctId" or "camelCase
// Column" to "distinct_id" and "camel_case_column". Runes that are neither
// letters nor digits separate words.
func SnakeCase(name string) string {
	words := strings.FieldsFunc(name, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	if len(words) == 0 {
		return "_"
	}
	for i, w := range words {
		words[i] = strings.ToLower(strcase.ToSnake(w))
	}
	return strings.Join(words, "_")
}

// renamer maps declared column names to output names. Names made equal by
// the conversion get a numeric suffix.
type renamer struct {
	names []string
}

func newRenamer(schema *arrow.Schema, mode NamingMode) *renamer {
	r := &renamer{names: make([]string, len(schema.Fields()))}
	seen := make(map[string]int)
	for i, f := range schema.Fields() {
		name := f.Name
		if mode == NamingSnakeCase {
			name = SnakeCase(name)
		}
		if n, ok := seen[name]; ok {
			seen[name] = n + 1
			name = fmt.Sprintf("%s_%d", name, n+1)
		} else {
			seen[name] = 0
		}
		r.names[i] = name
	}
	return r
}

func (r *renamer) name(i int) string {
	return r.names[i]
}
