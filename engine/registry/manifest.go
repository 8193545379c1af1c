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

package registry

import (
	"os"

	"github.com/pingcap/modelflow/pkg/errors"
	"gopkg.in/yaml.v2"
)

// Manifest is a yaml file of model definitions:
//
//	models:
//	  - name: pageviews
//	    query: SELECT * FROM events WHERE event = '$pageview'
//	    parents: [events]
type Manifest struct {
	Models []Definition `yaml:"models"`
}

// ParseManifest decodes a manifest. Unknown keys are an error.
func ParseManifest(data []byte) (*Manifest, error) {
	m := &Manifest{}
	if err := yaml.UnmarshalStrict(data, m); err != nil {
		return nil, errors.ErrInvalidArgument.Wrap(err).GenWithStackByArgs("model manifest")
	}
	if len(m.Models) == 0 {
		return nil, errors.ErrInvalidArgument.GenWithStackByArgs("model manifest has no models")
	}
	return m, nil
}

// LoadManifest reads and decodes the manifest at path.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Annotatef(err, "read model manifest %s", path)
	}
	return ParseManifest(data)
}
