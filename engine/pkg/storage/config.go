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

package storage

import (
	"github.com/apache/arrow-go/v18/parquet/compress"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/pingcap/modelflow/pkg/errors"
	brStorage "github.com/pingcap/tidb/br/pkg/storage"
)

const defaultStorageURI = "file:///tmp/modelflow/warehouse"

// Config is the [storage] section of the config file.
type Config struct {
	// URI is the root of the warehouse, for example s3://bucket/prefix,
	// gcs://bucket/prefix or a local directory.
	URI         string                      `toml:"uri" json:"uri"`
	Compression string                      `toml:"compression" json:"compression"`
	S3          brStorage.S3BackendOptions  `toml:"s3" json:"s3"`
	GCS         brStorage.GCSBackendOptions `toml:"gcs" json:"gcs"`
}

// DefaultConfig returns a local warehouse with snappy compressed parts.
func DefaultConfig() *Config {
	return &Config{
		URI:         defaultStorageURI,
		Compression: "snappy",
	}
}

var compressionCodecs = map[string]compress.Compression{
	"none":   compress.Codecs.Uncompressed,
	"snappy": compress.Codecs.Snappy,
	"gzip":   compress.Codecs.Gzip,
	"zstd":   compress.Codecs.Zstd,
}

// Adjust fills defaults and validates the config.
func (c *Config) Adjust() error {
	if c.URI == "" {
		c.URI = defaultStorageURI
	}
	if c.Compression == "" {
		c.Compression = "snappy"
	}
	err := validation.ValidateStruct(c,
		validation.Field(&c.URI, validation.Required),
		validation.Field(&c.Compression, validation.In("none", "snappy", "gzip", "zstd")),
	)
	if err != nil {
		return errors.ErrInvalidArgument.Wrap(err).GenWithStackByArgs("storage config")
	}
	return nil
}

func (c *Config) codec() compress.Compression {
	codec, ok := compressionCodecs[c.Compression]
	if !ok {
		return compress.Codecs.Snappy
	}
	return codec
}

func (c *Config) backendOptions() *brStorage.BackendOptions {
	return &brStorage.BackendOptions{
		S3:  c.S3,
		GCS: c.GCS,
	}
}
