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

package server

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/pingcap/log"
	"github.com/pingcap/modelflow/engine/materialize"
	"github.com/pingcap/modelflow/engine/pkg/logutil"
	"github.com/pingcap/modelflow/engine/pkg/sqlutil"
	"github.com/pingcap/modelflow/engine/pkg/storage"
	"github.com/pingcap/modelflow/engine/registry"
	"github.com/pingcap/modelflow/engine/scheduler"
	"github.com/pingcap/modelflow/engine/workflow"
	"github.com/pingcap/modelflow/pkg/errors"
	"go.uber.org/zap"
)

const (
	defaultAddr           = "127.0.0.1:8290"
	defaultQueryBatchSize = 10000
	defaultStmtCacheSize  = 128
)

// RegistryConfig is the [registry] section.
type RegistryConfig struct {
	// BuiltinSources are the event store tables models may select from
	// without being models themselves.
	BuiltinSources []string `toml:"builtin-sources" json:"builtin-sources"`
}

// QueryConfig is the [query] section.
type QueryConfig struct {
	BatchSize     int `toml:"batch-size" json:"batch-size"`
	StmtCacheSize int `toml:"stmt-cache-size" json:"stmt-cache-size"`
}

// Config is the configuration of a modelflow server.
type Config struct {
	LogConf logutil.Config `toml:"log" json:"log"`

	// Addr serves /metrics, leave empty to disable the http server.
	Addr string `toml:"addr" json:"addr"`

	materialize.Config

	Registry   RegistryConfig       `toml:"registry" json:"registry"`
	Query      QueryConfig          `toml:"query" json:"query"`
	Metastore  *sqlutil.StoreConfig `toml:"metastore" json:"metastore"`
	EventStore *sqlutil.StoreConfig `toml:"event-store" json:"event-store"`
	Storage    *storage.Config      `toml:"storage" json:"storage"`
	Execution  *workflow.Config     `toml:"execution" json:"execution"`

	Schedules []scheduler.Schedule `toml:"schedule" json:"schedule"`
}

// GetDefaultConfig returns the default config: in-memory metastore, an
// in-memory event store and a local warehouse.
func GetDefaultConfig() *Config {
	return &Config{
		LogConf:    logutil.DefaultConfig(),
		Addr:       defaultAddr,
		Registry:   RegistryConfig{BuiltinSources: registry.DefaultBuiltinSources},
		Query:      QueryConfig{BatchSize: defaultQueryBatchSize, StmtCacheSize: defaultStmtCacheSize},
		Metastore:  sqlutil.DefaultStoreConfig(),
		EventStore: sqlutil.DefaultStoreConfig(),
		Storage:    storage.DefaultConfig(),
		Execution:  workflow.DefaultConfig(),
	}
}

func (c *Config) String() string {
	cfg, err := json.Marshal(c)
	if err != nil {
		log.L().Error("marshal to json", zap.Reflect("config", c), zap.Error(err))
	}
	return string(cfg)
}

// Toml returns TOML format representation of config.
func (c *Config) Toml() (string, error) {
	var b bytes.Buffer
	if err := toml.NewEncoder(&b).Encode(c); err != nil {
		return "", errors.Trace(err)
	}
	return b.String(), nil
}

// Adjust fills defaults of the sections left out and validates every
// section.
func (c *Config) Adjust() error {
	if err := c.LogConf.Adjust(); err != nil {
		return errors.ErrInvalidArgument.Wrap(err).GenWithStackByArgs("log")
	}
	if err := c.Config.Adjust(); err != nil {
		return err
	}
	if c.Query.BatchSize <= 0 {
		c.Query.BatchSize = defaultQueryBatchSize
	}
	if c.Query.StmtCacheSize <= 0 {
		c.Query.StmtCacheSize = defaultStmtCacheSize
	}
	if c.Registry.BuiltinSources == nil {
		c.Registry.BuiltinSources = registry.DefaultBuiltinSources
	}

	for name, store := range map[string]**sqlutil.StoreConfig{
		"metastore":   &c.Metastore,
		"event-store": &c.EventStore,
	} {
		if *store == nil {
			*store = sqlutil.DefaultStoreConfig()
		}
		if err := (*store).Validate(); err != nil {
			return errors.ErrInvalidArgument.Wrap(err).GenWithStackByArgs(name)
		}
	}
	if c.Storage == nil {
		c.Storage = storage.DefaultConfig()
	}
	if err := c.Storage.Adjust(); err != nil {
		return err
	}
	if c.Execution == nil {
		c.Execution = workflow.DefaultConfig()
	}
	if err := c.Execution.Adjust(); err != nil {
		return err
	}

	names := make(map[string]struct{}, len(c.Schedules))
	for _, sc := range c.Schedules {
		if _, err := sc.Validate(); err != nil {
			return err
		}
		if _, ok := names[sc.Name]; ok {
			return errors.ErrInvalidArgument.GenWithStackByArgs("duplicated schedule " + sc.Name)
		}
		names[sc.Name] = struct{}{}
	}
	return nil
}

// ConfigFromFile loads path into c. Items of the file that don't map to a
// config field are an error.
func (c *Config) ConfigFromFile(path string) error {
	metaData, err := toml.DecodeFile(path, c)
	if err != nil {
		return errors.WrapError(errors.ErrDecodeConfigFile, err)
	}
	return checkUndecodedItems(metaData)
}

func (c *Config) configFromString(data string) error {
	metaData, err := toml.Decode(data, c)
	if err != nil {
		return errors.WrapError(errors.ErrDecodeConfigFile, err)
	}
	return checkUndecodedItems(metaData)
}

func checkUndecodedItems(metaData toml.MetaData) error {
	undecoded := metaData.Undecoded()
	if len(undecoded) > 0 {
		var undecodedItems []string
		for _, item := range undecoded {
			undecodedItems = append(undecodedItems, item.String())
		}
		return errors.ErrConfigUnknownItem.GenWithStackByArgs(strings.Join(undecodedItems, ","))
	}
	return nil
}
