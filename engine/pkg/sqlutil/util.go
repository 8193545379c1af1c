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

package sqlutil

import (
	"database/sql"
	"fmt"
	"net/url"
	"time"

	_ "github.com/glebarez/go-sqlite" // register the "sqlite" driver
	validation "github.com/go-ozzo/ozzo-validation/v4"
	dmysql "github.com/go-sql-driver/mysql"
	"github.com/pingcap/log"
	"github.com/pingcap/modelflow/pkg/errors"
	"go.uber.org/zap"
)

// StoreType is the backend type of a sql store.
type StoreType = string

const (
	// StoreTypeMySQL is a MySQL compatible server.
	StoreTypeMySQL StoreType = "mysql"
	// StoreTypeSQLite is an embedded sqlite database file.
	StoreTypeSQLite StoreType = "sqlite"
)

const (
	defaultReadTimeout  = "3s"
	defaultWriteTimeout = "3s"
	defaultDialTimeout  = "3s"
	// sqliteMemory opens a private in-memory database.
	sqliteMemory = ":memory:"
)

// DBConfig is the connection pool config of a sql.DB.
type DBConfig struct {
	MaxOpenConns    int           `toml:"max-open-conns" json:"max-open-conns"`
	MaxIdleConns    int           `toml:"max-idle-conns" json:"max-idle-conns"`
	ConnMaxIdleTime time.Duration `toml:"conn-max-idle-time" json:"conn-max-idle-time"`
	ConnMaxLifeTime time.Duration `toml:"conn-max-life-time" json:"conn-max-life-time"`
}

// StoreConfig is the config of a sql backed store, used by the metastore and
// the event store.
type StoreConfig struct {
	StoreType StoreType `toml:"store-type" json:"store-type"`
	// Endpoints are the addresses of a MySQL compatible server, only the first
	// one is used.
	Endpoints []string `toml:"endpoints" json:"endpoints"`
	User      string   `toml:"user" json:"user"`
	Password  string   `toml:"password" json:"password"`
	Schema    string   `toml:"schema" json:"schema"`
	// File is the sqlite database file, ":memory:" for a private in-memory
	// database.
	File string `toml:"file" json:"file"`

	ReadTimeout  string `toml:"read-timeout" json:"read-timeout"`
	WriteTimeout string `toml:"write-timeout" json:"write-timeout"`
	DialTimeout  string `toml:"dial-timeout" json:"dial-timeout"`

	DBConf DBConfig `toml:"db-config" json:"db-config"`
}

// DefaultStoreConfig returns a sqlite in-memory store config.
func DefaultStoreConfig() *StoreConfig {
	return &StoreConfig{
		StoreType:    StoreTypeSQLite,
		File:         sqliteMemory,
		ReadTimeout:  defaultReadTimeout,
		WriteTimeout: defaultWriteTimeout,
		DialTimeout:  defaultDialTimeout,
		DBConf: DBConfig{
			MaxOpenConns:    16,
			MaxIdleConns:    4,
			ConnMaxIdleTime: 30 * time.Second,
			ConnMaxLifeTime: 12 * time.Hour,
		},
	}
}

// Validate checks the store config.
func (c *StoreConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.StoreType, validation.In(StoreTypeMySQL, StoreTypeSQLite)),
		validation.Field(&c.Schema, validation.When(c.StoreType == StoreTypeMySQL, validation.Required)),
		validation.Field(&c.Endpoints, validation.When(c.StoreType == StoreTypeMySQL, validation.Required)),
		validation.Field(&c.File, validation.When(c.StoreType == StoreTypeSQLite, validation.Required)),
	)
}

// GenerateDSNByParams generates a dsn string.
// mysql dsn format: [username[:password]@][protocol[(address)]]/schema
// sqlite dsn format: file:path?_pragma=...
func GenerateDSNByParams(storeConf *StoreConfig, pairs map[string]string) (string, error) {
	if storeConf == nil {
		return "", errors.ErrMetaParamsInvalid.GenWithStackByArgs("store config is nil")
	}
	if err := storeConf.Validate(); err != nil {
		return "", errors.ErrMetaParamsInvalid.GenWithStackByArgs(err.Error())
	}

	if storeConf.StoreType == StoreTypeSQLite {
		return sqliteDSN(storeConf.File, pairs), nil
	}

	dsnCfg := dmysql.NewConfig()
	if dsnCfg.Params == nil {
		dsnCfg.Params = make(map[string]string, 1)
	}
	dsnCfg.User = storeConf.User
	dsnCfg.Passwd = storeConf.Password
	dsnCfg.Net = "tcp"
	dsnCfg.Addr = storeConf.Endpoints[0]
	dsnCfg.DBName = storeConf.Schema
	dsnCfg.InterpolateParams = true
	dsnCfg.Params["parseTime"] = "true"
	dsnCfg.Params["loc"] = "Local"
	dsnCfg.Params["readTimeout"] = orDefault(storeConf.ReadTimeout, defaultReadTimeout)
	dsnCfg.Params["writeTimeout"] = orDefault(storeConf.WriteTimeout, defaultWriteTimeout)
	dsnCfg.Params["timeout"] = orDefault(storeConf.DialTimeout, defaultDialTimeout)
	for k, v := range pairs {
		dsnCfg.Params[k] = v
	}

	return dsnCfg.FormatDSN(), nil
}

func sqliteDSN(file string, pairs map[string]string) string {
	values := url.Values{}
	values.Add("_pragma", "busy_timeout(5000)")
	values.Add("_pragma", "foreign_keys(1)")
	for k, v := range pairs {
		values.Set(k, v)
	}
	if file == sqliteMemory {
		return fmt.Sprintf("%s?%s", sqliteMemory, values.Encode())
	}
	return fmt.Sprintf("file:%s?%s", file, values.Encode())
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// DriverName returns the database/sql driver name of the store type.
func DriverName(storeType StoreType) string {
	if storeType == StoreTypeSQLite {
		return "sqlite"
	}
	return "mysql"
}

// NewSQLDB return sql.DB for the store config
func NewSQLDB(storeConf *StoreConfig) (*sql.DB, error) {
	dsn, err := GenerateDSNByParams(storeConf, nil)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(DriverName(storeConf.StoreType), dsn)
	if err != nil {
		log.L().Error("open dsn fail", zap.String("store-type", storeConf.StoreType), zap.Error(err))
		return nil, errors.ErrMetaNewClientFail.Wrap(err)
	}

	dbConf := storeConf.DBConf
	if storeConf.StoreType == StoreTypeSQLite && storeConf.File == sqliteMemory {
		// every connection to ":memory:" opens a different database
		dbConf.MaxOpenConns = 1
		dbConf.MaxIdleConns = 1
		dbConf.ConnMaxIdleTime = 0
		dbConf.ConnMaxLifeTime = 0
	}
	db.SetConnMaxIdleTime(dbConf.ConnMaxIdleTime)
	db.SetConnMaxLifetime(dbConf.ConnMaxLifeTime)
	db.SetMaxIdleConns(dbConf.MaxIdleConns)
	db.SetMaxOpenConns(dbConf.MaxOpenConns)
	return db, nil
}
