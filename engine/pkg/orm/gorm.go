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

package orm

import (
	"database/sql"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/pingcap/log"
	"github.com/pingcap/modelflow/engine/pkg/clock"
	"github.com/pingcap/modelflow/engine/pkg/sqlutil"
	"github.com/pingcap/modelflow/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

const defaultSlowLogThreshold = 200 * time.Millisecond

// NewGormDB news a gorm.DB over an opened sql.DB
func NewGormDB(sqlDB *sql.DB, storeType sqlutil.StoreType, clk clock.Clock) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch storeType {
	case sqlutil.StoreTypeMySQL:
		dialector = mysql.New(mysql.Config{
			Conn:                      sqlDB,
			SkipInitializeWithVersion: false,
		})
	case sqlutil.StoreTypeSQLite:
		dialector = &sqlite.Dialector{Conn: sqlDB}
	default:
		return nil, errors.ErrMetaParamsInvalid.GenWithStackByArgs("unsupported store type " + storeType)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		SkipDefaultTransaction: true,
		NowFunc: func() time.Time {
			return clk.Now().Local()
		},
		Logger: NewOrmLogger(log.L().With(zap.String("component", "metastore")),
			WithSlowThreshold(defaultSlowLogThreshold),
			WithIgnoreTraceRecordNotFoundErr()),
	})
	if err != nil {
		log.L().Error("create gorm client fail", zap.Error(err))
		return nil, errors.ErrMetaNewClientFail.Wrap(err)
	}

	return db, nil
}

// IsNotFoundError checks whether the error is ErrMetaEntryNotFound
func IsNotFoundError(err error) bool {
	return errors.Is(err, errors.ErrMetaEntryNotFound)
}
