/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package db

import (
	"errors"
	"time"

	"github.com/friendsincode/grimnir_jukebox/internal/telemetry"
	"gorm.io/gorm"
)

const startTimeKey = "jukebox:start_time"

// callbackRegistrar is satisfied by gorm's positioned callback handles.
type callbackRegistrar interface {
	Register(name string, fn func(*gorm.DB)) error
}

// RegisterCallbacks installs latency and error metrics around gorm operations.
func RegisterCallbacks(database *gorm.DB) error {
	cb := database.Callback()

	register := func(op string, before, after callbackRegistrar) error {
		if err := before.Register("telemetry:before_"+op, markStart); err != nil {
			return err
		}
		return after.Register("telemetry:after_"+op, observe(op))
	}

	if err := register("query", cb.Query().Before("gorm:query"), cb.Query().After("gorm:query")); err != nil {
		return err
	}
	if err := register("create", cb.Create().Before("gorm:create"), cb.Create().After("gorm:create")); err != nil {
		return err
	}
	if err := register("update", cb.Update().Before("gorm:update"), cb.Update().After("gorm:update")); err != nil {
		return err
	}
	return register("delete", cb.Delete().Before("gorm:delete"), cb.Delete().After("gorm:delete"))
}

func markStart(tx *gorm.DB) {
	tx.InstanceSet(startTimeKey, time.Now())
}

func observe(op string) func(*gorm.DB) {
	return func(tx *gorm.DB) {
		v, ok := tx.InstanceGet(startTimeKey)
		if !ok {
			return
		}
		start, ok := v.(time.Time)
		if !ok {
			return
		}

		table := tx.Statement.Table
		if table == "" {
			table = "unknown"
		}
		telemetry.DatabaseQueryDuration.WithLabelValues(op, table).Observe(time.Since(start).Seconds())

		if tx.Error != nil && !errors.Is(tx.Error, gorm.ErrRecordNotFound) {
			telemetry.DatabaseErrorsTotal.WithLabelValues(op, "query_error").Inc()
		}
	}
}

// UpdateConnectionMetrics samples the connection pool size.
func UpdateConnectionMetrics(database *gorm.DB) {
	sqlDB, err := database.DB()
	if err != nil {
		return
	}
	telemetry.DatabaseConnectionsActive.Set(float64(sqlDB.Stats().OpenConnections))
}
