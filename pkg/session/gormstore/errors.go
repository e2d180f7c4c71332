package gormstore

import "errors"

var ErrMigrationFailed = errors.New("gormstore.migration_failed")
