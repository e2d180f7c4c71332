// Package gormstore implements session.IndexedStore on any database gorm
// supports. The schema is created with AutoMigrate when the store is built.
//
//	db, err := gorm.Open(sqlite.Open("sessions.db"), &gorm.Config{})
//	store, err := gormstore.New(db, gormstore.WithCleanupInterval(time.Minute))
//	defer store.Close()
//
// Timestamps are written in UTC so that dialects storing them as text
// still compare correctly.
package gormstore
