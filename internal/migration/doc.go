// Package migration applies the versioned archive schema for the SQL
// backends that need it. Migration files are embedded per dialect and run
// with golang-migrate against a connection the caller already owns.
//
// Postgres and mysql are the supported dialects. Sqlite archives are
// auto-migrated by gorm instead: golang-migrate's sqlite driver and the
// pure-Go sqlite driver the archive links both register the "sqlite"
// database/sql name, so the two cannot be built into one binary.
package migration
