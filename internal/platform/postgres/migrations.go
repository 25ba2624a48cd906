package postgres

import "embed"

// MigrationsDir is the directory inside Migrations that holds the SQL files.
const MigrationsDir = "migrations"

// Migrations holds the goose migration files for the tasks schema.
//
//go:embed migrations/*.sql
var Migrations embed.FS
