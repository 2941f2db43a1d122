package db

var MigrateURL = migrateURL
