// Package db implements the opening and graceful closing of database connections.
package db

import (
	"fmt"

	"github.com/tarancss/movo/lib/config"
	"github.com/tarancss/movo/lib/store"
	"github.com/tarancss/movo/lib/store/memory"
	"github.com/tarancss/movo/lib/store/mongo"
)

const (
	MONGODB string = "mongodb"
	MEMORY  string = "memory"
)

// ErrUnknownDB is returned for an unsupported dbtype.
var ErrUnknownDB = fmt.Errorf("unknown database type")

// New returns a new database connection according to the configured database type.
func New(c config.ServiceConfig) (store.DB, error) {
	switch c.DBType {
	case MONGODB:
		return mongo.New(c.DBConn, c.DBName, c.Txn)
	case MEMORY:
		return memory.New(), nil
	}

	return nil, fmt.Errorf("%w: %q", ErrUnknownDB, c.DBType)
}

// Close gracefully closes the database connection.
func Close(options string, dh store.DB) error {
	switch options {
	case MONGODB:
		return dh.(*mongo.Mongo).CloseMongo()
	case MEMORY:
		return dh.(*memory.Memory).Close()
	}

	return nil
}
