// Package main - Atlas GORM schema loader for the wallet tables
package main

import (
	"fmt"
	"os"

	"ariga.io/atlas-provider-gorm/gormschema"
	"github.com/alwitt/cardvault/db"
	"github.com/alwitt/cardvault/models"
	"github.com/apex/log"
)

func main() {
	// Optional first argument picks the store driver; postgres unless told otherwise
	dialect := models.StoreDriverPostgres
	if len(os.Args) > 1 {
		dialect = models.StoreDriverENUMType(os.Args[1])
	}
	if dialect != models.StoreDriverPostgres && dialect != models.StoreDriverSqlite {
		log.WithField("dialect", dialect).Fatal("Unsupported store driver")
	}

	stmts, err := gormschema.New(string(dialect)).Load(
		&db.AuditEventDBEntry{},
		&db.ValidationRecordDBEntry{},
		&db.LockoutRecordDBEntry{},
		&db.CardDBEntry{},
	)
	if err != nil {
		log.WithError(err).Fatal("Failed to load wallet table models")
	}
	fmt.Printf("%s\n", stmts)
}
