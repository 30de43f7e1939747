// Package testutils connects tests to a throwaway postgres database.
// Tests that need a database skip themselves when none is configured.
package testutils

import (
	"fmt"
	"os"
	"strings"

	"github.com/jmoiron/sqlx"
	// postgres driver
	_ "github.com/lib/pq"
)

// ConnectPQ connects to the test database, or returns an error when no
// WARDEN_TEST_PQ_HOST is set.
func ConnectPQ() (*sqlx.DB, error) {
	host := os.Getenv("WARDEN_TEST_PQ_HOST")
	if host == "" {
		return nil, fmt.Errorf("WARDEN_TEST_PQ_HOST not set")
	}

	user := os.Getenv("WARDEN_TEST_PQ_USER")
	if user == "" {
		user = "warden_test"
	}

	dbPassword := os.Getenv("WARDEN_TEST_PQ_PASSWORD")

	dbName := os.Getenv("WARDEN_TEST_PQ_DB")
	if dbName == "" {
		dbName = "warden_test"
	}

	if !strings.Contains(dbName, "test") {
		panic("test database name has to contain 'test', as a safety measure against running tests on production systems")
	}

	connStr := fmt.Sprintf("host=%s user=%s dbname=%s sslmode=disable password='%s'", host, user, dbName, dbPassword)
	return sqlx.Connect("postgres", connStr)
}

// InitTables drops the provided tables and runs the init queries
func InitTables(db *sqlx.DB, dropTables []string, initQueries []string) error {
	for _, v := range dropTables {
		_, err := db.Exec("DROP TABLE IF EXISTS " + v)
		if err != nil {
			return err
		}
	}

	for _, v := range initQueries {
		_, err := db.Exec(v)
		if err != nil {
			return err
		}
	}

	return nil
}

// InitPQ calls both ConnectPQ and InitTables
func InitPQ(dropTables []string, initQueries []string) (*sqlx.DB, error) {
	db, err := ConnectPQ()
	if err != nil {
		return nil, err
	}

	err = InitTables(db, dropTables, initQueries)
	return db, err
}

// ClearTables deletes all rows from the tables, panicking on error.
// Useful in defers for test cleanup.
func ClearTables(db *sqlx.DB, tables ...string) {
	for _, v := range tables {
		_, err := db.Exec("DELETE FROM " + v + ";")
		if err != nil {
			panic(err)
		}
	}
}
