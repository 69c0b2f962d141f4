package repository

import (
	"database/sql"
	"testing"

	"github.com/hitoshi/blogman/internal/database/dbtest"
)

// openTestDB はマイグレーション適用済みの空のデータベースを返す。
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db := dbtest.Open(t, "repository_test")
	dbtest.Truncate(t, db)
	return db
}
