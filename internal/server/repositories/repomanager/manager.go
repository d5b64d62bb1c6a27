package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/chunkvault/internal/dbx"
	"github.com/dmitrijs2005/chunkvault/internal/server/repositories/accounts"
	"github.com/dmitrijs2005/chunkvault/internal/server/repositories/chunks"
	"github.com/dmitrijs2005/chunkvault/internal/server/repositories/files"
	"github.com/dmitrijs2005/chunkvault/internal/server/repositories/userkeys"
	"github.com/dmitrijs2005/chunkvault/internal/server/repositories/users"
)

// RepositoryManager vends repositories bound to a DBTX, so services can use
// the same code path inside and outside transactions.
type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Users(db dbx.DBTX) users.Repository
	Files(db dbx.DBTX) files.Repository
	Chunks(db dbx.DBTX) chunks.Repository
	UserKeys(db dbx.DBTX) userkeys.Repository
	Accounts(db dbx.DBTX) accounts.Repository
}
