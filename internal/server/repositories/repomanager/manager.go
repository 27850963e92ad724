package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/socialauth/internal/dbx"
	"github.com/dmitrijs2005/socialauth/internal/server/repositories/otps"
	"github.com/dmitrijs2005/socialauth/internal/server/repositories/refreshtokens"
	"github.com/dmitrijs2005/socialauth/internal/server/repositories/users"
)

// RepositoryManager vends repositories bound to a DBTX, so the same
// constructors serve both pooled and transactional access.
type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Users(db dbx.DBTX) users.Repository
	OTPs(db dbx.DBTX) otps.Repository
	RefreshTokens(db dbx.DBTX) refreshtokens.Repository
}
