package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/credkeeper/internal/dbx"
	"github.com/dmitrijs2005/credkeeper/internal/ratelimit"
	"github.com/dmitrijs2005/credkeeper/internal/server/repositories/ceremonies"
	"github.com/dmitrijs2005/credkeeper/internal/server/repositories/credentials"
	"github.com/dmitrijs2005/credkeeper/internal/server/repositories/mfa"
	"github.com/dmitrijs2005/credkeeper/internal/server/repositories/oauthaccounts"
	"github.com/dmitrijs2005/credkeeper/internal/server/repositories/passwordresets"
	"github.com/dmitrijs2005/credkeeper/internal/server/repositories/refreshtokens"
	"github.com/dmitrijs2005/credkeeper/internal/server/repositories/users"
)

type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Users(db dbx.DBTX) users.Repository
	RefreshTokens(db dbx.DBTX) refreshtokens.Repository
	Credentials(db dbx.DBTX) credentials.Repository
	Ceremonies(db dbx.DBTX) ceremonies.Repository
	RateLimits(db dbx.DBTX) ratelimit.Store
	MFA(db dbx.DBTX) mfa.Repository
	OAuthAccounts(db dbx.DBTX) oauthaccounts.Repository
	PasswordResets(db dbx.DBTX) passwordresets.Repository
}
