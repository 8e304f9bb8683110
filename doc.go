// Package pgclient is a small transactional query client for PostgreSQL.
//
// It provides a bounded connection pool with idle reclamation, flat
// transactions with a guaranteed terminal COMMIT or ROLLBACK, an
// always-rollback variant for test isolation, and a query executor that
// decodes rows into fixed-arity typed tuples declared at the call site.
//
// Wire protocol framing is delegated to github.com/jackc/pgx/v5/pgconn;
// pgclient only issues SQL text with positional placeholders ($1, $2, ...)
// and decodes the text-format results it gets back.
//
// pgclient is not a query builder, not an ORM and does not do migrations.
// It also performs no retries: every error surfaces to the caller.
package pgclient
