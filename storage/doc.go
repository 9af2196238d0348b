// Package storage provides the concrete record stores behind the
// settings, rules and validation services. Two implementations are
// provided: an in-memory store for tests and single-process use, and
// a PostgreSQL store backed by pgx for deployments that need durable
// records.
package storage
