package test

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ory/dockertest/v3"
	"github.com/ory/dockertest/v3/docker"
	"github.com/pkg/errors"

	"github.com/code-payments/code-server/pkg/retry"
	"github.com/code-payments/code-server/pkg/retry/backoff"

	_ "github.com/jackc/pgx/v4/stdlib"
)

const (
	containerName     = "postgres"
	containerVersion  = "14"
	containerAutoKill = 120 // seconds

	port     = 5432
	user     = "validator"
	password = "validator"
	dbName   = "receipts"
)

// StartPostgresDB starts a throwaway postgres container and returns its
// connection url.
func StartPostgresDB(pool *dockertest.Pool) (string, error) {
	resource, err := pool.RunWithOptions(&dockertest.RunOptions{
		Repository: containerName,
		Tag:        containerVersion,
		Env: []string{
			"POSTGRES_USER=" + user,
			"POSTGRES_PASSWORD=" + password,
			"POSTGRES_DB=" + dbName,
			"listen_addresses='*'",
		},
		ExposedPorts: []string{fmt.Sprintf("%d/tcp", port)},
	}, func(config *docker.HostConfig) {
		config.AutoRemove = true
		config.RestartPolicy = docker.RestartPolicy{Name: "no"}
	})
	if err != nil {
		return "", errors.Wrap(err, "could not start postgres container")
	}

	if err := resource.Expire(containerAutoKill); err != nil {
		return "", errors.Wrap(err, "could not set container expiry")
	}

	hostAndPort := resource.GetHostPort(fmt.Sprintf("%d/tcp", port))
	return fmt.Sprintf("postgres://%s:%s@%s/%s?sslmode=disable", user, password, hostAndPort, dbName), nil
}

// WaitForConnection retries until the database at url accepts connections.
// When keepOpen is false the returned connection is already closed.
func WaitForConnection(url string, keepOpen bool) (*sql.DB, func(), error) {
	var db *sql.DB

	_, err := retry.Retry(
		func() error {
			var err error
			db, err = sql.Open("pgx", url)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()

			if err := db.PingContext(ctx); err != nil {
				_ = db.Close()
				return err
			}
			return nil
		},
		retry.Limit(50),
		retry.Backoff(backoff.Constant(500*time.Millisecond), 500*time.Second),
	)
	if err != nil {
		return nil, nil, errors.Wrap(err, "database never became ready")
	}

	cleanup := func() {
		_ = db.Close()
	}

	if !keepOpen {
		cleanup()
		return nil, func() {}, nil
	}
	return db, cleanup, nil
}
