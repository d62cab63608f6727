package errx

import (
	"database/sql"
	"errors"
	"net/http"

	"github.com/redis/go-redis/v9"
)

// WrapRedis maps Redis errors to AppError with appropriate status codes.
func WrapRedis(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, redis.Nil) {
		return New(err, http.StatusNotFound, NotFoundMessage)
	}
	return New(err, http.StatusBadGateway, RedisErrorMessage)
}

// WrapPostgres maps database/sql errors to AppError with appropriate status codes.
func WrapPostgres(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return New(err, http.StatusNotFound, NotFoundMessage)
	}
	return New(err, http.StatusBadGateway, PostgresErrorMessage)
}
