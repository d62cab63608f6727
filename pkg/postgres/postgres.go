package postgres

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/lib/pq"
)

type Config struct {
	URL             string `envconfig:"DATABASE_URL" required:"true"`
	MaxOpenConns    int    `envconfig:"DATABASE_MAX_OPEN_CONNS" default:"10"`
	MaxIdleConns    int    `envconfig:"DATABASE_MAX_IDLE_CONNS" default:"5"`
	ConnMaxLifetime int    `envconfig:"DATABASE_CONN_MAX_LIFETIME" default:"300"`
	PingTimeout     int    `envconfig:"DATABASE_PING_TIMEOUT" default:"5"`
}

func (c *Config) New() (*sql.DB, error) {
	db, err := sql.Open("postgres", c.URL)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(c.MaxOpenConns)
	db.SetMaxIdleConns(c.MaxIdleConns)
	db.SetConnMaxLifetime(time.Duration(c.ConnMaxLifetime) * time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(c.PingTimeout)*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}
