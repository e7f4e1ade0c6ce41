package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// ErrNoURL is returned when a pool is requested without a DSN.
var ErrNoURL = errors.New("database url is empty")

// Pools holds the write, read and admin connections. Read and Admin alias
// Write when no dedicated URL is configured.
type Pools struct {
	Write *sql.DB
	Read  *sql.DB
	Admin *sql.DB
}

// Open connects to url through the pgx stdlib driver and pings it.
func Open(ctx context.Context, url string, maxOpen, maxIdle int) (*sql.DB, error) {
	if url == "" {
		return nil, ErrNoURL
	}
	db, err := sql.Open("pgx", url)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if maxOpen > 0 {
		db.SetMaxOpenConns(maxOpen)
	}
	if maxIdle > 0 {
		db.SetMaxIdleConns(maxIdle)
	}
	db.SetConnMaxIdleTime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// OpenPools opens the write pool and, when their URLs differ from it, the
// read and admin pools.
func OpenPools(ctx context.Context, writeURL, readURL, adminURL string, maxOpen, maxIdle int) (*Pools, error) {
	write, err := Open(ctx, writeURL, maxOpen, maxIdle)
	if err != nil {
		return nil, fmt.Errorf("write pool: %w", err)
	}
	p := &Pools{Write: write, Read: write, Admin: write}

	if readURL != "" && readURL != writeURL {
		if p.Read, err = Open(ctx, readURL, maxOpen, maxIdle); err != nil {
			_ = p.Close()
			return nil, fmt.Errorf("read pool: %w", err)
		}
	}
	if adminURL != "" && adminURL != writeURL {
		// purges are rare and serialized
		if p.Admin, err = Open(ctx, adminURL, 2, 1); err != nil {
			_ = p.Close()
			return nil, fmt.Errorf("admin pool: %w", err)
		}
	}
	return p, nil
}

// Health pings every distinct pool.
func (p *Pools) Health(ctx context.Context) error {
	for _, db := range p.distinct() {
		if err := db.PingContext(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Close closes every distinct pool.
func (p *Pools) Close() error {
	var errs []error
	for _, db := range p.distinct() {
		errs = append(errs, db.Close())
	}
	return errors.Join(errs...)
}

func (p *Pools) distinct() []*sql.DB {
	out := []*sql.DB{}
	for _, db := range []*sql.DB{p.Write, p.Read, p.Admin} {
		if db == nil {
			continue
		}
		dup := false
		for _, seen := range out {
			if seen == db {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, db)
		}
	}
	return out
}
