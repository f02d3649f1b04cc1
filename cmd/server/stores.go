package main

import (
	"context"
	"database/sql"
	"log"

	auditrepo "sitekeeper/internal/audit/repository"
	"sitekeeper/internal/config"
	"sitekeeper/internal/db"
	devicerepo "sitekeeper/internal/device/repository"
	rbacrepo "sitekeeper/internal/rbac/repository"
	sessionrepo "sitekeeper/internal/session/repository"
	"sitekeeper/internal/session/store"
	userrepo "sitekeeper/internal/user/repository"
)

// stores groups the repositories behind every component. With no DATABASE_URL all of them are
// in memory and sessions are not persisted.
type stores struct {
	conn     *sql.DB
	users    userrepo.Repository
	rbac     rbacrepo.Repository
	devices  devicerepo.Repository
	audit    auditrepo.Repository
	sessions *sessionrepo.PostgresRepository
}

func openStores(ctx context.Context, cfg *config.Config) (*stores, error) {
	if cfg.DatabaseURL == "" {
		log.Println("server: DATABASE_URL not set; using in-memory storage")
		return &stores{
			users:   userrepo.NewMemoryRepository(),
			rbac:    rbacrepo.NewMemoryRepository(),
			devices: devicerepo.NewMemoryRepository(),
			audit:   auditrepo.NewMemoryRepository(),
		}, nil
	}
	conn, err := db.Open(ctx, cfg.DatabaseURL, db.WithMaxOpenConns(cfg.DBMaxOpenConns))
	if err != nil {
		return nil, err
	}
	return &stores{
		conn:     conn,
		users:    userrepo.NewPostgresRepository(conn),
		rbac:     rbacrepo.NewPostgresRepository(conn),
		devices:  devicerepo.NewPostgresRepository(conn),
		audit:    auditrepo.NewPostgresRepository(conn),
		sessions: sessionrepo.NewPostgresRepository(conn),
	}, nil
}

// sessionPersister returns nil (not a typed nil) in memory mode.
func (s *stores) sessionPersister() store.Persister {
	if s.sessions == nil {
		return nil
	}
	return s.sessions
}

// warmSessions loads still-active sessions so refresh tokens survive a restart.
func (s *stores) warmSessions(ctx context.Context, st *store.Store) {
	if s.sessions == nil {
		return
	}
	active, err := s.sessions.ListActive(ctx)
	if err != nil {
		log.Printf("server: load sessions: %v", err)
		return
	}
	log.Printf("server: warmed %d active sessions", st.Warm(active))
}

func (s *stores) close() {
	if s.conn != nil {
		_ = s.conn.Close()
	}
}
