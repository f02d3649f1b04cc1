// seed installs the system roles, every permission named by the route table, and the administrator
// named by SEED_ADMIN_USERNAME / SEED_ADMIN_PASSWORD. Safe to run repeatedly.
package main

import (
	"context"
	"log"
	"time"

	"sitekeeper/internal/bootstrap"
	"sitekeeper/internal/config"
	"sitekeeper/internal/db"
	rbacrepo "sitekeeper/internal/rbac/repository"
	"sitekeeper/internal/rbac/routes"
	"sitekeeper/internal/rbac/service"
	"sitekeeper/internal/security"
	userrepo "sitekeeper/internal/user/repository"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	conn, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer conn.Close()

	table, err := routes.Default()
	if err != nil {
		log.Fatalf("routes: %v", err)
	}
	if cfg.SeedAdminPassword == "" {
		log.Println("seed: SEED_ADMIN_PASSWORD not set; the administrator account is skipped")
	}
	res, err := bootstrap.Seed(ctx,
		service.NewService(rbacrepo.NewPostgresRepository(conn), nil),
		userrepo.NewPostgresRepository(conn),
		security.NewHasher(cfg.BcryptCost),
		table.Permissions(),
		bootstrap.Admin{Username: cfg.SeedAdminUsername, Password: cfg.SeedAdminPassword},
	)
	if err != nil {
		log.Fatalf("seed: %v", err)
	}
	log.Printf("seed: %d permissions and %d roles created", res.Permissions, res.Roles)
	if res.AdminNew {
		log.Printf("seed: created administrator %s", cfg.SeedAdminUsername)
	}
}
