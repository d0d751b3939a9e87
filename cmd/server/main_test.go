package main

import (
	"context"
	"testing"

	"coursecart/backend/internal/config"
	"coursecart/backend/internal/domain"
	"coursecart/backend/internal/store/memory"
)

func TestValidateSecurityConfigRejectsWeakValues(t *testing.T) {
	err := validateSecurityConfig(config.Config{AuthSecret: "short", ManagerPIN: "123456"})
	if err == nil {
		t.Fatalf("expected weak security config to be rejected")
	}
}

func TestValidateSecurityConfigAcceptsStrongValues(t *testing.T) {
	err := validateSecurityConfig(config.Config{AuthSecret: "0123456789abcdef0123456789abcdef", ManagerPIN: "739154"})
	if err != nil {
		t.Fatalf("expected strong config to pass, got %v", err)
	}
}

func TestSeedAdminOnlyFillsEmptyUserTable(t *testing.T) {
	t.Setenv("SEED_ADMIN_PASSWORD", "bootstrap-pass")
	repo := memory.New()

	if err := seedAdmin(context.Background(), repo); err != nil {
		t.Fatalf("seed admin: %v", err)
	}
	users, _ := repo.ListUsers(context.Background())
	if len(users) != 1 || users[0].Username != "admin" || users[0].Role != domain.RoleAdmin {
		t.Fatalf("expected a single admin, got %+v", users)
	}

	if err := seedAdmin(context.Background(), repo); err != nil {
		t.Fatalf("second seed: %v", err)
	}
	users, _ = repo.ListUsers(context.Background())
	if len(users) != 1 {
		t.Fatalf("expected seeding to be skipped on a populated table, got %d users", len(users))
	}
}
