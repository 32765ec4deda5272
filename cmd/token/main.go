// Command token issues a JWT pair for a service principal such as the cron scheduler or
// a CRM relay, using the same signing settings as the API process.
package main

import (
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"time"

	"engagement-platform/internal/auth"
	"engagement-platform/internal/config"
	"engagement-platform/internal/rbac"
	"engagement-platform/pkg/logger"
)

func main() {
	userID := flag.String("user", "scheduler", "subject user id")
	role := flag.String("role", rbac.RoleAutomation, "role claim (owner, operator, analyst, automation)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}
	// Tokens go to stdout; logs stay on stderr.
	log := logger.NewWithWriter(cfg.App.Env, os.Stderr)

	m, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}
	pair, err := m.IssuePair(time.Now(), *userID, *role)
	if err != nil {
		log.Error("token issuance failed", "err", err)
		os.Exit(1)
	}
	log.Info("token issued", "user_id", *userID, "role", *role, "access_ttl", cfg.Auth.AccessTokenTTL.String())

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(pair); err != nil {
		log.Error("write failed", "err", err)
		os.Exit(1)
	}
}
