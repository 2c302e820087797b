// Package main provides the avatar credential check tool.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/joho/godotenv"

	"github.com/osa030/demoday/internal/domain/slot"
	"github.com/osa030/demoday/internal/infra/avatar"
	"github.com/osa030/demoday/internal/infra/config"
	"github.com/osa030/demoday/internal/infra/logger"
)

var (
	app        = kingpin.New("demoday-auth", "Verify avatar API keys by requesting a session token with each one")
	configPath = app.Flag("config", "Path to config file").Default("config/server.yaml").String()
	role       = app.Flag("role", "Only check this role").Enum("investor", "coach")
	timeout    = app.Flag("timeout", "Timeout per request").Default("10s").Duration()
)

type keyCheck struct {
	role  slot.Role
	name  string
	key   string
	avtID string
}

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	kingpin.MustParse(app.Parse(os.Args[1:]))

	if err := logger.Init(logger.Config{Output: "stderr", Level: "warn"}); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	client, err := avatar.New(avatar.Config{AuthURI: cfg.Avatar.AuthURI, Timeout: *timeout})
	if err != nil {
		fmt.Printf("Failed to create avatar client: %v\n", err)
		os.Exit(1)
	}

	checks := collectChecks(cfg)
	if len(checks) == 0 {
		fmt.Println("No API keys configured")
		os.Exit(1)
	}

	failed := 0
	for _, c := range checks {
		ctx, cancel := context.WithTimeout(context.Background(), *timeout)
		start := time.Now()
		_, err := client.SessionToken(ctx, c.key, c.avtID)
		cancel()

		if err != nil {
			failed++
			fmt.Printf("FAIL  %-8s %-8s %v\n", c.role, c.name, err)
			continue
		}
		fmt.Printf("OK    %-8s %-8s (%v)\n", c.role, c.name, time.Since(start).Round(time.Millisecond))
	}

	// Each successful check opened an upstream session; they expire on their own.
	fmt.Printf("\n%d/%d keys valid\n", len(checks)-failed, len(checks))
	if failed > 0 {
		os.Exit(1)
	}
}

func collectChecks(cfg *config.Config) []keyCheck {
	roles := map[slot.Role]config.RoleConfig{
		slot.RoleInvestor: cfg.Roles.Investor,
		slot.RoleCoach:    cfg.Roles.Coach,
	}

	var checks []keyCheck
	for _, r := range slot.Roles() {
		if *role != "" && string(r) != *role {
			continue
		}
		rc := roles[r]
		if rc.AvatarID == "" {
			fmt.Printf("SKIP  %-8s no avatar id configured\n", r)
			continue
		}
		for _, k := range []struct{ name, key string }{
			{"key1", rc.APIKey1},
			{"key2", rc.APIKey2},
			{"default", rc.APIKey},
		} {
			if k.key != "" {
				checks = append(checks, keyCheck{role: r, name: k.name, key: k.key, avtID: rc.AvatarID})
			}
		}
	}
	return checks
}
