package db

import (
	"strings"
	"testing"

	"mvsynth/config"
)

func TestDSN(t *testing.T) {
	cfg := &config.Config{DBUser: "mv", DBPassword: "p@ss", DBHost: "db.local", DBPort: "3307", DBName: "mvsynth"}
	dsn := DSN(cfg)

	for _, want := range []string{"mv:p@ss@tcp(db.local:3307)/mvsynth", "parseTime=true", "charset=utf8mb4"} {
		if !strings.Contains(dsn, want) {
			t.Errorf("DSN %q missing %q", dsn, want)
		}
	}
}
