package main

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"vodforge/internal/objectstore"
)

func TestFirstNonEmpty(t *testing.T) {
	if got := firstNonEmpty("", "  ", "value", "other"); got != "value" {
		t.Fatalf("expected first non-blank value, got %q", got)
	}
	if got := firstNonEmpty("", "   "); got != "" {
		t.Fatalf("expected empty string, got %q", got)
	}
}

func TestResolveIntPrefersFlag(t *testing.T) {
	t.Setenv("VODFORGE_TEST_INT", "7")
	if got := resolveInt(3, "VODFORGE_TEST_INT"); got != 3 {
		t.Fatalf("expected flag value 3, got %d", got)
	}
	if got := resolveInt(0, "VODFORGE_TEST_INT"); got != 7 {
		t.Fatalf("expected env value 7, got %d", got)
	}
	if got := resolveIntDefault(0, "VODFORGE_TEST_INT_MISSING", 4); got != 4 {
		t.Fatalf("expected fallback 4, got %d", got)
	}
}

func TestResolveDurationFallback(t *testing.T) {
	t.Setenv("VODFORGE_TEST_DURATION", "90s")
	if got := resolveDuration(0, "VODFORGE_TEST_DURATION", time.Minute); got != 90*time.Second {
		t.Fatalf("expected env duration, got %v", got)
	}
	if got := resolveDuration(0, "VODFORGE_TEST_DURATION_MISSING", time.Minute); got != time.Minute {
		t.Fatalf("expected fallback duration, got %v", got)
	}
}

func TestResolveBoolFromEnv(t *testing.T) {
	t.Setenv("VODFORGE_TEST_BOOL", "true")
	if !resolveBool(false, "VODFORGE_TEST_BOOL") {
		t.Fatal("expected env value to enable the flag")
	}
	if resolveBool(false, "VODFORGE_TEST_BOOL_MISSING") {
		t.Fatal("expected missing env to leave the flag off")
	}
}

func TestOpenStoreDefaultsToJSON(t *testing.T) {
	t.Setenv("VODFORGE_STORAGE_DRIVER", "")
	t.Setenv("VODFORGE_POSTGRES_DSN", "")
	t.Setenv("DATABASE_URL", "")
	dataFile := filepath.Join(t.TempDir(), "library.json")
	store, driver, err := openStore(context.Background(), "", dataFile, "", storageOptions{})
	if err != nil {
		t.Fatalf("openStore: %v", err)
	}
	defer store.Close(context.Background())
	if driver != "json" {
		t.Fatalf("expected json driver, got %q", driver)
	}
}

func TestOpenStorePostgresRequiresDSN(t *testing.T) {
	t.Setenv("VODFORGE_POSTGRES_DSN", "")
	t.Setenv("DATABASE_URL", "")
	if _, _, err := openStore(context.Background(), "postgres", "", "", storageOptions{}); err == nil {
		t.Fatal("expected an error when the postgres driver has no DSN")
	}
}

func TestOpenStoreRejectsUnknownDriver(t *testing.T) {
	if _, _, err := openStore(context.Background(), "sqlite", "", "", storageOptions{}); err == nil {
		t.Fatal("expected an error for an unsupported driver")
	}
}

func TestMediaOrigin(t *testing.T) {
	cases := []struct {
		name string
		cfg  objectstore.Config
		want string
	}{
		{
			name: "public endpoint wins",
			cfg:  objectstore.Config{Endpoint: "http://minio:9000", PublicEndpoint: "https://media.example.com/videos"},
			want: "https://media.example.com",
		},
		{
			name: "falls back to endpoint",
			cfg:  objectstore.Config{Endpoint: "http://127.0.0.1:9000"},
			want: "http://127.0.0.1:9000",
		},
		{
			name: "empty config",
			cfg:  objectstore.Config{},
			want: "",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := mediaOrigin(tc.cfg); got != tc.want {
				t.Fatalf("expected %q, got %q", tc.want, got)
			}
		})
	}
}
