package migrations

import (
	"io/fs"
	"strings"
	"testing"
)

func TestMigrations_EmbedsGooseFiles(t *testing.T) {
	names, err := fs.Glob(Migrations, "*.sql")
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	if len(names) == 0 {
		t.Fatal("no migrations embedded")
	}
	for _, name := range names {
		body, err := fs.ReadFile(Migrations, name)
		if err != nil {
			t.Fatalf("read %s: %v", name, err)
		}
		if !strings.Contains(string(body), "-- +goose Up") || !strings.Contains(string(body), "-- +goose Down") {
			t.Fatalf("%s lacks goose annotations", name)
		}
	}
}

func TestMigrations_GuardConcurrentWrites(t *testing.T) {
	body, err := fs.ReadFile(Migrations, "00002_concurrency_guards.sql")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	for _, want := range []string{
		"UNIQUE (secret_id, content_name, position)",
		"ON access_requests (subject_type, subject_name, object_name, permissions)",
		"WHERE status = 'in_progress'",
		"chunk_count",
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("migration lacks %q", want)
		}
	}
}
