package db

import (
	"errors"
	"slices"
	"strings"
	"testing"

	"gorm.io/gorm/logger"
)

func TestMigrationSQLIsEmbedded(t *testing.T) {
	t.Parallel()

	if !strings.Contains(preAutoMigrateSQL, "CREATE SCHEMA IF NOT EXISTS pageid") {
		t.Fatalf("pre-auto-migrate SQL must create the pageid schema")
	}
	if !strings.Contains(postAutoMigrateSQL, "page_identities_normalized_url_updated_idx") {
		t.Fatalf("post-auto-migrate SQL must index normalized_url")
	}
}

func TestAutoMigrateModelsTableNames(t *testing.T) {
	t.Parallel()

	var names []string
	for _, model := range autoMigrateModels() {
		tabler, ok := model.(interface{ TableName() string })
		if !ok {
			t.Fatalf("model %T has no TableName", model)
		}
		names = append(names, tabler.TableName())
	}
	if !slices.Equal(names, []string{"pageid.page_identities", "pageid.resolution_events"}) {
		t.Fatalf("unexpected tables: %v", names)
	}
}

func TestResolveGormLogLevel(t *testing.T) {
	t.Parallel()

	cases := []struct {
		level, env string
		want       logger.LogLevel
	}{
		{"debug", "production", logger.Info},
		{"info", "production", logger.Warn},
		{"error", "local", logger.Error},
		{"disabled", "local", logger.Silent},
		{"bogus", "local", logger.Warn},
		{"bogus", "production", logger.Error},
	}
	for _, tc := range cases {
		if got := resolveGormLogLevel(tc.level, tc.env); got != tc.want {
			t.Fatalf("resolveGormLogLevel(%q, %q) = %v, want %v", tc.level, tc.env, got, tc.want)
		}
	}
}

func TestParsePageIdentityID(t *testing.T) {
	t.Parallel()

	id, err := parsePageIdentityID(" 3F2504E0-4F89-11D3-9A0C-0305E82C3301 ")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if id != "3f2504e0-4f89-11d3-9a0c-0305e82c3301" {
		t.Fatalf("unexpected canonical id %q", id)
	}

	if _, err := parsePageIdentityID("not-a-uuid"); !errors.Is(err, ErrInvalidID) {
		t.Fatalf("expected ErrInvalidID, got %v", err)
	}
}

func TestStringListCodec(t *testing.T) {
	t.Parallel()

	encoded, err := marshalStringList(nil)
	if err != nil || encoded != "[]" {
		t.Fatalf("nil list should encode as [], got %q (%v)", encoded, err)
	}

	decoded, err := unmarshalStringList([]byte("null"))
	if err != nil || decoded == nil || len(decoded) != 0 {
		t.Fatalf("null should decode to an empty list, got %#v (%v)", decoded, err)
	}

	if _, err := unmarshalStringList([]byte(`{"a":1}`)); err == nil {
		t.Fatalf("expected object to be rejected")
	}
}

func TestNullableString(t *testing.T) {
	t.Parallel()

	if nullableString("  ") != nil {
		t.Fatalf("blank should be NULL")
	}
	if got := nullableString(" https://a.com/x "); got == nil || *got != "https://a.com/x" {
		t.Fatalf("unexpected value %v", got)
	}
}
