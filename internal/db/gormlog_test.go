package db

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func traceWith(t *testing.T, level logger.LogLevel, begin time.Time, err error) string {
	t.Helper()
	var buf bytes.Buffer
	l := newGormLogger(zerolog.New(&buf).Level(zerolog.InfoLevel), level)
	l.Trace(context.Background(), begin, func() (string, int64) {
		return "INSERT INTO market.discussion_items", 1
	}, err)
	return buf.String()
}

func TestGormLoggerTrace(t *testing.T) {
	t.Parallel()

	now := time.Now()
	dup := fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"})

	tests := []struct {
		name  string
		level logger.LogLevel
		begin time.Time
		err   error
		want  string
	}{
		{name: "failure logged", level: logger.Warn, begin: now, err: errors.New("connection reset"), want: "sql statement failed"},
		{name: "unique violation quiet", level: logger.Warn, begin: now, err: dup, want: ""},
		{name: "record not found quiet", level: logger.Warn, begin: now, err: gorm.ErrRecordNotFound, want: ""},
		{name: "slow statement", level: logger.Warn, begin: now.Add(-2 * time.Second), want: "slow sql statement"},
		{name: "silent", level: logger.Silent, begin: now.Add(-2 * time.Second), err: errors.New("boom"), want: ""},
		{name: "fast statement below info", level: logger.Warn, begin: now, want: ""},
	}
	for _, tc := range tests {
		got := traceWith(t, tc.level, tc.begin, tc.err)
		if tc.want == "" {
			if got != "" {
				t.Fatalf("%s: expected no output, got %s", tc.name, got)
			}
			continue
		}
		if !strings.Contains(got, tc.want) || !strings.Contains(got, "discussion_items") {
			t.Fatalf("%s: expected %q with sql, got %s", tc.name, tc.want, got)
		}
	}
}

func TestMigrationStepsOrder(t *testing.T) {
	t.Parallel()

	var names []string
	for _, step := range migrationSteps() {
		names = append(names, step.name)
	}
	if strings.Join(names, ",") != "pre-auto-migrate,auto-migrate models,post-auto-migrate" {
		t.Fatalf("unexpected migration order: %v", names)
	}
	if !strings.Contains(preAutoMigrateSQL, "CREATE SCHEMA") || !strings.Contains(postAutoMigrateSQL, "discussion_items") {
		t.Fatalf("embedded migration scripts look wrong")
	}
}
