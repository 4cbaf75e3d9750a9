package database

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aimerfeng/CourseChain/internal/events"
	"github.com/aimerfeng/CourseChain/internal/models"
)

var testDB *DB

func TestMain(m *testing.M) {
	url := os.Getenv("TEST_DATABASE_URL")
	if url != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		db, err := New(ctx, url)
		cancel()
		if err == nil {
			if err := RunMigrations(url); err == nil {
				testDB = db
			} else {
				db.Close()
			}
		}
	}
	code := m.Run()
	if testDB != nil {
		testDB.Close()
	}
	os.Exit(code)
}

func TestMigrationsEmbedded(t *testing.T) {
	entries, err := migrationsFS.ReadDir("migrations")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "000001_create_ledger_events.down.sql", entries[0].Name())
	assert.Equal(t, "000001_create_ledger_events.up.sql", entries[1].Name())
}

func TestPostgresSink_RoundTrip(t *testing.T) {
	if testDB == nil {
		t.Skip("TEST_DATABASE_URL not set or unreachable")
	}
	ctx := context.Background()
	sink := events.NewPostgresSink(testDB.Pool, nil)

	ev := models.NewEvent("market", models.EventCoursePurchased, time.Now().UTC(), map[string]string{
		"course_id": "1",
		"buyer":     "0x00000000000000000000000000000000000000b1",
	})
	ev.Seq = uint64(time.Now().UnixNano())
	require.NoError(t, sink.Write(ctx, ev))
	// Replays are ignored.
	require.NoError(t, sink.Write(ctx, ev))

	var count int
	require.NoError(t, testDB.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM ledger_events WHERE id = $1`, ev.ID).Scan(&count))
	assert.Equal(t, 1, count)

	recent, err := testDB.RecentEvents(ctx, 10)
	require.NoError(t, err)
	require.NotEmpty(t, recent)

	_, err = testDB.Pool.Exec(ctx, `DELETE FROM ledger_events WHERE id = $1`, ev.ID)
	require.NoError(t, err)
}
