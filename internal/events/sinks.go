package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/aimerfeng/CourseChain/internal/logging"
	"github.com/aimerfeng/CourseChain/internal/models"
)

// LogSink writes events to the structured log
type LogSink struct {
	logger zerolog.Logger
}

// NewLogSink creates a log sink
func NewLogSink() *LogSink {
	return &LogSink{logger: logging.NewLogger("event-log")}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Write(_ context.Context, ev models.Event) error {
	e := s.logger.Info().
		Uint64("seq", ev.Seq).
		Str("source", ev.Source).
		Str("type", string(ev.Type))
	for k, v := range ev.Attrs {
		e = e.Str(k, v)
	}
	e.Msg("Ledger event")
	return nil
}

// Execer is the subset of pgxpool.Pool used by PostgresSink
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

const insertEventSQL = `
	INSERT INTO ledger_events (id, seq, source, type, occurred_at, attrs)
	VALUES ($1, $2, $3, $4, $5, $6)
	ON CONFLICT (id) DO NOTHING`

// PostgresSink mirrors events into the ledger_events table behind a
// circuit breaker
type PostgresSink struct {
	db      Execer
	breaker *Breaker
}

// NewPostgresSink creates a Postgres sink. A nil cfg uses the default
// breaker settings.
func NewPostgresSink(db Execer, cfg *BreakerConfig) *PostgresSink {
	return &PostgresSink{db: db, breaker: NewBreaker("postgres-events", cfg)}
}

func (s *PostgresSink) Name() string { return "postgres" }

// Breaker exposes the sink's circuit breaker
func (s *PostgresSink) Breaker() *Breaker { return s.breaker }

func (s *PostgresSink) Write(ctx context.Context, ev models.Event) error {
	attrs, err := json.Marshal(ev.Attrs)
	if err != nil {
		return fmt.Errorf("failed to encode event attrs: %w", err)
	}
	return s.breaker.Execute(ctx, func() error {
		if _, err := s.db.Exec(ctx, insertEventSQL,
			ev.ID, int64(ev.Seq), ev.Source, string(ev.Type), ev.Timestamp, attrs,
		); err != nil {
			return fmt.Errorf("failed to insert event: %w", err)
		}
		return nil
	})
}

// StreamAdder is the subset of the go-redis client used by RedisSink
type StreamAdder interface {
	XAdd(ctx context.Context, a *goredis.XAddArgs) *goredis.StringCmd
}

// RedisSink appends events to a Redis stream behind a circuit breaker so
// an unreachable Redis costs one fast failure per event instead of a
// timeout.
type RedisSink struct {
	rdb     StreamAdder
	stream  string
	maxLen  int64
	breaker *Breaker
}

// NewRedisSink creates a Redis stream sink. maxLen caps the stream
// approximately; zero leaves it uncapped.
func NewRedisSink(rdb StreamAdder, stream string, maxLen int64, cfg *BreakerConfig) *RedisSink {
	return &RedisSink{
		rdb:     rdb,
		stream:  stream,
		maxLen:  maxLen,
		breaker: NewBreaker("redis-"+stream, cfg),
	}
}

func (s *RedisSink) Name() string { return "redis" }

// Breaker exposes the sink's circuit breaker
func (s *RedisSink) Breaker() *Breaker { return s.breaker }

func (s *RedisSink) Write(ctx context.Context, ev models.Event) error {
	attrs, err := json.Marshal(ev.Attrs)
	if err != nil {
		return fmt.Errorf("failed to encode event attrs: %w", err)
	}
	return s.breaker.Execute(ctx, func() error {
		return s.rdb.XAdd(ctx, &goredis.XAddArgs{
			Stream: s.stream,
			MaxLen: s.maxLen,
			Approx: s.maxLen > 0,
			Values: map[string]any{
				"id":        ev.ID.String(),
				"seq":       strconv.FormatUint(ev.Seq, 10),
				"source":    ev.Source,
				"type":      string(ev.Type),
				"timestamp": ev.Timestamp.UTC().Format(time.RFC3339Nano),
				"attrs":     string(attrs),
			},
		}).Err()
	})
}
