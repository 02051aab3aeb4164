// internal/catalog/postgres.go
package catalog

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
)

// PostgresCatalog serves random questions from the questions table.
type PostgresCatalog struct {
	pool   *pgxpool.Pool
	logger *logrus.Logger
}

// ConnectPostgres builds a pgx pool from the POSTGRES_USER, POSTGRES_PASSWORD,
// PG_HOST, PG_PORT and PG_DATABASE environment variables and pings it.
func ConnectPostgres(ctx context.Context, logger *logrus.Logger) (*PostgresCatalog, error) {
	connStr := fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s",
		os.Getenv("POSTGRES_USER"),
		os.Getenv("POSTGRES_PASSWORD"),
		os.Getenv("PG_HOST"),
		os.Getenv("PG_PORT"),
		os.Getenv("PG_DATABASE"),
	)

	config, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("unable to parse pgx config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to create pgx pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("db ping error: %w", err)
	}

	return &PostgresCatalog{pool: pool, logger: logger}, nil
}

// RandomQuestion picks one question uniformly at random. Any failure, or an
// empty bank, yields DefaultQuestion so a match can still start.
func (c *PostgresCatalog) RandomQuestion(ctx context.Context) Question {
	q := `
		SELECT id, question, answer_criteria
		FROM questions
		ORDER BY random()
		LIMIT 1
	`
	var question Question
	err := c.pool.QueryRow(ctx, q).Scan(&question.ID, &question.Text, &question.AnswerCriteria)
	if err != nil {
		c.logger.Warnf("question lookup failed, serving default: %v", err)
		return DefaultQuestion
	}
	return question
}

// Close releases the underlying pool.
func (c *PostgresCatalog) Close() {
	c.pool.Close()
}
