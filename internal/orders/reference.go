package orders

import (
	"context"
	"fmt"
	"time"

	"github.com/stashfi/starmf/pkg/database"
)

// ReferenceGenerator issues unique order reference numbers in the
// format the gateway expects: YYYYMMDD followed by a six-digit daily
// sequence. The sequence lives in the database so concurrent workers
// and restarts never reuse a number.
type ReferenceGenerator struct {
	db *database.DB
}

// NewReferenceGenerator creates a reference number generator.
func NewReferenceGenerator(db *database.DB) *ReferenceGenerator {
	return &ReferenceGenerator{db: db}
}

// Next returns the next reference number for today.
func (g *ReferenceGenerator) Next(ctx context.Context) (string, error) {
	day := time.Now().UTC().Format("20060102")

	var seq int64
	err := g.db.Pool.QueryRow(ctx, `
		INSERT INTO exchange.reference_seq (day, seq)
		VALUES ($1, 1)
		ON CONFLICT (day) DO UPDATE SET seq = exchange.reference_seq.seq + 1
		RETURNING seq`, day,
	).Scan(&seq)
	if err != nil {
		return "", fmt.Errorf("failed to allocate reference number: %w", err)
	}

	return fmt.Sprintf("%s%06d", day, seq), nil
}
