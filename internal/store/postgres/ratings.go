package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/Adithya-Monish-Kumar-K/copilot-search/internal/copilot"
)

func (s *Store) GetRating(ctx context.Context, kind copilot.KeyType, key, userID string) (*copilot.Rating, error) {
	ctx, cancel := s.db.WithTimeout(ctx)
	defer cancel()
	r := copilot.Rating{Type: kind, Key: key, UserID: userID}
	var rating string
	err := s.db.DB.QueryRowContext(ctx,
		`SELECT rating, rate_time FROM ratings WHERE type = $1 AND key = $2 AND user_id = $3`,
		string(kind), key, userID).Scan(&rating, &r.RateTime)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s rating of %s by %s: %w", kind, key, userID, err)
	}
	r.Rating = copilot.RatingType(rating)
	return &r, nil
}

func (s *Store) UpsertRating(ctx context.Context, r copilot.Rating) error {
	ctx, cancel := s.db.WithTimeout(ctx)
	defer cancel()
	_, err := s.db.DB.ExecContext(ctx,
		`INSERT INTO ratings (type, key, user_id, rating, rate_time) VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (type, key, user_id) DO UPDATE SET rating = EXCLUDED.rating, rate_time = EXCLUDED.rate_time`,
		string(r.Type), r.Key, r.UserID, string(r.Rating), r.RateTime)
	if err != nil {
		return fmt.Errorf("saving %s rating of %s by %s: %w", r.Type, r.Key, r.UserID, err)
	}
	return nil
}

func (s *Store) CountRatings(ctx context.Context, kind copilot.KeyType, keys []string, rating copilot.RatingType, since time.Time) (map[string]int64, error) {
	out := make(map[string]int64)
	if len(keys) == 0 {
		return out, nil
	}
	ctx, cancel := s.db.WithTimeout(ctx)
	defer cancel()
	rows, err := s.db.DB.QueryContext(ctx,
		`SELECT key, count(*) FROM ratings
		 WHERE type = $1 AND key = ANY($2) AND rating = $3 AND rate_time >= $4
		 GROUP BY key`,
		string(kind), pq.Array(keys), string(rating), since)
	if err != nil {
		return nil, fmt.Errorf("counting %s ratings: %w", rating, err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			key string
			n   int64
		)
		if err := rows.Scan(&key, &n); err != nil {
			return nil, fmt.Errorf("scanning rating count: %w", err)
		}
		out[key] = n
	}
	return out, rows.Err()
}
