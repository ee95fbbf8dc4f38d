package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/Adithya-Monish-Kumar-K/copilot-search/internal/store"
)

func (s *Store) FollowingIDs(ctx context.Context, userID string) ([]string, error) {
	ctx, cancel := s.db.WithTimeout(ctx)
	defer cancel()
	rows, err := s.db.DB.QueryContext(ctx,
		`SELECT followee_id FROM user_follows WHERE follower_id = $1`, userID)
	if err != nil {
		return nil, fmt.Errorf("listing followees of %s: %w", userID, err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning followee: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *Store) UserNames(ctx context.Context, userIDs []string) (map[string]string, error) {
	out := make(map[string]string, len(userIDs))
	if len(userIDs) == 0 {
		return out, nil
	}
	ctx, cancel := s.db.WithTimeout(ctx)
	defer cancel()
	rows, err := s.db.DB.QueryContext(ctx,
		`SELECT user_id, user_name FROM users WHERE user_id = ANY($1)`, pq.Array(userIDs))
	if err != nil {
		return nil, fmt.Errorf("loading %d user names: %w", len(userIDs), err)
	}
	defer rows.Close()
	for rows.Next() {
		var id, name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, fmt.Errorf("scanning user name: %w", err)
		}
		out[id] = name
	}
	return out, rows.Err()
}

func (s *Store) CountComments(ctx context.Context, copilotIDs []int64) (map[int64]int64, error) {
	out := make(map[int64]int64, len(copilotIDs))
	if len(copilotIDs) == 0 {
		return out, nil
	}
	ctx, cancel := s.db.WithTimeout(ctx)
	defer cancel()
	rows, err := s.db.DB.QueryContext(ctx,
		`SELECT copilot_id, count(*) FROM comments
		 WHERE copilot_id = ANY($1) AND NOT "delete"
		 GROUP BY copilot_id`, pq.Array(copilotIDs))
	if err != nil {
		return nil, fmt.Errorf("counting comments of %d copilots: %w", len(copilotIDs), err)
	}
	defer rows.Close()
	for rows.Next() {
		var id, n int64
		if err := rows.Scan(&id, &n); err != nil {
			return nil, fmt.Errorf("scanning comment count: %w", err)
		}
		out[id] = n
	}
	return out, rows.Err()
}

// StageIDsByKeyword matches the keyword case-insensitively against the stage
// id, level id and display name.
func (s *Store) StageIDsByKeyword(ctx context.Context, keyword string) ([]string, error) {
	keyword = strings.TrimSpace(keyword)
	if keyword == "" {
		return nil, nil
	}
	ctx, cancel := s.db.WithTimeout(ctx)
	defer cancel()
	rows, err := s.db.DB.QueryContext(ctx,
		`SELECT stage_id FROM stages
		 WHERE stage_id ILIKE $1 OR level_id ILIKE $1 OR name ILIKE $1
		 ORDER BY stage_id`, "%"+escapeLike(keyword)+"%")
	if err != nil {
		return nil, fmt.Errorf("matching stages for %q: %w", keyword, err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning stage id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *Store) ResolveStage(ctx context.Context, ref string) (*store.Stage, error) {
	ctx, cancel := s.db.WithTimeout(ctx)
	defer cancel()
	var (
		st        store.Stage
		closeTime sql.NullTime
	)
	err := s.db.DB.QueryRowContext(ctx,
		`SELECT stage_id, level_id, name, close_time, open FROM stages
		 WHERE stage_id = $1 OR level_id = $1
		 ORDER BY (stage_id = $1) DESC LIMIT 1`, ref).
		Scan(&st.StageID, &st.LevelID, &st.Name, &closeTime, &st.Open)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolving stage %q: %w", ref, err)
	}
	if closeTime.Valid {
		t := closeTime.Time
		st.CloseTime = &t
	}
	return &st, nil
}
