// Package postgres implements the storage collaborators on PostgreSQL through
// lib/pq. Every call runs under the client's query timeout.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/lib/pq"

	"github.com/Adithya-Monish-Kumar-K/copilot-search/internal/copilot"
	"github.com/Adithya-Monish-Kumar-K/copilot-search/internal/store"
	apperrors "github.com/Adithya-Monish-Kumar-K/copilot-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/copilot-search/pkg/postgres"
)

const scanPage = 1000

const copilotColumns = `c.copilot_id, c.stage_name, c.uploader_id, c.views, c.rating_level, c.rating_ratio,
	c.like_count, c.dislike_count, c.hot_score, c.title, c.details, c.first_upload_time, c.upload_time,
	c.content, c.status, c.comment_status, c."delete", c.delete_time, c.notification`

type Store struct {
	db     *postgres.Client
	logger *slog.Logger
}

var (
	_ store.CopilotStore   = (*Store)(nil)
	_ store.RatingStore    = (*Store)(nil)
	_ store.FollowGraph    = (*Store)(nil)
	_ store.UserDirectory  = (*Store)(nil)
	_ store.CommentCounter = (*Store)(nil)
	_ store.StageCatalog   = (*Store)(nil)
)

func New(db *postgres.Client) *Store {
	return &Store{
		db:     db,
		logger: slog.Default().With("component", "copilot-store"),
	}
}

func notFound(id int64) error {
	return apperrors.Newf(apperrors.ErrCopilotNotFound, http.StatusNotFound, "copilot %d does not exist", id)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCopilot(row scanner) (*copilot.Copilot, error) {
	var (
		c          copilot.Copilot
		status     string
		comments   string
		deleteTime sql.NullTime
	)
	err := row.Scan(&c.ID, &c.StageName, &c.UploaderID, &c.Views, &c.RatingLevel, &c.RatingRatio,
		&c.LikeCount, &c.DislikeCount, &c.HotScore, &c.Title, &c.Details, &c.FirstUploadTime, &c.UploadTime,
		&c.Content, &status, &comments, &c.Deleted, &deleteTime, &c.Notification)
	if err != nil {
		return nil, err
	}
	c.Status = copilot.Status(status)
	c.CommentStatus = copilot.CommentStatus(comments)
	if deleteTime.Valid {
		t := deleteTime.Time
		c.DeleteTime = &t
	}
	return &c, nil
}

// query runs a copilots select and attaches operator lists to the rows.
func (s *Store) query(ctx context.Context, q string, args ...any) ([]*copilot.Copilot, error) {
	rows, err := s.db.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*copilot.Copilot
	for rows.Next() {
		c, err := scanCopilot(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning copilot row: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := s.attachOperators(ctx, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) attachOperators(ctx context.Context, recs []*copilot.Copilot) error {
	if len(recs) == 0 {
		return nil
	}
	byID := make(map[int64]*copilot.Copilot, len(recs))
	ids := make([]int64, len(recs))
	for i, c := range recs {
		byID[c.ID] = c
		ids[i] = c.ID
	}
	rows, err := s.db.DB.QueryContext(ctx,
		`SELECT copilot_id, name FROM copilot_operators WHERE copilot_id = ANY($1) ORDER BY copilot_id, name`,
		pq.Array(ids))
	if err != nil {
		return fmt.Errorf("loading operators: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			id   int64
			name string
		)
		if err := rows.Scan(&id, &name); err != nil {
			return fmt.Errorf("scanning operator row: %w", err)
		}
		if c, ok := byID[id]; ok {
			c.Operators = append(c.Operators, name)
		}
	}
	return rows.Err()
}

// EachNotDeleted walks live records in id order one page at a time, so no
// cursor is held open while fn runs.
func (s *Store) EachNotDeleted(ctx context.Context, fn func(*copilot.Copilot) error) error {
	var afterID int64
	for {
		page, err := s.PageAfter(ctx, afterID, scanPage)
		if err != nil {
			return err
		}
		for _, c := range page {
			if err := fn(c); err != nil {
				return err
			}
		}
		if len(page) < scanPage {
			return nil
		}
		afterID = page[len(page)-1].ID
	}
}

func (s *Store) PageAfter(ctx context.Context, afterID int64, limit int) ([]*copilot.Copilot, error) {
	ctx, cancel := s.db.WithTimeout(ctx)
	defer cancel()
	recs, err := s.query(ctx,
		`SELECT `+copilotColumns+` FROM copilots c
		 WHERE NOT c."delete" AND c.copilot_id > $1
		 ORDER BY c.copilot_id LIMIT $2`, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("paging copilots after %d: %w", afterID, err)
	}
	return recs, nil
}

func (s *Store) FindByIDs(ctx context.Context, ids []int64) ([]*copilot.Copilot, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	ctx, cancel := s.db.WithTimeout(ctx)
	defer cancel()
	recs, err := s.query(ctx,
		`SELECT `+copilotColumns+` FROM copilots c
		 WHERE NOT c."delete" AND c.copilot_id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("loading %d copilots: %w", len(ids), err)
	}
	return recs, nil
}

func (s *Store) Get(ctx context.Context, id int64) (*copilot.Copilot, error) {
	recs, err := s.FindByIDs(ctx, []int64{id})
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, notFound(id)
	}
	return recs[0], nil
}

// Query runs q. Ties on the order column fall back to id in the same
// direction, so paging is stable. A negative Limit means unlimited.
func (s *Store) Query(ctx context.Context, q store.Query) (store.Result, error) {
	w := &where{}
	cond, err := w.compile(q.Filter)
	if err != nil {
		return store.Result{}, err
	}
	col, ok := orderColumns[q.Order]
	if !ok {
		col = orderColumns[copilot.OrderID]
	}
	dir := "ASC"
	if q.Desc {
		dir = "DESC"
	}
	stmt := `SELECT ` + copilotColumns + ` FROM copilots c WHERE ` + cond + ` ORDER BY ` + col + ` ` + dir
	if col != orderColumns[copilot.OrderID] {
		stmt += `, c.copilot_id ` + dir
	}
	if q.Limit >= 0 {
		stmt += ` LIMIT ` + strconv.Itoa(q.Limit)
	}
	if q.Offset > 0 {
		stmt += ` OFFSET ` + strconv.Itoa(q.Offset)
	}

	ctx, cancel := s.db.WithTimeout(ctx)
	defer cancel()

	res := store.Result{}
	rows, err := s.query(ctx, stmt, w.args...)
	if err != nil {
		return res, fmt.Errorf("querying copilots where %s: %w", q.Filter, err)
	}
	res.Rows = rows
	if res.Rows == nil {
		res.Rows = []*copilot.Copilot{}
	}
	if q.Count {
		if err := s.db.DB.QueryRowContext(ctx, `SELECT count(*) FROM copilots c WHERE `+cond, w.args...).Scan(&res.Total); err != nil {
			return res, fmt.Errorf("counting copilots where %s: %w", q.Filter, err)
		}
		res.Counted = true
	}
	return res, nil
}

func replaceOperators(ctx context.Context, tx *sql.Tx, c *copilot.Copilot) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM copilot_operators WHERE copilot_id = $1`, c.ID); err != nil {
		return fmt.Errorf("clearing operators of %d: %w", c.ID, err)
	}
	if len(c.Operators) == 0 {
		return nil
	}
	_, err := tx.ExecContext(ctx,
		`INSERT INTO copilot_operators (copilot_id, name)
		 SELECT $1, name FROM unnest($2::text[]) AS name
		 ON CONFLICT DO NOTHING`, c.ID, pq.Array(c.Operators))
	if err != nil {
		return fmt.Errorf("linking operators of %d: %w", c.ID, err)
	}
	return nil
}

const uniqueViolation = "23505"

func (s *Store) Insert(ctx context.Context, c *copilot.Copilot) error {
	ctx, cancel := s.db.WithTimeout(ctx)
	defer cancel()
	return s.db.InTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO copilots (copilot_id, stage_name, uploader_id, views, rating_level, rating_ratio,
				like_count, dislike_count, hot_score, title, details, first_upload_time, upload_time,
				content, status, comment_status, notification)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
			c.ID, c.StageName, c.UploaderID, c.Views, c.RatingLevel, c.RatingRatio,
			c.LikeCount, c.DislikeCount, c.HotScore, c.Title, c.Details, c.FirstUploadTime, c.UploadTime,
			c.Content, string(c.Status), string(c.CommentStatus), c.Notification)
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return fmt.Errorf("copilot %d: %w", c.ID, store.ErrDuplicateID)
		}
		if err != nil {
			return fmt.Errorf("inserting copilot %d: %w", c.ID, err)
		}
		return replaceOperators(ctx, tx, c)
	})
}

// Update rewrites the editable columns. Counters and the hot score belong to
// their own write paths and are left alone.
func (s *Store) Update(ctx context.Context, c *copilot.Copilot) error {
	ctx, cancel := s.db.WithTimeout(ctx)
	defer cancel()
	return s.db.InTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE copilots SET stage_name = $2, title = $3, details = $4, upload_time = $5,
				content = $6, status = $7, comment_status = $8, notification = $9
			 WHERE copilot_id = $1 AND NOT "delete"`,
			c.ID, c.StageName, c.Title, c.Details, c.UploadTime,
			c.Content, string(c.Status), string(c.CommentStatus), c.Notification)
		if err != nil {
			return fmt.Errorf("updating copilot %d: %w", c.ID, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return notFound(c.ID)
		}
		return replaceOperators(ctx, tx, c)
	})
}

func (s *Store) SoftDelete(ctx context.Context, id int64, at time.Time) error {
	ctx, cancel := s.db.WithTimeout(ctx)
	defer cancel()
	res, err := s.db.DB.ExecContext(ctx,
		`UPDATE copilots SET "delete" = TRUE, delete_time = $2 WHERE copilot_id = $1 AND NOT "delete"`, id, at)
	if err != nil {
		return fmt.Errorf("deleting copilot %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound(id)
	}
	return nil
}

func (s *Store) BatchUpdateHotScore(ctx context.Context, scores map[int64]float64) error {
	if len(scores) == 0 {
		return nil
	}
	ids := make([]int64, 0, len(scores))
	vals := make([]float64, 0, len(scores))
	for id, score := range scores {
		ids = append(ids, id)
		vals = append(vals, score)
	}
	ctx, cancel := s.db.WithTimeout(ctx)
	defer cancel()
	_, err := s.db.DB.ExecContext(ctx,
		`UPDATE copilots AS c SET hot_score = v.score
		 FROM unnest($1::bigint[], $2::float8[]) AS v(id, score)
		 WHERE c.copilot_id = v.id`, pq.Array(ids), pq.Array(vals))
	if err != nil {
		return fmt.Errorf("writing %d hot scores: %w", len(scores), err)
	}
	return nil
}

func (s *Store) IncrementViews(ctx context.Context, deltas map[int64]int64) error {
	if len(deltas) == 0 {
		return nil
	}
	ids := make([]int64, 0, len(deltas))
	incs := make([]int64, 0, len(deltas))
	for id, d := range deltas {
		ids = append(ids, id)
		incs = append(incs, d)
	}
	ctx, cancel := s.db.WithTimeout(ctx)
	defer cancel()
	_, err := s.db.DB.ExecContext(ctx,
		`UPDATE copilots AS c SET views = c.views + v.inc
		 FROM unnest($1::bigint[], $2::bigint[]) AS v(id, inc)
		 WHERE c.copilot_id = v.id AND NOT c."delete"`, pq.Array(ids), pq.Array(incs))
	if err != nil {
		return fmt.Errorf("adding views to %d copilots: %w", len(deltas), err)
	}
	return nil
}

// ApplyRatingDelta locks the row so concurrent raters serialize on it, then
// writes the clamped counters and the level derived from them.
func (s *Store) ApplyRatingDelta(ctx context.Context, id int64, likeDelta, dislikeDelta int64) (*copilot.Copilot, error) {
	ctx, cancel := s.db.WithTimeout(ctx)
	defer cancel()
	var out *copilot.Copilot
	err := s.db.InTx(ctx, func(tx *sql.Tx) error {
		c, err := scanCopilot(tx.QueryRowContext(ctx,
			`SELECT `+copilotColumns+` FROM copilots c WHERE c.copilot_id = $1 AND NOT c."delete" FOR UPDATE`, id))
		if errors.Is(err, sql.ErrNoRows) {
			return notFound(id)
		}
		if err != nil {
			return fmt.Errorf("locking copilot %d: %w", id, err)
		}
		c.ApplyRatingDelta(likeDelta, dislikeDelta)
		_, err = tx.ExecContext(ctx,
			`UPDATE copilots SET like_count = $2, dislike_count = $3, rating_level = $4, rating_ratio = $5
			 WHERE copilot_id = $1`,
			id, c.LikeCount, c.DislikeCount, c.RatingLevel, c.RatingRatio)
		if err != nil {
			return fmt.Errorf("writing rating counters of %d: %w", id, err)
		}
		out = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := s.attachOperators(ctx, []*copilot.Copilot{out}); err != nil {
		return nil, err
	}
	return out, nil
}

// MaxID includes soft-deleted rows so ids are never reused.
func (s *Store) MaxID(ctx context.Context) (int64, error) {
	ctx, cancel := s.db.WithTimeout(ctx)
	defer cancel()
	var maxID int64
	if err := s.db.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(copilot_id), 0) FROM copilots`).Scan(&maxID); err != nil {
		return 0, fmt.Errorf("reading max copilot id: %w", err)
	}
	return maxID, nil
}
