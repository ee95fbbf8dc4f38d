// Package planner turns a search request into a storage query. It resolves
// the caller-relative scopes, intersects keyword postings with any explicit
// id allow-list and decides how the page's has-next flag is computed.
package planner

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/Adithya-Monish-Kumar-K/copilot-search/internal/copilot"
	"github.com/Adithya-Monish-Kumar-K/copilot-search/internal/filter"
	"github.com/Adithya-Monish-Kumar-K/copilot-search/internal/index"
	"github.com/Adithya-Monish-Kumar-K/copilot-search/internal/store"
	"github.com/Adithya-Monish-Kumar-K/copilot-search/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/copilot-search/pkg/errors"
)

// UploaderMe resolves to the caller.
const UploaderMe = "me"

// maxOffset bounds (page-1)*limit so deep pages cannot overflow the offset.
const maxOffset = 1<<31 - 1

// Request is one search as the caller phrased it.
type Request struct {
	Keyword       string
	LevelKeyword  string
	UploaderID    string
	Operator      string
	CopilotIDs    []int64
	OnlyFollowing bool
	Status        string
	OrderBy       string
	Desc          bool
	Page          int
	Limit         int
}

// Postings is the read side of the segment index.
type Postings interface {
	Tokenize(texts ...string) []string
	Query(token string) map[int64]struct{}
}

// Plan is the resolved form of a Request.
type Plan struct {
	Query store.Query
	Page  int
	Limit int
	// Empty is set when the result is known to be empty without a storage
	// round trip.
	Empty bool
	// Exact reports that has-next comes from a count rather than from a
	// full page.
	Exact bool
	// Home is set when the request is an unfiltered listing eligible for
	// page caching under its ordering.
	Home        bool
	Fingerprint string
}

type Planner struct {
	postings Postings
	follows  store.FollowGraph
	stages   store.StageCatalog
	cfg      config.SearchConfig
	logger   *slog.Logger
}

func New(postings Postings, follows store.FollowGraph, stages store.StageCatalog, cfg config.SearchConfig) *Planner {
	return &Planner{
		postings: postings,
		follows:  follows,
		stages:   stages,
		cfg:      cfg,
		logger:   slog.Default().With("component", "planner"),
	}
}

// Normalize fills in paging defaults and clamps the limit.
func (p *Planner) Normalize(req Request) Request {
	req.Keyword = strings.TrimSpace(req.Keyword)
	req.LevelKeyword = strings.TrimSpace(req.LevelKeyword)
	req.UploaderID = strings.TrimSpace(req.UploaderID)
	req.Operator = strings.TrimSpace(req.Operator)
	if req.Page <= 0 {
		req.Page = 1
	}
	if req.Limit <= 0 {
		req.Limit = p.cfg.DefaultLimit
	}
	if req.Limit > p.cfg.MaxLimit {
		req.Limit = p.cfg.MaxLimit
	}
	return req
}

// IsHome reports whether req only pages through an ordering with no filter.
func IsHome(req Request) bool {
	return req.Keyword == "" &&
		req.LevelKeyword == "" &&
		req.UploaderID == "" &&
		req.Operator == "" &&
		len(req.CopilotIDs) == 0 &&
		!req.OnlyFollowing
}

// exactCount reports whether the filter combination is cheap enough to
// count: a listing scoped to one named uploader and nothing else.
func exactCount(req Request) bool {
	return req.Keyword == "" &&
		req.LevelKeyword == "" &&
		req.Operator == "" &&
		len(req.CopilotIDs) == 0 &&
		req.UploaderID != "" &&
		req.UploaderID != UploaderMe
}

// Plan resolves req for callerID, which is empty for anonymous callers.
func (p *Planner) Plan(ctx context.Context, req Request, callerID string) (*Plan, error) {
	req = p.Normalize(req)
	if req.Page-1 > maxOffset/req.Limit {
		return nil, apperrors.Invalid("page %d is out of range", req.Page)
	}
	order := copilot.ParseOrder(req.OrderBy)
	plan := &Plan{
		Page:  req.Page,
		Limit: req.Limit,
		Exact: exactCount(req),
		Home:  req.Page <= p.cfg.CacheMaxPage && IsHome(req),
		Query: store.Query{
			Order:  order,
			Desc:   req.Desc,
			Offset: (req.Page - 1) * req.Limit,
			Limit:  req.Limit,
		},
	}
	plan.Query.Count = plan.Exact
	if plan.Home {
		plan.Fingerprint = Fingerprint(order, req)
	}

	conds := filter.And{filter.Equals{Field: filter.FieldDeleted, Value: false}}

	uploader := req.UploaderID
	if uploader == UploaderMe {
		if callerID == "" {
			return nil, apperrors.New(apperrors.ErrUnauthorized, http.StatusUnauthorized, "uploader_id=me requires a signed-in caller")
		}
		uploader = callerID
		if req.Status != "" {
			conds = append(conds, filter.Equals{Field: filter.FieldStatus, Value: copilot.ParseStatus(req.Status)})
		}
	} else {
		conds = append(conds, filter.Equals{Field: filter.FieldStatus, Value: copilot.StatusPublic})
	}
	if uploader != "" {
		conds = append(conds, filter.Equals{Field: filter.FieldUploader, Value: uploader})
	}

	if req.OnlyFollowing && callerID != "" {
		following, err := p.follows.FollowingIDs(ctx, callerID)
		if err != nil {
			return nil, fmt.Errorf("loading following list of %s: %w", callerID, err)
		}
		if len(following) == 0 {
			plan.Empty = true
			return plan, nil
		}
		conds = append(conds, filter.UploaderIn(following))
	}

	ids, empty := p.candidates(req)
	if empty {
		plan.Empty = true
		return plan, nil
	}
	if ids != nil {
		conds = append(conds, filter.IDIn(ids))
	}

	if singleAlnum(req.Keyword) {
		conds = append(conds, filter.Like{Field: filter.FieldStage, Substring: req.Keyword})
	}

	if req.LevelKeyword != "" {
		stageIDs, err := p.stages.StageIDsByKeyword(ctx, req.LevelKeyword)
		if err != nil {
			return nil, fmt.Errorf("resolving level keyword %q: %w", req.LevelKeyword, err)
		}
		if len(stageIDs) == 0 {
			conds = append(conds, filter.Like{Field: filter.FieldStage, Substring: req.LevelKeyword})
		} else {
			vals := make([]any, len(stageIDs))
			for i, s := range stageIDs {
				vals[i] = s
			}
			conds = append(conds, filter.In{Field: filter.FieldStage, Values: vals})
		}
	}

	include, exclude := SplitOperators(req.Operator)
	if len(include) > 0 {
		conds = append(conds, filter.HasOperator{Names: include})
	}
	if len(exclude) > 0 {
		conds = append(conds, filter.Not{Expr: filter.HasOperator{Names: exclude}})
	}

	plan.Query.Filter = conds
	return plan, nil
}

// candidates intersects keyword postings with the explicit allow-list. A nil
// slice with empty=false means no id constraint.
func (p *Planner) candidates(req Request) (ids []int64, empty bool) {
	var allow map[int64]struct{}
	if len(req.CopilotIDs) > 0 {
		allow = index.SetOf(req.CopilotIDs...)
	}

	var sets []map[int64]struct{}
	keyword := req.Keyword
	if keyword != "" && !singleAlnum(keyword) {
		tokens := p.postings.Tokenize(keyword)
		if len(tokens) > 0 {
			for _, tok := range tokens {
				posting := p.postings.Query(tok)
				if len(posting) == 0 && strings.EqualFold(tok, keyword) {
					continue
				}
				sets = append(sets, posting)
			}
			if len(sets) == 0 {
				p.logger.Debug("keyword matched no postings", "keyword", keyword)
				return nil, true
			}
			if allow != nil {
				sets = append(sets, allow)
			}
			hit := index.Intersect(sets...)
			if len(hit) == 0 {
				return nil, true
			}
			return sortedIDs(hit), false
		}
	}
	if allow != nil {
		return sortedIDs(allow), false
	}
	return nil, false
}

func sortedIDs(set map[int64]struct{}) []int64 {
	out := make([]int64, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// singleAlnum reports whether s is exactly one letter or digit.
func singleAlnum(s string) bool {
	if utf8.RuneCountInString(s) != 1 {
		return false
	}
	r, _ := utf8.DecodeRuneInString(s)
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

// SplitOperators parses "a,~b,c" into included and excluded operator names.
// Quotes are stripped and blank entries ignored.
func SplitOperators(s string) (include, exclude []string) {
	for _, part := range strings.Split(copilot.RemoveQuotes(s), ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if name, ok := strings.CutPrefix(part, "~"); ok {
			if name = strings.TrimSpace(name); name != "" {
				exclude = append(exclude, name)
			}
			continue
		}
		include = append(include, part)
	}
	return include, exclude
}

// Fingerprint is the canonical cache identity of a home listing.
func Fingerprint(order copilot.Order, req Request) string {
	return strings.Join([]string{
		string(order),
		strconv.FormatBool(req.Desc),
		strconv.Itoa(req.Page),
		strconv.Itoa(req.Limit),
	}, ":")
}
