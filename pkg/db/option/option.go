package option

import (
	"regexp"
	"strings"
	"time"

	"helpdesk-gamification/pkg/db/pagination"

	"gorm.io/gorm"
)

// QueryOption decorates a query built by repository.Repository.
type QueryOption func(*gorm.DB) *gorm.DB

type Operator string

const (
	EQ  Operator = "="
	NEQ Operator = "<>"
	GT  Operator = ">"
	GTE Operator = ">="
	LT  Operator = "<"
	LTE Operator = "<="
	IN  Operator = "IN"
)

type Condition struct {
	Field    string
	Operator Operator
	Value    any
}

var identifier = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_.]*$`)

func validField(field string) bool {
	return identifier.MatchString(field)
}

// ApplyOperator adds one WHERE clause per condition. Conditions naming an
// invalid column are dropped.
func ApplyOperator(conds ...Condition) QueryOption {
	return func(db *gorm.DB) *gorm.DB {
		for _, c := range conds {
			if !validField(c.Field) {
				continue
			}
			switch c.Operator {
			case IN:
				db = db.Where(c.Field+" IN ?", c.Value)
			case EQ, NEQ, GT, GTE, LT, LTE:
				db = db.Where(c.Field+" "+string(c.Operator)+" ?", c.Value)
			}
		}
		return db
	}
}

// WithIn restricts field to values; an empty list leaves the query alone.
func WithIn[V any](field string, values []V) QueryOption {
	return func(db *gorm.DB) *gorm.DB {
		if len(values) == 0 || !validField(field) {
			return db
		}
		return db.Where(field+" IN ?", values)
	}
}

// WithRange restricts field to the half-open interval [from, to). Zero bounds
// are open.
func WithRange(field string, from, to time.Time) QueryOption {
	return func(db *gorm.DB) *gorm.DB {
		if !validField(field) {
			return db
		}
		if !from.IsZero() {
			db = db.Where(field+" >= ?", from.UTC())
		}
		if !to.IsZero() {
			db = db.Where(field+" < ?", to.UTC())
		}
		return db
	}
}

type QuerySortBy struct {
	SortBy  string
	OrderBy string
	Allow   map[string]bool
}

// WithSortBy orders by each entry in turn. SortBy defaults to created_at and
// must be listed in Allow when Allow is set.
func WithSortBy(sorts ...QuerySortBy) QueryOption {
	return func(db *gorm.DB) *gorm.DB {
		for _, s := range sorts {
			field := s.SortBy
			if field == "" {
				field = "created_at"
			}
			if s.Allow != nil && !s.Allow[field] {
				continue
			}
			if !validField(field) {
				continue
			}
			order := "ASC"
			if strings.EqualFold(s.OrderBy, "desc") {
				order = "DESC"
			}
			db = db.Order(field + " " + order)
		}
		return db
	}
}

func WithLimit(limit int) QueryOption {
	return func(db *gorm.DB) *gorm.DB {
		if limit <= 0 {
			return db
		}
		return db.Limit(limit)
	}
}

// ApplyPagination walks (created_at, id) ascending from the cursor and
// fetches one row past the limit so the caller can tell whether more exist.
func ApplyPagination(p pagination.Pagination) QueryOption {
	return func(db *gorm.DB) *gorm.DB {
		p = p.Normalize()
		if p.Cursor != "" {
			cursor, err := pagination.DecodeCursor(p.Cursor)
			if err != nil {
				_ = db.AddError(err)
				return db
			}
			at := cursor.CreatedAt.UTC()
			db = db.Where("(created_at > ? OR (created_at = ? AND id > ?))", at, at, cursor.ID)
		}
		return db.Order("created_at ASC").Order("id ASC").Limit(p.Limit + 1)
	}
}
