package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type Getter interface {
	GetContext(ctx context.Context, dest any, query string, args ...any) error
}

type Selecter interface {
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
}

type DB interface {
	Execer
	Getter
	Selecter
}

// Tx is what a unit of work hands to the stores. *sqlx.Tx satisfies it.
type Tx interface {
	Execer
	Getter
	Selecter
}

const (
	DefaultLimit = 20
	MaxLimit     = 100
)

// Page is a limit/offset window over a list query.
type Page struct {
	Limit  int
	Offset int
}

// NewPage converts a 1-based page number into an offset window.
func NewPage(page, limit int) Page {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	if page <= 0 {
		page = 1
	}
	return Page{Limit: limit, Offset: (page - 1) * limit}
}

func (p Page) normalized() Page {
	if p.Limit <= 0 || p.Limit > MaxLimit {
		p.Limit = DefaultLimit
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

// filterBuilder numbers positional parameters as clauses are added. Every ?
// in a clause refers to that clause's single argument.
type filterBuilder struct {
	clauses []string
	args    []any
}

func (b *filterBuilder) add(clause string, arg any) {
	b.args = append(b.args, arg)
	b.clauses = append(b.clauses, strings.ReplaceAll(clause, "?", "$"+itoa(len(b.args))))
}

func (b *filterBuilder) where() string {
	if len(b.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(b.clauses, " AND ")
}

func (b *filterBuilder) page(p Page) string {
	p = p.normalized()
	b.args = append(b.args, p.Limit, p.Offset)
	n := len(b.args)
	return " LIMIT $" + itoa(n-1) + " OFFSET $" + itoa(n)
}

func itoa(value int) string {
	return fmt.Sprintf("%d", value)
}
