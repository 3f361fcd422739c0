package handlers

import (
	"errors"
	"net/url"
	"strconv"
	"strings"
	"time"

	"propledger/internal/models"
	"propledger/internal/money"
	"propledger/internal/store"

	"github.com/shopspring/decimal"
)

var (
	errInvalidAmount  = errors.New("invalid amount")
	errInvalidPercent = errors.New("invalid percentage")
	errInvalidIndex   = errors.New("invalid milestone index")
	errInvalidTime    = errors.New("invalid time")
)

// parseAmountMinor accepts a major-unit decimal string such as "1500.50".
func parseAmountMinor(raw string) (int64, error) {
	amount, err := money.ParsePositiveMinor(raw)
	if err != nil {
		return 0, errInvalidAmount
	}
	return amount, nil
}

func parsePercent(raw string) (decimal.Decimal, error) {
	if strings.TrimSpace(raw) == "" {
		return decimal.Zero, nil
	}
	pct, err := money.ParsePercent(raw)
	if err != nil {
		return decimal.Zero, errInvalidPercent
	}
	return pct, nil
}

func parseIndex(raw string) (int, error) {
	index, err := strconv.Atoi(raw)
	if err != nil || index < 0 {
		return 0, errInvalidIndex
	}
	return index, nil
}

// parseTransactionFilter reads status, type, from and to (RFC 3339) and the page.
func parseTransactionFilter(query url.Values, page store.Page) (store.TransactionFilter, error) {
	get := func(key string) string { return strings.TrimSpace(query.Get(key)) }
	filter := store.TransactionFilter{Page: page}
	if raw := get("status"); raw != "" {
		filter.Status = models.TransactionStatus(strings.ToUpper(raw))
		if !filter.Status.Valid() {
			return filter, errors.New("invalid status")
		}
	}
	if raw := get("type"); raw != "" {
		filter.Type = models.TransactionType(strings.ToUpper(raw))
		if !filter.Type.Valid() {
			return filter, errors.New("invalid type")
		}
	}
	for key, dest := range map[string]**time.Time{"from": &filter.From, "to": &filter.To} {
		raw := get(key)
		if raw == "" {
			continue
		}
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, errInvalidTime
		}
		*dest = &parsed
	}
	return filter, nil
}
