package storage

import (
	"encoding/json"
	"errors"
	"fmt"

	"finpath-insight/internal/market"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

// Each data type lives in its own table; every table has the same columns.
var cacheTables = map[market.DataType]string{
	market.StockPrice:   "market_stock_prices",
	market.Fundamentals: "market_fundamentals",
	market.History:      "market_price_history",
	market.News:         "market_news",
	market.Indices:      "market_indices",
}

func tableFor(dt market.DataType) (string, error) {
	table, ok := cacheTables[dt]
	if !ok {
		return "", fmt.Errorf("no cache table for data type %q", dt)
	}
	return table, nil
}

// Error is a cache read or write failure against the underlying store.
type Error struct {
	Op       string
	DataType market.DataType
	Key      string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("storage: %s %s/%s: %v", e.Op, e.DataType, e.Key, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func wrapErr(op string, dt market.DataType, key string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, DataType: dt, Key: key, Err: err}
}

func encodePayload(f market.Fields) ([]byte, error) {
	if f == nil {
		f = market.Fields{}
	}
	raw, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return raw, nil
}

func decodePayload(raw []byte) (market.Fields, error) {
	fields := market.Fields{}
	if len(raw) == 0 {
		return fields, nil
	}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return fields, nil
}
