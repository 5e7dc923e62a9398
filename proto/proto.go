package proto

// Wire contract of the time server.
// A request is whatever a single read returns, there is no framing or terminator.

import (
	"strings"
	"time"
)

const (
	// QueryTimeOrder is the only request the server understands.
	QueryTimeOrder = "QUERY TIME ORDER"
	// BadOrder is sent back for everything else.
	BadOrder = "BAD ORDER"
)

// TimeLayout renders like "Sun Oct 18 09:41:07 CST 2026".
const TimeLayout = "Mon Jan 02 15:04:05 MST 2006"

type OrderType uint8

const (
	OrderBad OrderType = iota
	OrderQueryTime
)

func (o OrderType) String() string {
	switch o {
	case OrderQueryTime:
		return "query_time"
	default:
		return "bad"
	}
}

// ParseOrder classifies a request body. Surrounding whitespace, including
// the newline most line oriented clients append, is ignored and the match
// is case-insensitive.
func ParseOrder(body []byte) OrderType {
	if strings.EqualFold(strings.TrimSpace(string(body)), QueryTimeOrder) {
		return OrderQueryTime
	}
	return OrderBad
}

// Respond returns the response for body, rendering now in its own location.
func Respond(body []byte, now time.Time) (OrderType, []byte) {
	order := ParseOrder(body)
	if order == OrderQueryTime {
		return order, []byte(now.Format(TimeLayout))
	}
	return order, []byte(BadOrder)
}

// ParseTime parses a timestamp produced by Respond.
func ParseTime(s string) (time.Time, error) {
	return time.Parse(TimeLayout, strings.TrimSpace(s))
}
