package session

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	ErrUnknownKind    = errors.New("unknown entry kind")
	ErrUnknownResult  = errors.New("unknown exit result")
	ErrUnknownCommand = errors.New("unknown command")
)

// EntryKind labels a trade entry. It is descriptive only and never changes
// how the trade is priced or scored.
type EntryKind int

const (
	Long EntryKind = iota
	Short
	BreakoutChase
)

func (k EntryKind) String() string {
	switch k {
	case Long:
		return "long"
	case Short:
		return "short"
	case BreakoutChase:
		return "breakout"
	default:
		return "unknown"
	}
}

func (k EntryKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// ParseEntryKind maps "long", "short" and "breakout" to an EntryKind.
func ParseEntryKind(s string) (EntryKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "long":
		return Long, nil
	case "short":
		return Short, nil
	case "breakout":
		return BreakoutChase, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

// ExitResult is the trader's own label for an exit.
type ExitResult int

const (
	Profit ExitResult = iota
	Loss
	Breakeven
)

func (r ExitResult) String() string {
	switch r {
	case Profit:
		return "profit"
	case Loss:
		return "loss"
	case Breakeven:
		return "breakeven"
	default:
		return "unknown"
	}
}

func (r ExitResult) MarshalText() ([]byte, error) { return []byte(r.String()), nil }

// ParseExitResult maps "profit", "loss" and "breakeven" to an ExitResult.
func ParseExitResult(s string) (ExitResult, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "profit":
		return Profit, nil
	case "loss":
		return Loss, nil
	case "breakeven":
		return Breakeven, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownResult, s)
}

// PriceMove returns +1 if exit is above entry, -1 if below and 0 if equal.
func PriceMove(entry, exit decimal.Decimal) int {
	return exit.Cmp(entry)
}

// ScoreDelta is the score change for closing a trade opened at entry and
// closed at exit. Breakeven exits never score; otherwise the sign of the
// price move decides, whatever the label says.
func ScoreDelta(entry, exit decimal.Decimal, result ExitResult) int {
	if result == Breakeven {
		return 0
	}
	return PriceMove(entry, exit)
}
