// Package billno mints human-readable bill numbers of the form
// {prefix}{MM}{DD}{seq:04d}.
package billno

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"
)

const DefaultAttempts = 3

var (
	// ErrDuplicate is returned by a store when the number is already taken.
	ErrDuplicate = errors.New("bill number already exists")
	// ErrExhausted is terminal: every attempt collided.
	ErrExhausted = errors.New("could not allocate bill number")
)

// Source reads the highest bill number already issued under a stem.
// It returns "" when there is none.
type Source interface {
	LatestBillNumber(ctx context.Context, businessID, stem string) (string, error)
}

type Generator struct {
	Source   Source
	Attempts int
	Now      func() time.Time
	// OnRetry is called after each collision, before the next attempt.
	OnRetry func(businessID, billNo string)
}

// Prefix picks the user's collector code when one is assigned, hyphen
// suffixed, else the business-wide prefix.
func Prefix(businessPrefix, collectorCode string) string {
	code := strings.TrimSpace(collectorCode)
	if code == "" {
		return strings.TrimSpace(businessPrefix)
	}
	if !strings.HasSuffix(code, "-") {
		code += "-"
	}
	return code
}

func Stem(prefix string, day time.Time) string {
	return fmt.Sprintf("%s%02d%02d", prefix, int(day.Month()), day.Day())
}

func Format(stem string, seq int) string {
	return fmt.Sprintf("%s%04d", stem, seq)
}

// ParseSequence extracts the numeric suffix of billNo under stem.
func ParseSequence(stem, billNo string) (int, bool) {
	if !strings.HasPrefix(billNo, stem) {
		return 0, false
	}
	tail := billNo[len(stem):]
	if tail == "" {
		return 0, false
	}
	n, err := strconv.Atoi(tail)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

func (g *Generator) now() time.Time {
	if g.Now != nil {
		return g.Now()
	}
	return time.Now()
}

func (g *Generator) attempts() int {
	if g.Attempts > 0 {
		return g.Attempts
	}
	return DefaultAttempts
}

// Next proposes a number: highest existing sequence for today's stem plus
// 1 + retry.
func (g *Generator) Next(ctx context.Context, businessID, prefix string, retry int) (string, error) {
	stem := Stem(prefix, g.now())
	latest, err := g.Source.LatestBillNumber(ctx, businessID, stem)
	if err != nil {
		return "", fmt.Errorf("read latest bill number: %w", err)
	}
	seq := 0
	if latest != "" {
		if n, ok := ParseSequence(stem, latest); ok {
			seq = n
		}
	}
	return Format(stem, seq+1+retry), nil
}

// Allocate proposes numbers and hands each to insert until one is accepted.
// Only ErrDuplicate from insert triggers another attempt; the read-then-insert
// window is not locked, the bounded retry is what covers it.
func (g *Generator) Allocate(ctx context.Context, businessID, prefix string, insert func(billNo string) error) (string, error) {
	n := g.attempts()
	for retry := 0; retry < n; retry++ {
		billNo, err := g.Next(ctx, businessID, prefix, retry)
		if err != nil {
			return "", err
		}
		err = insert(billNo)
		if err == nil {
			return billNo, nil
		}
		if !errors.Is(err, ErrDuplicate) {
			return "", err
		}
		log.Printf("[billno] collision on %s (attempt %d/%d)", billNo, retry+1, n)
		if g.OnRetry != nil {
			g.OnRetry(businessID, billNo)
		}
	}
	return "", fmt.Errorf("%w after %d attempts", ErrExhausted, n)
}
