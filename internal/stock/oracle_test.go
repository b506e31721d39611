package stock

import (
	"errors"
	"math"
	"testing"
)

func TestAvailableToReserve(t *testing.T) {
	tests := []struct {
		name  string
		level Level
		held  int
		want  int
	}{
		{"nothing reserved", Level{OnHand: 10}, 0, 10},
		{"partly reserved by others", Level{OnHand: 10, Reserved: 6}, 0, 4},
		{"fully reserved by this line", Level{OnHand: 10, Reserved: 10}, 10, 10},
		{"this line holds part", Level{OnHand: 10, Reserved: 8}, 3, 5},
		{"over-reserved reads as zero", Level{OnHand: 2, Reserved: 5}, 0, 0},
		{"negative held ignored", Level{OnHand: 3}, -2, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := AvailableToReserve(tt.level, tt.held); got != tt.want {
				t.Fatalf("AvailableToReserve = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestCheckNewLineRejectsOverAsk(t *testing.T) {
	err := CheckNewLine("p1", "Rice 5kg", Level{OnHand: 10}, 12)
	var le *LimitError
	if !errors.As(err, &le) {
		t.Fatalf("want *LimitError, got %v", err)
	}
	if le.Available != 10 || le.Requested != 12 {
		t.Fatalf("unexpected detail %+v", le)
	}
	if !errors.Is(err, ErrLimit) {
		t.Fatal("LimitError should match ErrLimit")
	}
	if want := "Stock limit reached for Rice 5kg. Only 10 units available."; err.Error() != want {
		t.Fatalf("message = %q, want %q", err.Error(), want)
	}
}

func TestCheckNewLineOutOfStock(t *testing.T) {
	err := CheckNewLine("p1", "Sugar", Level{OnHand: 4, Reserved: 4}, 1)
	if err == nil || err.Error() != "Sugar is out of stock." {
		t.Fatalf("got %v", err)
	}
}

func TestCheckReserveAddsBackHeldUnits(t *testing.T) {
	// draft holds all 5 units; bumping 5 -> 5 must pass, 5 -> 6 must not
	l := Level{OnHand: 5, Reserved: 5}
	if err := CheckReserve("p", "Tea", l, 5, 5); err != nil {
		t.Fatalf("unexpected %v", err)
	}
	if err := CheckReserve("p", "Tea", l, 5, 6); err == nil {
		t.Fatal("expected limit error")
	}
}

func TestCheckFinalize(t *testing.T) {
	if err := CheckFinalize("p", "Oil", Level{OnHand: 10, Reserved: 4}, 4); err != nil {
		t.Fatalf("unexpected %v", err)
	}
	// stock shrank under the reservation
	if err := CheckFinalize("p", "Oil", Level{OnHand: 3, Reserved: 4}, 4); err == nil {
		t.Fatal("expected error when on-hand fell below the line")
	}
}

func TestCheckReserveRejectsQuantityBelowOne(t *testing.T) {
	l := Level{OnHand: 10}
	for _, want := range []int{0, -1, math.MinInt} {
		err := CheckReserve("p", "Tea", l, 0, want)
		if !errors.Is(err, ErrQuantity) {
			t.Errorf("want=%d: err = %v, want ErrQuantity", want, err)
		}
		if errors.Is(err, ErrLimit) {
			t.Errorf("want=%d: reported as a stock limit", want)
		}
	}
	if err := CheckNewLine("p", "Tea", l, 0); !errors.Is(err, ErrQuantity) {
		t.Errorf("new line with 0 units: err = %v", err)
	}
}
