package terminal

import (
	"fmt"
	"strconv"
	"strings"
)

// parseCents reads a positive dollar amount with at most two decimals.
func parseCents(s string) (int64, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "$")
	whole, frac, _ := strings.Cut(s, ".")
	if whole == "" {
		whole = "0"
	}
	if len(frac) > 2 {
		return 0, fmt.Errorf("amount %q has more than two decimals", s)
	}
	for len(frac) < 2 {
		frac += "0"
	}
	d, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("amount %q: %w", s, err)
	}
	c, err := strconv.ParseInt(frac, 10, 64)
	if err != nil || d < 0 || c < 0 {
		return 0, fmt.Errorf("amount %q is not a price", s)
	}
	cents := d*100 + c
	if cents <= 0 {
		return 0, fmt.Errorf("amount %q must be positive", s)
	}
	return cents, nil
}

// parseExpiry reads MM/YY or MM/YYYY.
func parseExpiry(s string) (int, int, error) {
	m, y, ok := strings.Cut(s, "/")
	if !ok {
		return 0, 0, fmt.Errorf("expiry %q: want MM/YY", s)
	}
	month, err := strconv.Atoi(m)
	if err != nil {
		return 0, 0, fmt.Errorf("expiry month %q: %w", m, err)
	}
	year, err := strconv.Atoi(y)
	if err != nil {
		return 0, 0, fmt.Errorf("expiry year %q: %w", y, err)
	}
	if len(y) == 2 {
		year += 2000
	}
	return month, year, nil
}

func last4(number string) string {
	var digits []byte
	for i := 0; i < len(number); i++ {
		if number[i] >= '0' && number[i] <= '9' {
			digits = append(digits, number[i])
		}
	}
	if len(digits) <= 4 {
		return string(digits)
	}
	return string(digits[len(digits)-4:])
}
