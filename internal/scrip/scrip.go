// Package scrip implements exact fixed-point scrip arithmetic.
//
// An Amount is an integer count of milliscrip (1/1000 of one scrip).
// Balances never touch floating point; every division follows one of the
// two documented rounding rules below (DivideEvenly, MulRatio).
package scrip

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Amount is a signed count of milliscrip.
type Amount int64

// Unit is one whole scrip.
const Unit Amount = 1000

// FromUnits returns an Amount of n whole scrip.
func FromUnits(n int64) Amount { return Amount(n) * Unit }

// Parse reads a decimal scrip string ("12", "12.5", "12.500").
// At most three fractional digits are accepted.
func Parse(s string) (Amount, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty scrip amount")
	}
	neg := false
	if s[0] == '-' {
		neg = true
		s = s[1:]
	}
	whole, frac := s, ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		whole, frac = s[:i], s[i+1:]
	}
	// Both parts must be bare digit runs; a sign inside the fraction or a
	// digit-free input ("-", ".") is malformed, not zero.
	if whole == "" && frac == "" {
		return 0, fmt.Errorf("bad scrip amount %q", s)
	}
	if !isDigits(whole) || !isDigits(frac) {
		return 0, fmt.Errorf("bad scrip amount %q", s)
	}
	if whole == "" {
		whole = "0"
	}
	if len(frac) > 3 {
		return 0, fmt.Errorf("scrip precision exceeds milliscrip: %q", s)
	}
	for len(frac) < 3 {
		frac += "0"
	}
	w, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("bad scrip amount %q", s)
	}
	f, err := strconv.ParseInt(frac, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("bad scrip amount %q", s)
	}
	a := Amount(w*1000 + f)
	if neg {
		a = -a
	}
	return a, nil
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// MustParse is Parse for literals in tests and config defaults.
func MustParse(s string) Amount {
	a, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return a
}

func (a Amount) String() string {
	n := int64(a)
	sign := ""
	if n < 0 {
		sign = "-"
		n = -n
	}
	return fmt.Sprintf("%s%d.%03d", sign, n/1000, n%1000)
}

// DivideEvenly splits total across the given recipient ids.
//
// Rounding rule: floor division; the remainder (always < len(ids)
// milliscrip) is assigned one milliscrip at a time to recipients in
// ascending id order. The returned shares always sum to exactly total.
func DivideEvenly(total Amount, ids []string) map[string]Amount {
	out := make(map[string]Amount, len(ids))
	if len(ids) == 0 || total <= 0 {
		return out
	}
	n := Amount(len(ids))
	per := total / n
	rem := total % n
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)
	for i, id := range sorted {
		share := per
		if Amount(i) < rem {
			share++
		}
		out[id] = share
	}
	return out
}

// MulRatio returns a*num/den rounded half-up in milliscrip.
// den must be positive.
func MulRatio(a Amount, num, den int64) Amount {
	if den <= 0 {
		panic("scrip: non-positive denominator")
	}
	v := int64(a) * num
	if v >= 0 {
		return Amount((v + den/2) / den)
	}
	return Amount(-((-v + den/2) / den))
}
