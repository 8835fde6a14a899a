package wire

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ParseInt decodes a decimal integer token.
func ParseInt(token string) (int, error) {
	v, err := strconv.Atoi(strings.TrimSpace(token))
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not an integer", ErrMalformedToken, token)
	}
	return v, nil
}

// ParseFloat decodes a decimal float token.
func ParseFloat(token string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(token), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%w: %q is not a number", ErrMalformedToken, token)
	}
	return v, nil
}

// ParseGene decodes one gene. Integral floats such as "12.0" are accepted
// because some optimizers serialize genes as doubles.
func ParseGene(token string) (int, error) {
	if v, err := ParseInt(token); err == nil {
		return v, nil
	}
	f, err := ParseFloat(token)
	if err != nil {
		return 0, err
	}
	if f != math.Trunc(f) || f > math.MaxInt32 || f < math.MinInt32 {
		return 0, fmt.Errorf("%w: gene %q is not integral", ErrMalformedToken, token)
	}
	return int(f), nil
}

// FormatFloat renders a float in its shortest decimal form.
func FormatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
