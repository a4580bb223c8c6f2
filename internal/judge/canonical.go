package judge

import (
	"encoding/json"
	"fmt"
)

// Encode renders a value in the canonical textual form used for judging
// equality: JSON with deterministic (sorted) object keys. Two results are
// equal iff their encodings are character-identical. Values with no JSON
// form (NaN, infinities) fail to encode and therefore never compare equal.
func Encode(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("canonical encode: %w", err)
	}
	return string(b), nil
}
