package limits

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"tally/internal/coord"
)

// ErrInvalidCategory reports a category that cannot name a limit node.
var ErrInvalidCategory = errors.New("invalid category")

// Path returns the node holding category's limit under root.
func Path(root, category string) (string, error) {
	if category == "" || strings.ContainsAny(category, "/\x00") {
		return "", fmt.Errorf("%w: %q", ErrInvalidCategory, category)
	}
	path := coord.Join(root, "limit_"+category)
	if err := coord.ValidatePath(path); err != nil {
		return "", err
	}
	return path, nil
}

// EncodeLimit renders a limit as decimal text.
func EncodeLimit(limit int64) []byte {
	return []byte(strconv.FormatInt(limit, 10))
}

// DecodeLimit parses stored limit text. blank is true for empty or
// whitespace-only data, which means no limit was ever written.
func DecodeLimit(data []byte) (limit int64, blank bool, err error) {
	text := strings.TrimSpace(string(data))
	if text == "" {
		return 0, true, nil
	}
	limit, err = strconv.ParseInt(text, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("invalid limit %q: %w", text, err)
	}
	return limit, false, nil
}

// ReadLimit reads category's stored limit without watching it. found is
// false when the node is absent or blank.
func ReadLimit(ctx context.Context, client coord.Client, root, category string) (limit int64, found bool, err error) {
	path, err := Path(root, category)
	if err != nil {
		return 0, false, err
	}
	data, _, err := client.Get(ctx, path)
	if errors.Is(err, coord.ErrNoNode) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	limit, blank, err := DecodeLimit(data)
	if err != nil || blank {
		return 0, false, err
	}
	return limit, true, nil
}
