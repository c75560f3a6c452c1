package feed

import (
	"encoding/json"
	"fmt"

	"github.com/brojonat/memofeed/service/solana"
	"github.com/itchyny/gojq"
)

// CompileJQ compiles jq filters into a memo predicate. A memo matches when
// its content is valid JSON and every filter yields a truthy first result.
// No filters yields a nil predicate.
func CompileJQ(filters []string) (func(solana.Memo) bool, error) {
	if len(filters) == 0 {
		return nil, nil
	}

	codes := make([]*gojq.Code, len(filters))
	for i, filter := range filters {
		query, err := gojq.Parse(filter)
		if err != nil {
			return nil, fmt.Errorf("failed to parse jq filter %q: %w", filter, err)
		}
		codes[i], err = gojq.Compile(query)
		if err != nil {
			return nil, fmt.Errorf("failed to compile jq filter %q: %w", filter, err)
		}
	}

	return func(m solana.Memo) bool {
		var doc interface{}
		if err := json.Unmarshal([]byte(m.Content), &doc); err != nil {
			return false
		}
		for _, code := range codes {
			v, ok := code.Run(doc).Next()
			if !ok {
				return false
			}
			if _, isErr := v.(error); isErr {
				return false
			}
			if !isTruthy(v) {
				return false
			}
		}
		return true
	}, nil
}

// isTruthy applies jq truthiness: only false and null are falsy.
func isTruthy(v interface{}) bool {
	if v == nil {
		return false
	}
	if b, ok := v.(bool); ok {
		return b
	}
	return true
}
