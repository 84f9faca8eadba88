// Package joiner merges the DB and API record sets on normalized join keys,
// prefixing every column by source so collisions are impossible.
package joiner

import (
	"fmt"
	"strings"
	"time"

	"github.com/kmehring/go-dbapi-compare/config"
	"github.com/kmehring/go-dbapi-compare/models"
)

// ErrKeyMissing reports a join key absent from its record set, detected
// before any row comparison.
type ErrKeyMissing struct {
	Side string // "db" or "api"
	Key  string
}

func (e ErrKeyMissing) Error() string {
	return fmt.Sprintf("%s join key %q not found", e.Side, e.Key)
}

// Join merges db and api according to cfg. Both inputs are left untouched;
// the result carries all db columns (prefixed) followed by all api columns
// (prefixed), with unmatched cells null-filled per join mode.
func Join(db, api *models.RecordSet, cfg config.JoinConfig) (*models.RecordSet, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if !db.HasColumn(cfg.DBKey) {
		return nil, ErrKeyMissing{Side: "db", Key: cfg.DBKey}
	}
	if !api.HasColumn(cfg.APIKey) {
		return nil, ErrKeyMissing{Side: "api", Key: cfg.APIKey}
	}

	left := db.Prefix(cfg.DBPrefix)
	right := api.Prefix(cfg.APIPrefix)

	leftKeys := normalizedKeys(db, cfg.DBKey)
	rightKeys := normalizedKeys(api, cfg.APIKey)

	// Index of right rows by key, preserving insertion order per key.
	rightByKey := make(map[string][]int, len(rightKeys))
	for i, k := range rightKeys {
		rightByKey[k] = append(rightByKey[k], i)
	}

	out := models.NewRecordSet(append(append([]string(nil), left.Columns...), right.Columns...)...)
	nLeft := len(left.Columns)
	nRight := len(right.Columns)

	emit := func(li, ri int) {
		row := make([]any, nLeft+nRight)
		if li >= 0 {
			copy(row[:nLeft], left.Rows[li])
		}
		if ri >= 0 {
			copy(row[nLeft:], right.Rows[ri])
		}
		// The normalized key form is what matched, so both key cells show it.
		if li >= 0 {
			row[out.ColumnIndex(cfg.DBPrefix+cfg.DBKey)] = leftKeys[li]
		}
		if ri >= 0 {
			row[out.ColumnIndex(cfg.APIPrefix+cfg.APIKey)] = rightKeys[ri]
		}
		out.Rows = append(out.Rows, row)
	}

	matchedRight := make([]bool, api.Len())
	for li, key := range leftKeys {
		matches := rightByKey[key]
		if len(matches) == 0 {
			if cfg.How == "left" || cfg.How == "outer" {
				emit(li, -1)
			}
			continue
		}
		for _, ri := range matches {
			matchedRight[ri] = true
			emit(li, ri)
		}
	}
	if cfg.How == "right" || cfg.How == "outer" {
		for ri, matched := range matchedRight {
			if !matched {
				emit(-1, ri)
			}
		}
	}
	return out, nil
}

// normalizedKeys renders the key column as trimmed strings so keys read from
// different sources can match regardless of their native type.
func normalizedKeys(rs *models.RecordSet, key string) []string {
	idx := rs.ColumnIndex(key)
	out := make([]string, rs.Len())
	for i, row := range rs.Rows {
		out[i] = NormalizeKey(row[idx])
	}
	return out
}

// NormalizeKey converts one key cell to its canonical string form.
func NormalizeKey(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case []byte:
		return fmt.Sprintf("%x", t)
	case time.Time:
		return t.Format(time.RFC3339)
	case float64:
		// Integral floats render without the trailing ".0" so numeric DB
		// keys match JSON-decoded API numbers.
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return strings.TrimSpace(fmt.Sprint(t))
	default:
		return strings.TrimSpace(fmt.Sprint(t))
	}
}
