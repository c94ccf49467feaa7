package scraper

import (
	"net/url"
	"sort"
)

// missingParam marks a query parameter absent on one side of a diff.
const missingParam = "-"

// ParamDiff is one query parameter whose value differs between two URLs.
type ParamDiff struct {
	Key string `json:"key"`
	Old string `json:"old"`
	New string `json:"new"`
}

// DiffQuery compares the query parameters of two URLs. Only the first value
// of repeated parameters is compared. Unparseable URLs compare as having no
// parameters. The result is sorted by key.
func DiffQuery(oldURL, newURL string) []ParamDiff {
	oldParams := queryOf(oldURL)
	newParams := queryOf(newURL)

	keys := make(map[string]struct{}, len(oldParams)+len(newParams))
	for k := range oldParams {
		keys[k] = struct{}{}
	}
	for k := range newParams {
		keys[k] = struct{}{}
	}

	var diffs []ParamDiff
	for k := range keys {
		o := firstOr(oldParams, k)
		n := firstOr(newParams, k)
		if o != n {
			diffs = append(diffs, ParamDiff{Key: k, Old: o, New: n})
		}
	}

	sort.Slice(diffs, func(i, j int) bool { return diffs[i].Key < diffs[j].Key })
	return diffs
}

func queryOf(rawURL string) url.Values {
	u, err := url.Parse(rawURL)
	if err != nil {
		return url.Values{}
	}
	return u.Query()
}

func firstOr(v url.Values, key string) string {
	vals, ok := v[key]
	if !ok || len(vals) == 0 {
		return missingParam
	}
	return vals[0]
}
