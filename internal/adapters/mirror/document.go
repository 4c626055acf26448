package mirror

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/zatekoja/onesystem-clinic/internal/domain/entities"
)

const (
	createdAtField = "created_at"
	ordSuffix      = "_ord"
)

var dayPattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// dayOrdinal turns "2024-06-01" into 20240601
func dayOrdinal(day string) (int64, bool) {
	if !dayPattern.MatchString(day) {
		return 0, false
	}
	n, err := strconv.ParseInt(strings.ReplaceAll(day, "-", ""), 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// prepare copies doc for indexing: it sets id, adds a sortable ordinal next to
// every YYYY-MM-DD field and keeps created_at from the previous version.
func prepare(id string, doc entities.MirrorDocument, previous entities.MirrorDocument, nowMillis int64) map[string]interface{} {
	out := make(map[string]interface{}, len(doc)+2)
	for k, v := range doc {
		if strings.HasSuffix(k, ordSuffix) {
			continue
		}
		out[k] = v
		if s, ok := v.(string); ok {
			if n, ok := dayOrdinal(s); ok {
				out[k+ordSuffix] = n
			}
		}
	}
	out["id"] = id

	switch {
	case previous != nil && previous[createdAtField] != nil:
		out[createdAtField] = previous[createdAtField]
	case out[createdAtField] == nil:
		out[createdAtField] = nowMillis
	}
	return out
}

// strip removes the derived ordinal fields before returning a document
func strip(doc map[string]interface{}) entities.MirrorDocument {
	out := make(entities.MirrorDocument, len(doc))
	for k, v := range doc {
		if strings.HasSuffix(k, ordSuffix) {
			if _, ok := doc[strings.TrimSuffix(k, ordSuffix)]; ok {
				continue
			}
		}
		out[k] = v
	}
	return out
}

func validCollection(name string) bool {
	for _, c := range entities.MirrorCollections {
		if c == name {
			return true
		}
	}
	return false
}
