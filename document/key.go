package document

import "strings"

// RefPrefix marks a string value as a composite key rather than data.
const RefPrefix = "id_"

// Key builds the composite key id_<objectType>_<objectId>.
func Key(objectType, objectID string) string {
	return RefPrefix + objectType + "_" + objectID
}

// IsRef reports whether v is a reference marker.
func IsRef(v any) bool {
	s, ok := v.(string)
	return ok && strings.HasPrefix(s, RefPrefix)
}

// SplitKey splits a composite key into objectType and objectId.
// Object types never contain '_', so the first separator after the prefix
// ends the type.
func SplitKey(key string) (objectType, objectID string, ok bool) {
	rest, found := strings.CutPrefix(key, RefPrefix)
	if !found {
		return "", "", false
	}
	objectType, objectID, ok = strings.Cut(rest, "_")
	if !ok || objectType == "" || objectID == "" {
		return "", "", false
	}
	return objectType, objectID, true
}
