package extract

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/raphaelgruber/lorekeeper/internal/models"
)

// maxObjectScans bounds how many opening braces the embedded-object search tries.
const maxObjectScans = 64

var fencedJSON = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")

// ParseResponse recovers the entity object from a model reply. It tries the
// whole reply, then the first fenced block, then balanced {...} objects with
// a known entity key, starting from at most maxObjectScans braces. Returns
// false when nothing usable is found.
func ParseResponse(response string) (map[string]any, bool) {
	response = strings.TrimSpace(response)
	if obj, ok := decodeObject(response); ok {
		return obj, true
	}

	if m := fencedJSON.FindStringSubmatch(response); m != nil {
		if obj, ok := decodeObject(m[1]); ok {
			return obj, true
		}
	}

	for i, tries := 0, 0; i < len(response) && tries < maxObjectScans; i++ {
		if response[i] != '{' {
			continue
		}
		tries++
		end := matchingBrace(response, i)
		if end < 0 {
			continue
		}
		if obj, ok := decodeObject(response[i : end+1]); ok && hasEntityKey(obj) {
			return obj, true
		}
	}
	return nil, false
}

func decodeObject(s string) (map[string]any, bool) {
	var obj map[string]any
	if err := json.Unmarshal([]byte(s), &obj); err != nil || obj == nil {
		return nil, false
	}
	return obj, true
}

func hasEntityKey(obj map[string]any) bool {
	for k := range obj {
		if _, err := models.ParseEntityType(k); err == nil {
			return true
		}
	}
	return false
}

// matchingBrace returns the index of the brace closing the one at open, or -1.
// Braces inside JSON strings are ignored.
func matchingBrace(s string, open int) int {
	depth := 0
	inString, escaped := false, false
	for i := open; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}
