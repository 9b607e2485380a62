package mysql

import (
    "encoding/json"
    "strings"
)

// stringOrDash returns "-" when the input is empty/whitespace
func stringOrDash(s string) string {
    if strings.TrimSpace(s) == "" {
        return "-"
    }
    return s
}

// jsonOrWrapped returns s when it is valid JSON, {} when empty, and otherwise
// wraps it as {"raw": s} so the JSON column always accepts it.
func jsonOrWrapped(s string) string {
    if strings.TrimSpace(s) == "" {
        return "{}"
    }
    var js any
    if json.Unmarshal([]byte(s), &js) != nil {
        b, _ := json.Marshal(map[string]string{"raw": s})
        return string(b)
    }
    return s
}
