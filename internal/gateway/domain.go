package gateway

import (
	"strings"
)

// NormalizeDomain выделяет имя хоста из строки: отбрасывает схему, учётные данные,
// порт, путь, параметры запроса и фрагмент. localhost возвращается как есть.
func NormalizeDomain(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "localhost" {
		return s
	}

	if i := strings.Index(s, "://"); i >= 0 {
		s = s[i+3:]
	} else {
		s = strings.TrimPrefix(s, "//")
	}

	if i := strings.IndexAny(s, "/?#"); i >= 0 {
		s = s[:i]
	}

	if i := strings.LastIndex(s, "@"); i >= 0 {
		s = s[i+1:]
	}

	if strings.HasPrefix(s, "[") {
		if i := strings.Index(s, "]"); i >= 0 {
			s = s[1:i]
		}
	} else if i := strings.Index(s, ":"); i >= 0 {
		s = s[:i]
	}

	return strings.TrimSuffix(strings.ToLower(s), ".")
}
