package envutil

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

func String(name string, def string) string {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def
	}
	return v
}

// ParseInt returns def when name is unset and an error when it is set to
// something that is not an integer.
func ParseInt(name string, def int) (int, error) {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def, &ParseError{Name: name, Value: v}
	}
	return i, nil
}

// ParseError names the variable whose value could not be parsed.
type ParseError struct {
	Name  string
	Value string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s=%q is not an integer", e.Name, e.Value)
}

func Bool(name string, def bool) bool {
	v := strings.TrimSpace(strings.ToLower(os.Getenv(name)))
	switch v {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return def
	}
}
