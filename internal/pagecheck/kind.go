package pagecheck

import (
	"fmt"
	"strings"

	"github.com/itswale/api-utils/internal/apperr"
)

// Kind names one independent check that can be run against a loaded page.
type Kind string

const (
	KindTitle         Kind = "title"
	KindStatus        Kind = "status"
	KindHeader        Kind = "header"
	KindFooter        Kind = "footer"
	KindLinks         Kind = "links"
	KindImages        Kind = "images"
	KindText          Kind = "text"
	KindLoadTime      Kind = "load_time"
	KindForms         Kind = "forms"
	KindCustom        Kind = "custom"
	KindScreenshot    Kind = "screenshot"
	KindAccessibility Kind = "accessibility"
)

// AllKinds lists every check in evaluation order.
var AllKinds = []Kind{
	KindTitle,
	KindStatus,
	KindHeader,
	KindFooter,
	KindLinks,
	KindImages,
	KindText,
	KindLoadTime,
	KindForms,
	KindCustom,
	KindScreenshot,
	KindAccessibility,
}

var kindAliases = map[string]Kind{
	"loadtime":  KindLoadTime,
	"load-time": KindLoadTime,
}

// ParseKind resolves a check name, accepting loadTime as an alias of load_time.
func ParseKind(s string) (Kind, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for _, k := range AllKinds {
		if string(k) == name {
			return k, nil
		}
	}
	if k, ok := kindAliases[name]; ok {
		return k, nil
	}
	return "", apperr.New(apperr.InvalidInput, "parse check", fmt.Errorf("unknown check %q", s))
}

// ParseKinds resolves a list of check names, dropping duplicates.
func ParseKinds(names []string) ([]Kind, error) {
	seen := make(map[Kind]bool, len(names))
	kinds := make([]Kind, 0, len(names))
	for _, n := range names {
		k, err := ParseKind(n)
		if err != nil {
			return nil, err
		}
		if seen[k] {
			continue
		}
		seen[k] = true
		kinds = append(kinds, k)
	}
	return kinds, nil
}

// Label is the capitalised display name of the check.
func (k Kind) Label() string {
	s := strings.ReplaceAll(string(k), "_", " ")
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
