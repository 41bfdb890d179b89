package ioc

import (
	"net/netip"
	"net/url"
	"regexp"
	"strings"
)

// Type is the kind of indicator being investigated.
type Type string

const (
	TypeIP     Type = "IP"
	TypeDomain Type = "Domain"
	TypeURL    Type = "URL"
	TypeHash   Type = "Hash"
)

// Types lists every known IOC type in detection-independent order.
var Types = []Type{TypeIP, TypeDomain, TypeURL, TypeHash}

// ParseType maps a user supplied type hint to a Type, ignoring case.
func ParseType(s string) (Type, bool) {
	s = strings.TrimSpace(s)
	for _, t := range Types {
		if strings.EqualFold(s, string(t)) {
			return t, true
		}
	}
	return "", false
}

// Ptr returns a pointer to t, for optional fields.
func (t Type) Ptr() *Type { return &t }

// IOC is an immutable indicator value and its detected type.
type IOC struct {
	Value string `json:"value"`
	Type  *Type  `json:"type"`
}

// New trims raw and runs detection on it. Value is the form providers are
// queried with (see Canonical).
func New(raw string) IOC {
	d := Detect(raw)
	return IOC{Value: Canonical(raw, d.Type), Type: d.Type}
}

// Canonical returns the trimmed value in the shape providers expect for t.
// A bracketed IPv6 literal loses its brackets; everything else is unchanged.
func Canonical(raw string, t *Type) string {
	v := strings.TrimSpace(raw)
	if t != nil && *t == TypeIP {
		if inner, ok := unbracket(v); ok {
			return inner
		}
	}
	return v
}

// Detection is the outcome of Detect. Type is nil when nothing matched.
type Detection struct {
	Type *Type `json:"type"`
}

// Validation reports whether a user asserted type agrees with detection.
type Validation struct {
	Matches      bool  `json:"matches"`
	DetectedType *Type `json:"detectedType"`
	AssertedType Type  `json:"assertedType"`
}

var (
	hexRe   = regexp.MustCompile(`^[A-Fa-f0-9]+$`)
	labelRe = regexp.MustCompile(`^[A-Za-z0-9]([A-Za-z0-9-]{0,61}[A-Za-z0-9])?$`)
	tldRe   = regexp.MustCompile(`^[A-Za-z]{2,63}$`)

	urlSchemes = map[string]bool{"http": true, "https": true, "ftp": true, "hxxp": true, "hxxps": true}
)

// Detect classifies raw. Tests run in a fixed order: hash, URL, IP, domain.
// The first match wins.
func Detect(raw string) Detection {
	v := strings.TrimSpace(raw)
	if v == "" {
		return Detection{}
	}
	switch {
	case isHash(v):
		return Detection{Type: TypeHash.Ptr()}
	case isURL(v):
		return Detection{Type: TypeURL.Ptr()}
	case isIP(v):
		return Detection{Type: TypeIP.Ptr()}
	case isDomain(v):
		return Detection{Type: TypeDomain.Ptr()}
	}
	return Detection{}
}

// Validate compares asserted against the detected type. A mismatch is advisory:
// callers keep using the detected type.
func Validate(raw string, asserted Type) Validation {
	d := Detect(raw)
	return Validation{
		Matches:      d.Type != nil && *d.Type == asserted,
		DetectedType: d.Type,
		AssertedType: asserted,
	}
}

func isHash(v string) bool {
	switch len(v) {
	case 32, 40, 64, 128:
		return hexRe.MatchString(v)
	}
	return false
}

func isURL(v string) bool {
	i := strings.Index(v, "://")
	if i <= 0 || !urlSchemes[strings.ToLower(v[:i])] {
		return false
	}
	u, err := url.Parse(v)
	if err != nil {
		return false
	}
	return u.Hostname() != ""
}

func isIP(v string) bool {
	if inner, ok := unbracket(v); ok {
		v = inner
	}
	addr, err := netip.ParseAddr(v)
	if err != nil {
		return false
	}
	return addr.Zone() == ""
}

// unbracket strips one pair of enclosing brackets from an IPv6 literal.
func unbracket(v string) (string, bool) {
	if len(v) < 2 || v[0] != '[' || v[len(v)-1] != ']' {
		return v, false
	}
	inner := v[1 : len(v)-1]
	if !strings.Contains(inner, ":") {
		return v, false
	}
	return inner, true
}

func isDomain(v string) bool {
	v = strings.TrimSuffix(v, ".")
	if len(v) == 0 || len(v) > 253 {
		return false
	}
	labels := strings.Split(v, ".")
	if len(labels) < 2 {
		return false
	}
	for _, l := range labels {
		if !labelRe.MatchString(l) {
			return false
		}
	}
	return tldRe.MatchString(labels[len(labels)-1])
}
