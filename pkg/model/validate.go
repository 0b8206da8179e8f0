package model

import (
	"fmt"
	"net/netip"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/net/idna"
	"k8s.io/apimachinery/pkg/util/validation"
)

var (
	ipv4Pattern   = regexp.MustCompile(`^(\d{1,3}\.){3}\d{1,3}$`)
	domainPattern = regexp.MustCompile(`^(?:[a-zA-Z0-9](?:[a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?\.)+[a-zA-Z]{2,}$`)
)

// ValidateContent checks that content has the right shape for recordType. It returns nil or a
// *ValidationError and never panics.
func ValidateContent(recordType, content string) error {
	rt := NormalizeType(recordType)
	if err := IsValidRecordType(rt); err != nil {
		return err
	}

	switch rt {
	case RecordTypeA:
		if !ipv4Pattern.MatchString(content) {
			return &ValidationError{Reason: "invalid IPv4 address format, example: 192.168.1.1"}
		}
		for _, octet := range strings.Split(content, ".") {
			n, err := strconv.Atoi(octet)
			if err != nil || n < 0 || n > 255 {
				return &ValidationError{Reason: "IPv4 address octets must be between 0 and 255"}
			}
		}
	case RecordTypeAAAA:
		addr, err := netip.ParseAddr(content)
		if err != nil || !addr.Is6() || addr.Zone() != "" {
			return &ValidationError{Reason: "invalid IPv6 address format, example: 2001:db8:85a3::8a2e:370:7334"}
		}
	case RecordTypeCname, RecordTypeNS:
		if !domainPattern.MatchString(content) {
			return &ValidationError{Reason: fmt.Sprintf("invalid domain format for %s record, example: example.com", rt)}
		}
	}

	return nil
}

// ValidateName checks a normalized record name. Names are labels under baseDomain, so they must
// not carry the base domain themselves.
func ValidateName(name, baseDomain string) error {
	if name == "" {
		return &ValidationError{Reason: "record name must be provided"}
	}

	if errs := validation.IsDNS1123Subdomain(name); len(errs) > 0 {
		return &ValidationError{Reason: fmt.Sprintf("invalid record name %q: %s", name, errs[0])}
	}

	if baseDomain != "" && (name == baseDomain || strings.HasSuffix(name, "."+baseDomain)) {
		return &ValidationError{Reason: fmt.Sprintf("record name must not include the base domain %s", baseDomain)}
	}

	return nil
}

// NormalizeName lowercases and trims a record name, converting internationalized names to
// their ASCII form.
func NormalizeName(name string) string {
	n := strings.ToLower(strings.TrimSpace(name))
	if ascii, err := idna.Lookup.ToASCII(n); err == nil && ascii != "" {
		return ascii
	}
	return n
}
