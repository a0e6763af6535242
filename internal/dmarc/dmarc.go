// Package dmarc resolves a domain's published DMARC record and classifies
// the policy it asks receivers to apply to unauthenticated mail.
package dmarc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// NoRecordMessage is reported as the raw record when nothing usable was
// published.
const NoRecordMessage = "No DMARC record found"

var (
	// ErrNotFound is returned by a TXTLookuper for NXDOMAIN or an empty answer.
	ErrNotFound = errors.New("dmarc: no TXT record")

	// ErrDNSResolution marks a lookup that failed for any other reason.
	ErrDNSResolution = errors.New("dmarc: dns resolution failure")

	// ErrMalformedRecord marks a v=DMARC1 record without a recognised policy.
	ErrMalformedRecord = errors.New("dmarc: malformed record")
)

// Policy is the action a domain requests for mail failing DMARC.
type Policy int

const (
	// Absent means no usable record was found or the lookup failed.
	Absent Policy = iota
	None
	Quarantine
	Reject
)

func (p Policy) String() string {
	switch p {
	case None:
		return "none"
	case Quarantine:
		return "quarantine"
	case Reject:
		return "reject"
	default:
		return "absent"
	}
}

// policyTags lists the recognised policy substrings.
var policyTags = []struct {
	tag    string
	policy Policy
}{
	{"p=none", None},
	{"p=quarantine", Quarantine},
	{"p=reject", Reject},
}

// DomainPolicy is the result of one resolution.
type DomainPolicy struct {
	Domain    string
	Policy    Policy
	RawRecord string

	// Tags is a best-effort split of the matched record. Classification
	// never reads it.
	Tags map[string]string

	// Err is set when the lookup failed or the record was malformed. It
	// wraps ErrDNSResolution or ErrMalformedRecord.
	Err error
}

// Spoofable reports whether the policy leaves spoofed mail deliverable.
func (d DomainPolicy) Spoofable() bool {
	return d.Policy == Absent || d.Policy == None
}

// Assessment returns a one-line human verdict for the policy.
func (d DomainPolicy) Assessment() string {
	switch d.Policy {
	case None:
		return "DMARC policy is set to p=none. Domain is vulnerable to spoofing."
	case Quarantine:
		return "DMARC policy is set to p=quarantine. Spoofed emails may be delivered to spam or quarantine."
	case Reject:
		return "DMARC policy is set to p=reject. Spoofed emails are likely to be rejected."
	default:
		return "No DMARC record found. Domain appears vulnerable."
	}
}

// TXTLookuper returns the TXT strings published at name, one string per
// resource record with its character-strings already concatenated.
type TXTLookuper interface {
	LookupTXT(ctx context.Context, name string) ([]string, error)
}

// Resolver classifies DMARC policies using a TXTLookuper.
type Resolver struct {
	lookuper TXTLookuper
	logger   *slog.Logger
}

// NewResolver creates a Resolver. A nil logger uses slog.Default().
func NewResolver(lookuper TXTLookuper, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{lookuper: lookuper, logger: logger}
}

// Resolve looks up _dmarc.<domain> once and classifies the first record,
// in resolver order, containing v=DMARC1. Failures never escape as errors;
// they surface as an Absent policy with the detail in RawRecord and Err.
func (r *Resolver) Resolve(ctx context.Context, domain string) DomainPolicy {
	domain = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(domain)), ".")
	result := DomainPolicy{Domain: domain, Policy: Absent, RawRecord: NoRecordMessage}

	records, err := r.lookuper.LookupTXT(ctx, "_dmarc."+domain)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			r.logger.Debug("no dmarc record", "domain", domain)
			return result
		}
		r.logger.Warn("dmarc lookup failed", "domain", domain, "error", err)
		result.RawRecord = fmt.Sprintf("Error checking DMARC: %v", err)
		result.Err = fmt.Errorf("%w: %w", ErrDNSResolution, err)
		return result
	}

	for _, record := range records {
		if !strings.Contains(record, "v=DMARC1") {
			continue
		}
		result.RawRecord = record
		result.Tags = ParseTags(record)
		result.Policy = Classify(record)
		if result.Policy == Absent {
			result.Err = fmt.Errorf("%w: no p= tag in %q", ErrMalformedRecord, record)
		}
		r.logger.Debug("dmarc record classified",
			"domain", domain,
			"policy", result.Policy.String(),
		)
		return result
	}

	return result
}

// Classify maps a record to a policy by substring containment. When more
// than one policy substring is present, the one appearing first in the
// record wins. It does not check for v=DMARC1.
func Classify(record string) Policy {
	policy, first := Absent, -1
	for _, pt := range policyTags {
		idx := strings.Index(record, pt.tag)
		if idx < 0 {
			continue
		}
		if first < 0 || idx < first {
			policy, first = pt.policy, idx
		}
	}
	return policy
}

// ParseTags splits a record into its tag=value pairs. Tag names are
// lower-cased; later duplicates are ignored.
func ParseTags(record string) map[string]string {
	tags := make(map[string]string)
	for _, field := range strings.Split(record, ";") {
		name, value, ok := strings.Cut(field, "=")
		if !ok {
			continue
		}
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" {
			continue
		}
		if _, seen := tags[name]; seen {
			continue
		}
		tags[name] = strings.TrimSpace(value)
	}
	return tags
}
