package dmarc

import (
	"context"
	"errors"
	"strings"
	"testing"
)

// fakeLookuper implements TXTLookuper for testing.
type fakeLookuper struct {
	records  map[string][]string
	err      error
	lastName string
	calls    int
}

func (f *fakeLookuper) LookupTXT(_ context.Context, name string) ([]string, error) {
	f.calls++
	f.lastName = name
	if f.err != nil {
		return nil, f.err
	}
	recs, ok := f.records[name]
	if !ok {
		return nil, ErrNotFound
	}
	return recs, nil
}

func TestResolve_Classification(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		record string
		want   Policy
	}{
		{"none", "v=DMARC1; p=none", None},
		{"quarantine with rua", "v=DMARC1; p=quarantine; rua=mailto:x@example.com", Quarantine},
		{"reject", "v=DMARC1; p=reject; pct=100", Reject},
		{"reject before subdomain none", "v=DMARC1; p=reject; sp=none", Reject},
		{"quarantine before reject", "v=DMARC1; p=quarantine; p=reject", Quarantine},
		{"reject before quarantine", "v=DMARC1; p=reject; p=quarantine", Reject},
		{"comment mentioning reject first", "v=DMARC1; x=p=reject; p=none", Reject},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			lk := &fakeLookuper{records: map[string][]string{
				"_dmarc.example.com": {tt.record},
			}}
			got := NewResolver(lk, nil).Resolve(context.Background(), "example.com")

			if got.Policy != tt.want {
				t.Errorf("Policy: got %v, want %v", got.Policy, tt.want)
			}
			if got.RawRecord != tt.record {
				t.Errorf("RawRecord: got %q, want %q", got.RawRecord, tt.record)
			}
			if got.Err != nil {
				t.Errorf("Err: got %v, want nil", got.Err)
			}
		})
	}
}

func TestResolve_NoRecord(t *testing.T) {
	t.Parallel()

	lk := &fakeLookuper{records: map[string][]string{}}
	got := NewResolver(lk, nil).Resolve(context.Background(), "example.com")

	if got.Policy != Absent {
		t.Errorf("Policy: got %v, want Absent", got.Policy)
	}
	if got.RawRecord != "No DMARC record found" {
		t.Errorf("RawRecord: got %q, want %q", got.RawRecord, "No DMARC record found")
	}
	if got.Err != nil {
		t.Errorf("Err: got %v, want nil", got.Err)
	}
	if lk.lastName != "_dmarc.example.com" {
		t.Errorf("queried name: got %q, want %q", lk.lastName, "_dmarc.example.com")
	}
}

func TestResolve_NoDMARC1Record(t *testing.T) {
	t.Parallel()

	lk := &fakeLookuper{records: map[string][]string{
		"_dmarc.example.com": {"v=spf1 -all", "google-site-verification=abc p=reject"},
	}}
	got := NewResolver(lk, nil).Resolve(context.Background(), "example.com")

	if got.Policy != Absent {
		t.Errorf("Policy: got %v, want Absent", got.Policy)
	}
	if got.RawRecord != NoRecordMessage {
		t.Errorf("RawRecord: got %q, want %q", got.RawRecord, NoRecordMessage)
	}
}

func TestResolve_FirstDMARCRecordWins(t *testing.T) {
	t.Parallel()

	lk := &fakeLookuper{records: map[string][]string{
		"_dmarc.example.com": {
			"unrelated text",
			"v=DMARC1; p=quarantine",
			"v=DMARC1; p=reject",
		},
	}}
	got := NewResolver(lk, nil).Resolve(context.Background(), "example.com")

	if got.Policy != Quarantine {
		t.Errorf("Policy: got %v, want Quarantine", got.Policy)
	}
}

func TestResolve_MalformedRecord(t *testing.T) {
	t.Parallel()

	lk := &fakeLookuper{records: map[string][]string{
		"_dmarc.example.com": {"v=DMARC1; rua=mailto:x@example.com"},
	}}
	got := NewResolver(lk, nil).Resolve(context.Background(), "example.com")

	if got.Policy != Absent {
		t.Errorf("Policy: got %v, want Absent", got.Policy)
	}
	if !errors.Is(got.Err, ErrMalformedRecord) {
		t.Errorf("Err: got %v, want ErrMalformedRecord", got.Err)
	}
}

func TestResolve_LookupFailure(t *testing.T) {
	t.Parallel()

	lk := &fakeLookuper{err: errors.New("i/o timeout")}
	got := NewResolver(lk, nil).Resolve(context.Background(), "example.com")

	if got.Policy != Absent {
		t.Errorf("Policy: got %v, want Absent", got.Policy)
	}
	if !strings.HasPrefix(got.RawRecord, "Error checking DMARC: ") {
		t.Errorf("RawRecord: got %q, want error prefix", got.RawRecord)
	}
	if !strings.Contains(got.RawRecord, "i/o timeout") {
		t.Errorf("RawRecord should carry error text, got %q", got.RawRecord)
	}
	if !errors.Is(got.Err, ErrDNSResolution) {
		t.Errorf("Err: got %v, want ErrDNSResolution", got.Err)
	}
	if lk.calls != 1 {
		t.Errorf("lookup calls: got %d, want 1 (no retries)", lk.calls)
	}
}

func TestResolve_NormalisesDomain(t *testing.T) {
	t.Parallel()

	lk := &fakeLookuper{}
	got := NewResolver(lk, nil).Resolve(context.Background(), "  Example.COM. ")

	if got.Domain != "example.com" {
		t.Errorf("Domain: got %q, want %q", got.Domain, "example.com")
	}
	if lk.lastName != "_dmarc.example.com" {
		t.Errorf("queried name: got %q", lk.lastName)
	}
}

func TestParseTags(t *testing.T) {
	t.Parallel()

	tags := ParseTags("v=DMARC1; p=quarantine; pct=50; rua=mailto:a@example.com; P=none;")

	want := map[string]string{
		"v":   "DMARC1",
		"p":   "quarantine",
		"pct": "50",
		"rua": "mailto:a@example.com",
	}
	for k, v := range want {
		if tags[k] != v {
			t.Errorf("tag %q: got %q, want %q", k, tags[k], v)
		}
	}
	if len(tags) != len(want) {
		t.Errorf("tag count: got %d, want %d (%v)", len(tags), len(want), tags)
	}
}

func TestAssessment(t *testing.T) {
	t.Parallel()

	tests := []struct {
		policy    Policy
		spoofable bool
		contains  string
	}{
		{Absent, true, "appears vulnerable"},
		{None, true, "p=none"},
		{Quarantine, false, "spam or quarantine"},
		{Reject, false, "likely to be rejected"},
	}

	for _, tt := range tests {
		d := DomainPolicy{Policy: tt.policy}
		if d.Spoofable() != tt.spoofable {
			t.Errorf("%v Spoofable: got %v, want %v", tt.policy, d.Spoofable(), tt.spoofable)
		}
		if !strings.Contains(d.Assessment(), tt.contains) {
			t.Errorf("%v Assessment: %q does not contain %q", tt.policy, d.Assessment(), tt.contains)
		}
	}
}
