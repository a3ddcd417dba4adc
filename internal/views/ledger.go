package views

import (
	"bytes"
	"encoding/json"
	"sort"

	"github.com/pkg/errors"
)

// Ledger is the persisted view-count state: the running total and the set of
// identities that have already been counted.
type Ledger struct {
	TotalViews    uint64
	KnownVisitors map[string]struct{}
}

type ledgerJSON struct {
	TotalViews    uint64   `json:"totalViews"`
	KnownVisitors []string `json:"knownVisitors"`
}

// legacyLedgerJSON also accepts the key written by the first version of the site.
type legacyLedgerJSON struct {
	TotalViews    *uint64  `json:"totalViews"`
	KnownVisitors []string `json:"knownVisitors"`
	UniqueIPs     []string `json:"uniqueIPs"`
}

// NewLedger returns an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{KnownVisitors: make(map[string]struct{})}
}

// Knows reports whether identity has already been counted.
func (l *Ledger) Knows(identity string) bool {
	_, ok := l.KnownVisitors[identity]
	return ok
}

// AddVisitor records identity and returns true if it was not known before.
func (l *Ledger) AddVisitor(identity string) bool {
	if l.KnownVisitors == nil {
		l.KnownVisitors = make(map[string]struct{})
	}
	if l.Knows(identity) {
		return false
	}
	l.KnownVisitors[identity] = struct{}{}
	return true
}

func (l *Ledger) UniqueVisitors() int {
	return len(l.KnownVisitors)
}

// Visitors returns the known identities in sorted order.
func (l *Ledger) Visitors() []string {
	out := make([]string, 0, len(l.KnownVisitors))
	for id := range l.KnownVisitors {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// VisitorsSince returns the identities present in l but not in before, sorted.
func (l *Ledger) VisitorsSince(before *Ledger) []string {
	var out []string
	for id := range l.KnownVisitors {
		if before == nil || !before.Knows(id) {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

func (l *Ledger) Clone() *Ledger {
	c := &Ledger{
		TotalViews:    l.TotalViews,
		KnownVisitors: make(map[string]struct{}, len(l.KnownVisitors)),
	}
	for id := range l.KnownVisitors {
		c.KnownVisitors[id] = struct{}{}
	}
	return c
}

func (l *Ledger) Counts() Counts {
	return Counts{TotalViews: l.TotalViews, UniqueVisitors: l.UniqueVisitors()}
}

func (l *Ledger) MarshalJSON() ([]byte, error) {
	return json.Marshal(ledgerJSON{
		TotalViews:    l.TotalViews,
		KnownVisitors: l.Visitors(),
	})
}

func (l *Ledger) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return errors.New("ledger is null")
	}

	var raw legacyLedgerJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	next := NewLedger()
	if raw.TotalViews != nil {
		next.TotalViews = *raw.TotalViews
	}
	for _, id := range raw.KnownVisitors {
		next.KnownVisitors[id] = struct{}{}
	}
	for _, id := range raw.UniqueIPs {
		next.KnownVisitors[id] = struct{}{}
	}

	*l = *next
	return nil
}

// DecodeLedger parses the JSON layout of a persisted ledger.
func DecodeLedger(data []byte) (*Ledger, error) {
	l := NewLedger()
	if err := json.Unmarshal(data, l); err != nil {
		return nil, errors.Wrap(err, "decode ledger")
	}
	return l, nil
}

// EncodeLedger renders l in the persisted JSON layout, indented for humans.
func EncodeLedger(l *Ledger) ([]byte, error) {
	data, err := json.MarshalIndent(l, "", "  ")
	if err != nil {
		return nil, errors.Wrap(err, "encode ledger")
	}
	return data, nil
}
