// Package tagset holds the tag identifiers attached to one bookmark and the
// codec that stores them as a single comma-delimited text column.
//
// All knowledge of the delimited layout lives here. Callers work with Set and
// never split or join the column themselves.
package tagset

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Delimiter separates identifiers in the persisted column. Identifiers are
// canonical UUID strings and so can never contain it.
const Delimiter = ","

var (
	ErrMalformed          = errors.New("malformed tag set")
	ErrInvalidFilterInput = errors.New("invalid filter input")
)

// MalformedError reports which segment of a tag-set failed to parse.
type MalformedError struct {
	Text    string
	Segment string
	Reason  string
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("malformed tag set %q: segment %q %s", e.Text, e.Segment, e.Reason)
}

func (e *MalformedError) Is(target error) bool { return target == ErrMalformed }

// FilterError reports a client-supplied filter id that is not an identifier.
type FilterError struct {
	Segment string
}

func (e *FilterError) Error() string {
	return fmt.Sprintf("invalid tag id %q in filter", e.Segment)
}

func (e *FilterError) Is(target error) bool { return target == ErrInvalidFilterInput }

// Set is an ordered, duplicate-free sequence of tag identifiers.
// The zero value is the empty set.
type Set struct {
	ids []string
}

// Of builds a Set from already canonical identifiers. It panics on malformed
// input and is meant for tests and constants.
func Of(ids ...string) Set {
	s, err := Parse(ids)
	if err != nil {
		panic(err)
	}
	return s
}

// Encode joins the identifiers with the delimiter. The empty set encodes to "".
func (s Set) Encode() string {
	return strings.Join(s.ids, Delimiter)
}

// String is the encoded form.
func (s Set) String() string { return s.Encode() }

// Decode parses a stored tag-set column. Every segment must be a canonical
// identifier and appear once; anything else fails the whole decode.
func Decode(text string) (Set, error) {
	if text == "" {
		return Set{}, nil
	}

	segments := strings.Split(text, Delimiter)
	ids := make([]string, 0, len(segments))
	seen := make(map[string]struct{}, len(segments))

	for _, seg := range segments {
		if seg == "" {
			return Set{}, &MalformedError{Text: text, Segment: seg, Reason: "is empty"}
		}
		id, err := uuid.Parse(seg)
		if err != nil {
			return Set{}, &MalformedError{Text: text, Segment: seg, Reason: "is not an identifier"}
		}
		if id.String() != seg {
			return Set{}, &MalformedError{Text: text, Segment: seg, Reason: "is not in canonical form"}
		}
		if _, dup := seen[seg]; dup {
			return Set{}, &MalformedError{Text: text, Segment: seg, Reason: "is duplicated"}
		}
		seen[seg] = struct{}{}
		ids = append(ids, seg)
	}

	return Set{ids: ids}, nil
}

// Parse builds a Set from client-submitted identifiers. Any spelling accepted
// by uuid.Parse is normalized to canonical form. Empty entries and duplicates
// are rejected.
func Parse(items []string) (Set, error) {
	if len(items) == 0 {
		return Set{}, nil
	}

	text := strings.Join(items, Delimiter)
	ids := make([]string, 0, len(items))
	seen := make(map[string]struct{}, len(items))

	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			return Set{}, &MalformedError{Text: text, Segment: item, Reason: "is empty"}
		}
		id, err := uuid.Parse(item)
		if err != nil {
			return Set{}, &MalformedError{Text: text, Segment: item, Reason: "is not an identifier"}
		}
		c := id.String()
		if _, dup := seen[c]; dup {
			return Set{}, &MalformedError{Text: text, Segment: item, Reason: "is duplicated"}
		}
		seen[c] = struct{}{}
		ids = append(ids, c)
	}

	return Set{ids: ids}, nil
}

// ParseFilter parses the comma-separated tag filter of a query string.
// An empty value requests no tags. Duplicates collapse.
func ParseFilter(raw string) (Set, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Set{}, nil
	}

	var ids []string
	seen := map[string]struct{}{}
	for _, seg := range strings.Split(raw, Delimiter) {
		seg = strings.TrimSpace(seg)
		id, err := uuid.Parse(seg)
		if err != nil {
			return Set{}, &FilterError{Segment: seg}
		}
		c := id.String()
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		ids = append(ids, c)
	}

	return Set{ids: ids}, nil
}

// IDs returns a copy of the identifiers in order.
func (s Set) IDs() []string {
	out := make([]string, len(s.ids))
	copy(out, s.ids)
	return out
}

func (s Set) Len() int { return len(s.ids) }

func (s Set) IsEmpty() bool { return len(s.ids) == 0 }

func (s Set) Contains(id string) bool {
	for _, v := range s.ids {
		if v == id {
			return true
		}
	}
	return false
}

// Without returns the set with id removed, keeping the relative order of the
// remaining identifiers. The second result reports whether id was present.
func (s Set) Without(id string) (Set, bool) {
	out := make([]string, 0, len(s.ids))
	removed := false
	for _, v := range s.ids {
		if v == id {
			removed = true
			continue
		}
		out = append(out, v)
	}
	if !removed {
		return s, false
	}
	return Set{ids: out}, true
}

// Equal reports whether both sets hold the same identifiers in the same order.
func (s Set) Equal(o Set) bool {
	if len(s.ids) != len(o.ids) {
		return false
	}
	for i := range s.ids {
		if s.ids[i] != o.ids[i] {
			return false
		}
	}
	return true
}

// Matches reports whether have carries every identifier in requested.
func Matches(have, requested Set) bool {
	if requested.IsEmpty() {
		// vacuous: no requested tags, every bookmark qualifies
		return true
	}
	for _, id := range requested.ids {
		if !have.Contains(id) {
			return false
		}
	}
	return true
}

// Value stores the set as its encoded text.
func (s Set) Value() (driver.Value, error) {
	return s.Encode(), nil
}

// Scan decodes the stored text. A malformed column fails the scan.
func (s *Set) Scan(src any) error {
	var text string
	switch v := src.(type) {
	case nil:
		text = ""
	case string:
		text = v
	case []byte:
		text = string(v)
	default:
		return fmt.Errorf("tagset: cannot scan %T", src)
	}

	decoded, err := Decode(text)
	if err != nil {
		return err
	}
	*s = decoded
	return nil
}

func (s Set) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.IDs())
}

// UnmarshalJSON accepts an array of identifiers or the comma-joined string form.
func (s *Set) UnmarshalJSON(b []byte) error {
	var items []string
	if err := json.Unmarshal(b, &items); err != nil {
		var joined string
		if err2 := json.Unmarshal(b, &joined); err2 != nil {
			return err
		}
		if strings.TrimSpace(joined) != "" {
			items = strings.Split(joined, Delimiter)
		}
	}

	parsed, err := Parse(items)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
