package repository

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/cardkeeper/internal/model"
)

// EncodeDeck serializes a deck document. A nil card list is written as [].
func EncodeDeck(d *model.Deck) ([]byte, error) {
	cp := *d
	if cp.Cards == nil {
		cp.Cards = []model.Card{}
	}
	return json.Marshal(&cp)
}

// EncodePatch serializes only the fields set in p, for a JSON merge into the stored document.
func EncodePatch(p model.DeckPatch) ([]byte, error) {
	return json.Marshal(p)
}

// DecodeDeck parses the document stored under (deckID, ownerUserID). It never rejects a
// document:
//   - a field whose value has the wrong JSON type is recovered when it is a quoted scalar of the
//     right type, kept as its JSON text for string fields, and zeroed otherwise; each case is
//     listed in DecodeIssues
//   - a cards value that is missing or not an array yields an empty list with CardsMalformed set
//   - deckId and ownerUserId are taken from the key when the document lacks or contradicts them
//   - a document that is not a JSON object yields a key-only deck with Unreadable set
func DecodeDeck(raw []byte, deckID uuid.UUID, ownerUserID string) *model.Deck {
	d := &model.Deck{Cards: []model.Card{}}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		d.ID, d.OwnerUserID = deckID, ownerUserID
		d.Unreadable = true
		d.DecodeIssues = []string{fmt.Sprintf("document: not a JSON object (%s)", reason(err))}
		return d
	}

	issues := decodeFields(fields, d, "", "cards")
	cards, malformed, cardIssues := decodeCards(fields["cards"])
	d.Cards, d.CardsMalformed = cards, malformed
	issues = append(issues, cardIssues...)

	if deckID != uuid.Nil && d.ID != deckID {
		issues = append(issues, keyIssue("deckId", d.ID == uuid.Nil))
		d.ID = deckID
	}
	if ownerUserID != "" && d.OwnerUserID != ownerUserID {
		issues = append(issues, keyIssue("ownerUserId", d.OwnerUserID == ""))
		d.OwnerUserID = ownerUserID
	}
	d.DecodeIssues = issues
	return d
}

func keyIssue(field string, missing bool) string {
	if missing {
		return field + ": missing, restored from the storage key"
	}
	return field + ": differs from the storage key, key wins"
}

func reason(err error) string {
	if err == nil {
		return "null"
	}
	return err.Error()
}

func decodeCards(raw json.RawMessage) ([]model.Card, bool, []string) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '[' {
		return []model.Card{}, true, nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return []model.Card{}, true, nil
	}

	var issues []string
	cards := make([]model.Card, len(items))
	for i, item := range items {
		prefix := fmt.Sprintf("cards[%d].", i)
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(item, &fields); err != nil || fields == nil {
			issues = append(issues, fmt.Sprintf("cards[%d]: not a JSON object", i))
			continue
		}
		issues = append(issues, decodeFields(fields, &cards[i], prefix, "")...)
	}
	return cards, false, issues
}

// decodeFields fills the json-tagged fields of the struct dst points to, one field at a time, so
// one bad value does not lose the rest of the document.
func decodeFields(fields map[string]json.RawMessage, dst any, prefix, skip string) []string {
	v := reflect.ValueOf(dst).Elem()
	t := v.Type()

	var issues []string
	for i := 0; i < t.NumField(); i++ {
		name, _, _ := strings.Cut(t.Field(i).Tag.Get("json"), ",")
		if name == "" || name == "-" || name == skip {
			continue
		}
		raw, ok := fields[name]
		if !ok {
			continue
		}
		fv := v.Field(i)
		err := json.Unmarshal(raw, fv.Addr().Interface())
		if err == nil {
			continue
		}
		fv.Set(reflect.Zero(fv.Type()))
		issues = append(issues, prefix+name+": "+salvage(raw, fv))
	}
	return issues
}

// salvage retries a value that failed to decode into fv and describes the outcome.
func salvage(raw json.RawMessage, fv reflect.Value) string {
	var s string
	if json.Unmarshal(raw, &s) == nil {
		if json.Unmarshal([]byte(s), fv.Addr().Interface()) == nil {
			return fmt.Sprintf("stored as string %q, recovered", s)
		}
		fv.Set(reflect.Zero(fv.Type()))
	}
	if fv.Kind() == reflect.String {
		fv.SetString(string(bytes.TrimSpace(raw)))
		return "not a string, kept its JSON text"
	}
	return fmt.Sprintf("undecodable value %s, reset", truncate(string(bytes.TrimSpace(raw)), 40))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
