// Package contacts looks people up in the user's CardDAV address book.
package contacts

import (
	"fmt"
	"sort"
	"strings"

	"github.com/emersion/go-vcard"
)

// Contact is the subset of a vCard the agent works with.
type Contact struct {
	Name         string
	Kind         string // individual, organization, group, location
	Nickname     string
	Organization string
	Title        string
	Birthday     string
	Note         string

	// Emails and Phones are labelled by vCard TYPE, e.g. "work".
	Emails  []Labelled
	Phones  []Labelled
	Address []string
}

// Labelled is a value with an optional label.
type Labelled struct {
	Label string
	Value string
}

// FromCard converts a vCard. Cards without FN fall back to the
// structured N property.
func FromCard(card vcard.Card) *Contact {
	c := &Contact{
		Name:         card.PreferredValue(vcard.FieldFormattedName),
		Kind:         string(card.Kind()),
		Nickname:     card.PreferredValue(vcard.FieldNickname),
		Organization: strings.Trim(strings.ReplaceAll(card.PreferredValue(vcard.FieldOrganization), ";", ", "), ", "),
		Title:        card.PreferredValue(vcard.FieldTitle),
		Birthday:     card.PreferredValue(vcard.FieldBirthday),
		Note:         card.PreferredValue(vcard.FieldNote),
	}
	if c.Name == "" {
		if n := card.Name(); n != nil {
			c.Name = strings.TrimSpace(strings.Join([]string{n.GivenName, n.FamilyName}, " "))
		}
	}
	if c.Kind == "" {
		c.Kind = string(vcard.KindIndividual)
	}
	c.Emails = labelled(card[vcard.FieldEmail])
	c.Phones = labelled(card[vcard.FieldTelephone])
	for _, a := range card.Addresses() {
		parts := []string{a.StreetAddress, a.Locality, a.Region, a.PostalCode, a.Country}
		var kept []string
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				kept = append(kept, p)
			}
		}
		if len(kept) > 0 {
			c.Address = append(c.Address, strings.Join(kept, ", "))
		}
	}
	return c
}

func labelled(fields []*vcard.Field) []Labelled {
	out := make([]Labelled, 0, len(fields))
	for _, f := range fields {
		if f == nil || strings.TrimSpace(f.Value) == "" {
			continue
		}
		var label string
		if types := f.Params.Types(); len(types) > 0 {
			label = strings.ToLower(types[0])
		}
		out = append(out, Labelled{Label: label, Value: strings.TrimPrefix(f.Value, "tel:")})
	}
	return out
}

// Matches reports whether query appears, case-insensitively, in the
// contact's name, nickname, organization or any email address.
func (c *Contact) Matches(query string) bool {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return true
	}
	hay := []string{c.Name, c.Nickname, c.Organization}
	for _, e := range c.Emails {
		hay = append(hay, e.Value)
	}
	for _, h := range hay {
		if strings.Contains(strings.ToLower(h), q) {
			return true
		}
	}
	return false
}

// Format renders a contact for the model.
func (c *Contact) Format() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "**%s**", c.Name)
	if c.Nickname != "" {
		fmt.Fprintf(&sb, " (%s)", c.Nickname)
	}
	if c.Kind != string(vcard.KindIndividual) {
		fmt.Fprintf(&sb, " [%s]", c.Kind)
	}
	sb.WriteString("\n")

	if c.Organization != "" || c.Title != "" {
		org := strings.TrimSpace(strings.Join([]string{c.Title, c.Organization}, ", "))
		fmt.Fprintf(&sb, "  Organization: %s\n", strings.Trim(org, ", "))
	}
	writeLabelled(&sb, "Email", c.Emails)
	writeLabelled(&sb, "Phone", c.Phones)
	for _, a := range c.Address {
		fmt.Fprintf(&sb, "  Address: %s\n", a)
	}
	if c.Birthday != "" {
		fmt.Fprintf(&sb, "  Birthday: %s\n", c.Birthday)
	}
	if c.Note != "" {
		fmt.Fprintf(&sb, "  Note: %s\n", c.Note)
	}
	return sb.String()
}

func writeLabelled(sb *strings.Builder, name string, values []Labelled) {
	for _, v := range values {
		if v.Label != "" {
			fmt.Fprintf(sb, "  %s (%s): %s\n", name, v.Label, v.Value)
		} else {
			fmt.Fprintf(sb, "  %s: %s\n", name, v.Value)
		}
	}
}

// sortByName orders contacts by name, case-insensitively.
func sortByName(list []*Contact) {
	sort.SliceStable(list, func(i, j int) bool {
		return strings.ToLower(list[i].Name) < strings.ToLower(list[j].Name)
	})
}
