package email

import (
	"reflect"
	"testing"
	"time"

	"github.com/emersion/go-imap/v2"
)

func TestParseQuery(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  SearchOptions
	}{
		{
			name:  "free text",
			query: "budget review",
			want:  SearchOptions{Text: []string{"budget", "review"}},
		},
		{
			name:  "operators",
			query: "from:alice@example.com to:me subject:invoice",
			want:  SearchOptions{From: "alice@example.com", To: "me", Subject: "invoice"},
		},
		{
			name:  "quoted value",
			query: `subject:"q3 plan" notes`,
			want:  SearchOptions{Subject: "q3 plan", Text: []string{"notes"}},
		},
		{
			name:  "dates",
			query: "after:2025/01/02 before:2025-02-01",
			want: SearchOptions{
				Since:  time.Date(2025, 1, 2, 0, 0, 0, 0, time.Local),
				Before: time.Date(2025, 2, 1, 0, 0, 0, 0, time.Local),
			},
		},
		{
			name:  "bad date ignored",
			query: "after:yesterday",
			want:  SearchOptions{},
		},
		{
			name:  "folder and unread",
			query: "in:Archive is:unread",
			want:  SearchOptions{Folder: "Archive", Unseen: true},
		},
		{
			name:  "unknown operator is text",
			query: "label:work",
			want:  SearchOptions{Text: []string{"label:work"}},
		},
		{
			name:  "empty",
			query: "   ",
			want:  SearchOptions{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseQuery(tt.query)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ParseQuery(%q) = %+v, want %+v", tt.query, got, tt.want)
			}
		})
	}
}

func TestSearchOptionsCriteria(t *testing.T) {
	opts := SearchOptions{
		Text:    []string{"budget"},
		From:    "alice",
		Subject: "plan",
		Unseen:  true,
	}
	c := opts.criteria()

	if !reflect.DeepEqual(c.Text, []string{"budget"}) {
		t.Errorf("Text = %v", c.Text)
	}
	want := []imap.SearchCriteriaHeaderField{
		{Key: "From", Value: "alice"},
		{Key: "Subject", Value: "plan"},
	}
	if !reflect.DeepEqual(c.Header, want) {
		t.Errorf("Header = %+v, want %+v", c.Header, want)
	}
	if len(c.NotFlag) != 1 || c.NotFlag[0] != imap.FlagSeen {
		t.Errorf("NotFlag = %v", c.NotFlag)
	}
	if !c.Since.IsZero() || !c.Before.IsZero() {
		t.Error("dates should be unset")
	}
}
