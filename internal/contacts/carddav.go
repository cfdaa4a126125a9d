package contacts

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/emersion/go-vcard"
	"github.com/emersion/go-webdav"
	"github.com/emersion/go-webdav/carddav"

	"github.com/nugget/taskpilot/internal/config"
	"github.com/nugget/taskpilot/internal/httpkit"
)

// Directory finds contacts matching a free-text query.
type Directory interface {
	Search(ctx context.Context, query string, limit int) ([]*Contact, error)
}

// searchProps are the vCard properties a query is matched against.
var searchProps = []string{
	vcard.FieldFormattedName,
	vcard.FieldNickname,
	vcard.FieldEmail,
	vcard.FieldOrganization,
}

// CardDAV is a Directory backed by a CardDAV server. Address books are
// discovered on first use and cached.
type CardDAV struct {
	client *carddav.Client
	logger *slog.Logger

	mu    sync.Mutex
	books []string
}

// NewCardDAV creates a CardDAV directory for the configured server.
func NewCardDAV(cfg config.ContactsConfig, logger *slog.Logger) (*CardDAV, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var hc webdav.HTTPClient = httpkit.NewClient(httpkit.Options{Timeout: 30 * time.Second})
	if cfg.Username != "" {
		hc = webdav.HTTPClientWithBasicAuth(hc, cfg.Username, cfg.Password)
	}
	client, err := carddav.NewClient(hc, cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("carddav client for %s: %w", cfg.URL, err)
	}
	return &CardDAV{client: client, logger: logger.With("component", "contacts")}, nil
}

func (d *CardDAV) addressBooks(ctx context.Context) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.books != nil {
		return d.books, nil
	}

	principal, err := d.client.FindCurrentUserPrincipal(ctx)
	if err != nil {
		return nil, fmt.Errorf("find principal: %w", err)
	}
	home, err := d.client.FindAddressBookHomeSet(ctx, principal)
	if err != nil {
		return nil, fmt.Errorf("find address book home: %w", err)
	}
	books, err := d.client.FindAddressBooks(ctx, home)
	if err != nil {
		return nil, fmt.Errorf("list address books: %w", err)
	}

	paths := make([]string, 0, len(books))
	for _, b := range books {
		paths = append(paths, b.Path)
	}
	d.logger.Debug("discovered address books", "count", len(paths))
	d.books = paths
	return paths, nil
}

// Search queries every address book and merges the results by name.
// Cards the server returns that do not actually match are dropped.
func (d *CardDAV) Search(ctx context.Context, query string, limit int) ([]*Contact, error) {
	books, err := d.addressBooks(ctx)
	if err != nil {
		return nil, err
	}

	q := newQuery(query, limit)
	var out []*Contact
	for _, book := range books {
		objs, err := d.client.QueryAddressBook(ctx, book, q)
		if err != nil {
			return nil, fmt.Errorf("query %s: %w", book, err)
		}
		for _, obj := range objs {
			c := FromCard(obj.Card)
			if c.Matches(query) {
				out = append(out, c)
			}
		}
	}
	sortByName(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func newQuery(query string, limit int) *carddav.AddressBookQuery {
	q := &carddav.AddressBookQuery{
		DataRequest: carddav.AddressDataRequest{AllProp: true},
		FilterTest:  carddav.FilterAnyOf,
		Limit:       limit,
	}
	for _, prop := range searchProps {
		q.PropFilters = append(q.PropFilters, carddav.PropFilter{
			Name: prop,
			TextMatches: []carddav.TextMatch{{
				Text:      query,
				MatchType: carddav.MatchContains,
			}},
		})
	}
	return q
}
