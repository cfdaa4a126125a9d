// Package docs gives the agent a document library on a WebDAV share:
// search, read, create, append and replace-in-place.
package docs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/emersion/go-webdav"

	"github.com/nugget/taskpilot/internal/config"
	"github.com/nugget/taskpilot/internal/htmltext"
	"github.com/nugget/taskpilot/internal/httpkit"
)

const (
	// maxDocumentSize bounds what is read into memory for search and
	// editing.
	maxDocumentSize = 1 << 20

	// maxReadChars bounds document text returned to the model.
	maxReadChars = 16000

	snippetRadius = 80
)

// ErrNotFound is returned when a document does not exist.
var ErrNotFound = errors.New("document not found")

// textExtensions are the file types searched and edited as text.
var textExtensions = map[string]bool{
	".md":       true,
	".markdown": true,
	".txt":      true,
	".org":      true,
	".html":     true,
	".htm":      true,
	".csv":      true,
}

// FS is the WebDAV surface the library needs. *webdav.Client
// implements it.
type FS interface {
	ReadDir(ctx context.Context, name string, recursive bool) ([]webdav.FileInfo, error)
	Stat(ctx context.Context, name string) (*webdav.FileInfo, error)
	Open(ctx context.Context, name string) (io.ReadCloser, error)
	Create(ctx context.Context, name string) (io.WriteCloser, error)
	Mkdir(ctx context.Context, name string) error
}

// Document is a document's text content.
type Document struct {
	Path     string
	Title    string
	Text     string
	Modified time.Time
	Size     int64
}

// Match is one search hit.
type Match struct {
	Path     string
	Snippet  string
	Modified time.Time
}

// Library resolves document paths under a root folder of the share.
type Library struct {
	fs     FS
	base   string
	logger *slog.Logger
}

// NewClient creates a WebDAV client for the configured share.
func NewClient(cfg config.DocumentsConfig) (*webdav.Client, error) {
	var hc webdav.HTTPClient = httpkit.NewClient(httpkit.Options{Timeout: 30 * time.Second})
	if cfg.Username != "" {
		hc = webdav.HTTPClientWithBasicAuth(hc, cfg.Username, cfg.Password)
	}
	c, err := webdav.NewClient(hc, cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("webdav client for %s: %w", cfg.URL, err)
	}
	return c, nil
}

// NewLibrary creates a library over fs. endpoint is the share URL the
// client was created with; root is a folder beneath it.
func NewLibrary(fs FS, endpoint, root string, logger *slog.Logger) (*Library, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse documents url: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Library{
		fs:     fs,
		base:   path.Join("/", u.Path, root),
		logger: logger.With("component", "docs"),
	}, nil
}

// resolve maps a library path to an absolute share path. Cleaning
// against "/" keeps ".." from escaping the root.
func (l *Library) resolve(p string) string {
	return path.Join(l.base, path.Clean("/"+strings.TrimSpace(p)))
}

// display maps an absolute share path back to a library path.
func (l *Library) display(href string) string {
	rel := strings.TrimPrefix(path.Clean(href), l.base)
	return strings.TrimPrefix(rel, "/")
}

func isText(p string) bool {
	return textExtensions[strings.ToLower(path.Ext(p))]
}

// Search returns documents whose path or text contains query,
// case-insensitively, most recently modified first.
func (l *Library) Search(ctx context.Context, query string, limit int) ([]Match, error) {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return nil, fmt.Errorf("query is empty")
	}

	files, err := l.fs.ReadDir(ctx, l.base, true)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].ModTime.After(files[j].ModTime) })

	var out []Match
	for _, fi := range files {
		if fi.IsDir || !isText(fi.Path) {
			continue
		}
		if limit > 0 && len(out) >= limit {
			break
		}
		rel := l.display(fi.Path)
		if strings.Contains(strings.ToLower(rel), q) {
			out = append(out, Match{Path: rel, Modified: fi.ModTime})
			continue
		}
		if fi.Size > maxDocumentSize {
			continue
		}
		raw, err := l.readRaw(ctx, fi.Path)
		if err != nil {
			l.logger.Warn("skipping unreadable document", "path", rel, "error", err)
			continue
		}
		text := plainText(fi.Path, raw)
		if idx := strings.Index(strings.ToLower(text), q); idx >= 0 {
			out = append(out, Match{Path: rel, Snippet: snippet(text, idx, len(q)), Modified: fi.ModTime})
		}
	}
	return out, nil
}

// Read returns a document's text. HTML is reduced to plain text.
func (l *Library) Read(ctx context.Context, p string) (*Document, error) {
	name := l.resolve(p)
	fi, err := l.fs.Stat(ctx, name)
	if err != nil {
		return nil, notFound(p, err)
	}
	if fi.IsDir {
		return nil, fmt.Errorf("%s is a folder", p)
	}
	raw, err := l.readRaw(ctx, name)
	if err != nil {
		return nil, err
	}

	doc := &Document{Path: l.display(name), Modified: fi.ModTime, Size: fi.Size}
	if isHTML(name, raw) {
		doc.Title, doc.Text = htmltext.Extract(raw)
	} else {
		doc.Text = raw
	}
	return doc, nil
}

// Create writes a new document, creating parent folders as needed. An
// existing document is only replaced when overwrite is set. Paths
// without an extension get ".md".
func (l *Library) Create(ctx context.Context, p, content string, overwrite bool) (string, error) {
	if path.Ext(p) == "" {
		p += ".md"
	}
	name := l.resolve(p)
	if name == l.base {
		return "", fmt.Errorf("document path is required")
	}
	if !overwrite {
		if _, err := l.fs.Stat(ctx, name); err == nil {
			return "", fmt.Errorf("%s already exists", l.display(name))
		}
	}
	if err := l.mkdirAll(ctx, path.Dir(name)); err != nil {
		return "", err
	}
	if err := l.write(ctx, name, content); err != nil {
		return "", err
	}
	return l.display(name), nil
}

// Append adds content to the end of a text document, separated from
// the existing text by a blank line.
func (l *Library) Append(ctx context.Context, p, content string) error {
	name := l.resolve(p)
	if !isText(name) {
		return fmt.Errorf("%s is not a text document", p)
	}
	existing, err := l.readRaw(ctx, name)
	if err != nil {
		return err
	}
	existing = strings.TrimRight(existing, "\n")
	if existing != "" {
		existing += "\n\n"
	}
	return l.write(ctx, name, existing+strings.TrimSpace(content)+"\n")
}

// Replace substitutes every occurrence of old with replacement and
// returns the number of replacements. Finding nothing is an error so
// the model learns its text did not match.
func (l *Library) Replace(ctx context.Context, p, old, replacement string) (int, error) {
	if old == "" {
		return 0, fmt.Errorf("text to replace is empty")
	}
	name := l.resolve(p)
	if !isText(name) {
		return 0, fmt.Errorf("%s is not a text document", p)
	}
	existing, err := l.readRaw(ctx, name)
	if err != nil {
		return 0, err
	}
	n := strings.Count(existing, old)
	if n == 0 {
		return 0, fmt.Errorf("text not found in %s", p)
	}
	if err := l.write(ctx, name, strings.ReplaceAll(existing, old, replacement)); err != nil {
		return 0, err
	}
	return n, nil
}

func (l *Library) readRaw(ctx context.Context, name string) (string, error) {
	rc, err := l.fs.Open(ctx, name)
	if err != nil {
		return "", notFound(l.display(name), err)
	}
	defer rc.Close()
	data, err := io.ReadAll(io.LimitReader(rc, maxDocumentSize+1))
	if err != nil {
		return "", fmt.Errorf("read %s: %w", l.display(name), err)
	}
	if len(data) > maxDocumentSize {
		return "", fmt.Errorf("%s is larger than %d bytes", l.display(name), maxDocumentSize)
	}
	return string(data), nil
}

func (l *Library) write(ctx context.Context, name, content string) error {
	wc, err := l.fs.Create(ctx, name)
	if err != nil {
		return fmt.Errorf("create %s: %w", l.display(name), err)
	}
	if _, err := io.WriteString(wc, content); err != nil {
		wc.Close()
		return fmt.Errorf("write %s: %w", l.display(name), err)
	}
	if err := wc.Close(); err != nil {
		return fmt.Errorf("write %s: %w", l.display(name), err)
	}
	return nil
}

func (l *Library) mkdirAll(ctx context.Context, dir string) error {
	if dir == "/" || dir == l.base || !strings.HasPrefix(dir, l.base) {
		return nil
	}
	if fi, err := l.fs.Stat(ctx, dir); err == nil {
		if !fi.IsDir {
			return fmt.Errorf("%s is not a folder", l.display(dir))
		}
		return nil
	}
	if err := l.mkdirAll(ctx, path.Dir(dir)); err != nil {
		return err
	}
	if err := l.fs.Mkdir(ctx, dir); err != nil {
		return fmt.Errorf("create folder %s: %w", l.display(dir), err)
	}
	return nil
}

func notFound(p string, err error) error {
	return fmt.Errorf("%s: %w (%v)", p, ErrNotFound, err)
}

func isHTML(name, raw string) bool {
	switch strings.ToLower(path.Ext(name)) {
	case ".html", ".htm":
		return true
	}
	return htmltext.LooksLikeHTML(raw)
}

func plainText(name, raw string) string {
	if isHTML(name, raw) {
		return htmltext.Text(raw)
	}
	return raw
}

// snippet returns text around a match, flattened to one line.
func snippet(text string, idx, n int) string {
	idx = min(idx, len(text))
	start := max(0, idx-snippetRadius)
	end := min(len(text), idx+n+snippetRadius)
	// Keep cuts on rune boundaries.
	for start > 0 && !isRuneStart(text[start]) {
		start--
	}
	for end < len(text) && !isRuneStart(text[end]) {
		end++
	}
	s := strings.Join(strings.Fields(text[start:end]), " ")
	if start > 0 {
		s = "..." + s
	}
	if end < len(text) {
		s += "..."
	}
	return s
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }
