// Package store defines the Pasta entity, the persistence Engine contract
// and its two interchangeable backends (json document snapshot and sqlite
// rows). Engines are dumb storage, all lifecycle decisions live in keeper.
package store

import (
	"fmt"
	"html"
	"net/url"
	"path/filepath"
	"strings"
	"time"
)

// Pasta types
const (
	TypeText = "text"
	TypeURL  = "url"
)

// PastaFile describes an attachment. The bytes live on disk under the
// attachment directory keyed by the encoded id, not in the record.
type PastaFile struct {
	Name string `json:"name"`
	Size uint64 `json:"size"`
}

// FileFromUnsanitized builds a PastaFile from a client-supplied path,
// keeping only the base name with spaces replaced
func FileFromUnsanitized(path string) (*PastaFile, error) {
	name := filepath.Base(strings.ReplaceAll(path, "\\", "/"))
	name = strings.ReplaceAll(name, " ", "_")
	if name == "" || name == "." || name == ".." || name == "/" {
		return nil, fmt.Errorf("path %q did not contain a file name", path)
	}
	return &PastaFile{Name: name}, nil
}

// SizeString formats the attachment size with thresholds at powers of 1024
func (f *PastaFile) SizeString() string {
	const unit = 1024
	switch {
	case f.Size >= unit*unit*unit:
		return fmt.Sprintf("%.1f GB", float64(f.Size)/(unit*unit*unit))
	case f.Size >= unit*unit:
		return fmt.Sprintf("%.1f MB", float64(f.Size)/(unit*unit))
	case f.Size >= unit:
		return fmt.Sprintf("%.1f KB", float64(f.Size)/unit)
	default:
		return fmt.Sprintf("%d B", f.Size)
	}
}

// Pasta is one stored unit of content with its metadata and access policy.
// Content holds ciphertext when EncryptServer is set. Timestamps are unix
// seconds, Expiration 0 means never, BurnAfterReads 0 means unlimited.
type Pasta struct {
	ID             uint64     `json:"id"`
	Content        string     `json:"content"`
	File           *PastaFile `json:"file,omitempty"`
	Extension      string     `json:"extension"`
	Alias          string     `json:"custom_alias,omitempty"`
	Private        bool       `json:"private"`
	Readonly       bool       `json:"readonly"`
	Editable       bool       `json:"editable"`
	EncryptServer  bool       `json:"encrypt_server"`
	EncryptClient  bool       `json:"encrypt_client"`
	EncryptedKey   string     `json:"encrypted_key,omitempty"`
	Created        int64      `json:"created"`
	Expiration     int64      `json:"expiration"`
	LastRead       int64      `json:"last_read"`
	ReadCount      uint64     `json:"read_count"`
	BurnAfterReads uint64     `json:"burn_after_reads"`
	Type           string     `json:"pasta_type"`
}

// embeddable file suffixes, anything else is download-only
var embedExtensions = map[string]struct{}{
	"png": {}, "jpg": {}, "jpeg": {}, "gif": {}, "webp": {}, "svg": {}, "bmp": {},
	"mp4": {}, "webm": {}, "mov": {}, "avi": {},
}

// Expired checks the expiration timestamp against now
func (p *Pasta) Expired(now time.Time) bool {
	return p.Expiration != 0 && p.Expiration <= now.Unix()
}

// Burned checks burn-after-reads exhaustion
func (p *Pasta) Burned() bool {
	return p.BurnAfterReads > 0 && p.ReadCount >= p.BurnAfterReads
}

// Stale checks the days-since-last-read eviction threshold, 0 disables it
func (p *Pasta) Stale(now time.Time, gcDays int) bool {
	return gcDays > 0 && p.LastReadDaysAgo(now) >= gcDays
}

// Protected reports whether a password gates view/edit/delete
func (p *Pasta) Protected() bool {
	return p.EncryptServer || p.Readonly
}

// LastReadDaysAgo returns whole days since the last read
func (p *Pasta) LastReadDaysAgo(now time.Time) int {
	return int(now.Sub(time.Unix(p.LastRead, 0)).Hours() / 24)
}

// LastReadAgo formats time since last read in the largest coarse unit
// with value above one
func (p *Pasta) LastReadAgo(now time.Time) string {
	since := now.Sub(time.Unix(p.LastRead, 0))
	switch {
	case int(since.Hours()/24) > 1:
		return fmt.Sprintf("%d days ago", int(since.Hours()/24))
	case int(since.Hours()) > 1:
		return fmt.Sprintf("%d hours ago", int(since.Hours()))
	case int(since.Minutes()) > 1:
		return fmt.Sprintf("%d minutes ago", int(since.Minutes()))
	case int(since.Seconds()) > 1:
		return fmt.Sprintf("%d seconds ago", int(since.Seconds()))
	default:
		return "just now"
	}
}

// CreatedString formats the creation time for listings
func (p *Pasta) CreatedString() string {
	return time.Unix(p.Created, 0).Format("01-02 15:04")
}

// ExpirationString formats the expiration time, "Never" for eternal pastes
func (p *Pasta) ExpirationString() string {
	if p.Expiration == 0 {
		return "Never"
	}
	return time.Unix(p.Expiration, 0).Format("01-02 15:04")
}

// Embeddable reports whether the attachment can be inlined. Encrypted
// attachments are never embeddable, the bytes on disk are ciphertext.
func (p *Pasta) Embeddable() bool {
	if p.File == nil || p.EncryptServer || p.EncryptClient {
		return false
	}
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(p.File.Name), "."))
	_, ok := embedExtensions[ext]
	return ok
}

// ContentEscaped escapes content for template interpolation. Raw-text
// escapes (backslash, backtick, dollar) go first, then HTML escaping,
// so the HTML entities themselves don't get re-escaped.
func (p *Pasta) ContentEscaped() string {
	escaped := strings.NewReplacer(`\`, `\\`, "`", "\\`", `$`, `\$`).Replace(p.Content)
	return html.EscapeString(escaped)
}

// DetectType returns TypeURL iff content parses as exactly one well-formed
// absolute http(s) URL spanning the whole input
func DetectType(content string) string {
	trimmed := strings.TrimSpace(content)
	if trimmed != content || strings.ContainsAny(content, " \t\n\r") {
		return TypeText
	}
	u, err := url.ParseRequestURI(content)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return TypeText
	}
	return TypeURL
}
