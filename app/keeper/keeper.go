// Package keeper owns the authoritative in-memory paste collection and its
// lifecycle: creation, password-gated reads and edits, deletion and the
// defensive garbage-collection sweep. The persistence engine and the crypto
// envelope are injected, keeper is the only writer to both the backend and
// the attachment directories. A single coarse mutex serializes everything,
// correctness over throughput at the expected collection sizes.
package keeper

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	log "github.com/go-pkgz/lgr"

	"github.com/pasta-sh/pasta/app/crypt"
	"github.com/pasta-sh/pasta/app/store"
)

// Typed failures surfaced to the transport layer
var (
	ErrNotFound         = errors.New("pasta not found")
	ErrPasswordRequired = errors.New("password required")
	ErrWrongPassword    = errors.New("wrong password")
	ErrNotEditable      = errors.New("pasta is not editable")
	ErrSizeExceeded     = errors.New("file too large")
	ErrNotURL           = errors.New("pasta is not a url")
)

// expiration tokens accepted at creation, seconds from now
var expiryTokens = map[string]int64{
	"1min":   60,
	"10min":  60 * 10,
	"1hour":  60 * 60,
	"24hour": 60 * 60 * 24,
	"3days":  60 * 60 * 24 * 3,
	"1week":  60 * 60 * 24 * 7,
	"never":  0,
}

const week = int64(60 * 60 * 24 * 7)

// Codec converts between numeric ids and their public string form
type Codec interface {
	Encode(id uint64) string
	DecodeOrZero(s string) uint64
}

// Crypter is the envelope for content and attachments
type Crypter interface {
	Encrypt(text, passphrase string) (string, error)
	Decrypt(encoded, passphrase string) (string, error)
	EncryptFile(path, passphrase string) error
	DecryptFile(encPath, passphrase string) ([]byte, error)
}

// Config holds the keeper's knobs, built once at startup
type Config struct {
	DataDir          string
	GCDays           int    // evict pastes not read for this many days, 0 disables
	NoEternal        bool   // downgrade "never" expiration to one week
	DefaultExpiry    string // token used when the request carries none
	MaxFileSizeMB    uint64 // plaintext attachment cap
	MaxEncFileSizeMB uint64 // encrypted attachment cap
	EnableAliases    bool
}

// Keeper is the collection manager
type Keeper struct {
	engine store.Engine
	codec  Codec
	crypt  Crypter
	cfg    Config

	lock   sync.Mutex
	pastas []*store.Pasta // ascending by created, the authoritative live set

	now func() time.Time
}

// NewPastaRequest is the validated creation input, decoded from the
// transport's multipart fields before any shared state is touched
type NewPastaRequest struct {
	Content        string
	Extension      string
	Expiration     string // token, e.g. "1hour"
	BurnAfterReads uint64
	Alias          string
	Private        bool
	Readonly       bool
	Editable       bool
	EncryptServer  bool
	EncryptClient  bool
	EncryptedKey   string // client-held key, stored encrypted, opaque to the server
	Password       string

	// attachment already streamed to a temp file by the caller
	FileName string
	FilePath string
	FileSize uint64
}

// New creates a Keeper and loads the full collection from the engine.
// A failed initial load or an uncreatable data dir is fatal to the caller,
// the process can't serve without its data.
func New(ctx context.Context, engine store.Engine, codec Codec, crypter Crypter, cfg Config) (*Keeper, error) {
	if cfg.DefaultExpiry == "" {
		cfg.DefaultExpiry = "24hour"
	}
	if cfg.MaxFileSizeMB == 0 {
		cfg.MaxFileSizeMB = 256
	}
	if cfg.MaxEncFileSizeMB == 0 {
		cfg.MaxEncFileSizeMB = cfg.MaxFileSizeMB
	}

	for _, dir := range []string{cfg.DataDir, filepath.Join(cfg.DataDir, "attachments"), filepath.Join(cfg.DataDir, "tmp")} {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}

	pastas, err := engine.ReadAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("load initial snapshot: %w", err)
	}
	log.Printf("[INFO] keeper loaded %d pastas, %+v", len(pastas), cfg)

	return &Keeper{engine: engine, codec: codec, crypt: crypter, cfg: cfg, pastas: pastas, now: time.Now}, nil
}

// Close closes the underlying engine
func (k *Keeper) Close() error { return k.engine.Close() }

// EncodeID returns the public string form of a numeric id
func (k *Keeper) EncodeID(id uint64) string { return k.codec.Encode(id) }

// TempDir is where callers stream uploads before handing them over
func (k *Keeper) TempDir() string { return filepath.Join(k.cfg.DataDir, "tmp") }

// MaxFileBytes returns the attachment byte ceiling for the given privacy mode
func (k *Keeper) MaxFileBytes(encrypted bool) uint64 {
	if encrypted {
		return k.cfg.MaxEncFileSizeMB * 1024 * 1024
	}
	return k.cfg.MaxFileSizeMB * 1024 * 1024
}

// Create makes a new paste from the request, assigns a random id, applies
// expiration/burn/encryption policy and persists it. The attachment temp
// file is moved into place, never copied, so the lock is not held across
// body-sized I/O.
func (k *Keeper) Create(ctx context.Context, req NewPastaRequest) (result *store.Pasta, err error) {
	if req.FilePath != "" && req.FileSize > k.MaxFileBytes(req.EncryptServer || req.EncryptClient) {
		_ = os.Remove(req.FilePath)
		return nil, ErrSizeExceeded
	}

	k.lock.Lock()
	defer k.lock.Unlock()
	k.sweep(ctx)

	now := k.now()
	p := &store.Pasta{
		ID:             k.uniqueID(),
		Content:        req.Content,
		Extension:      req.Extension,
		Private:        req.Private,
		Readonly:       req.Readonly,
		Editable:       req.Editable,
		EncryptClient:  req.EncryptClient,
		Created:        now.Unix(),
		LastRead:       now.Unix(),
		Expiration:     k.expirationFromToken(req.Expiration, now),
		BurnAfterReads: req.BurnAfterReads,
		Type:           store.DetectType(req.Content),
	}

	// a burn limit of one gets an extra read, the creator's own redirect
	// to the view page must not consume the visitor's only allotted read
	if p.BurnAfterReads == 1 {
		p.BurnAfterReads = 2
	}

	if k.cfg.EnableAliases && req.Alias != "" {
		p.Alias = req.Alias
	}

	if req.FilePath != "" {
		if err = k.attachFile(p, req); err != nil {
			return nil, err
		}
		p.Type = store.TypeText
	}

	if err = k.applyEncryption(p, req); err != nil {
		k.cleanupFiles(p)
		return nil, err
	}

	k.pastas = append(k.pastas, p)
	if err = k.engine.Insert(ctx, p); err != nil {
		k.pastas = k.pastas[:len(k.pastas)-1]
		k.cleanupFiles(p)
		return nil, fmt.Errorf("persist new pasta: %w", err)
	}

	log.Printf("[INFO] created pasta %s, type %s, expires %s", k.codec.Encode(p.ID), p.Type, p.ExpirationString())
	return k.snapshot(p), nil
}

// Get returns a readable copy of the paste. For encrypted pastes the copy
// carries decrypted content while the stored record stays encrypted, a
// successful view bumps read_count/last_read and persists the counters.
func (k *Keeper) Get(ctx context.Context, encodedID, password string) (*store.Pasta, error) {
	k.lock.Lock()
	defer k.lock.Unlock()
	k.sweep(ctx)

	p := k.find(encodedID)
	if p == nil {
		return nil, ErrNotFound
	}

	result := k.snapshot(p)
	if p.EncryptServer {
		if err := k.verifyPassword(p, password); err != nil {
			return nil, err
		}
		content, err := k.crypt.Decrypt(p.Content, password)
		if err != nil {
			return nil, ErrWrongPassword
		}
		result.Content = content
	} else if p.Readonly {
		if err := k.verifyPassword(p, password); err != nil {
			return nil, err
		}
	}

	k.countRead(ctx, p)
	result.ReadCount, result.LastRead = p.ReadCount, p.LastRead
	return result, nil
}

// GetURL returns the redirect target of a url-type paste, counting the
// access as a read
func (k *Keeper) GetURL(ctx context.Context, encodedID string) (string, error) {
	k.lock.Lock()
	defer k.lock.Unlock()
	k.sweep(ctx)

	p := k.find(encodedID)
	if p == nil {
		return "", ErrNotFound
	}
	if p.Type != store.TypeURL {
		return "", ErrNotURL
	}
	if p.EncryptServer {
		// the target itself is ciphertext, no redirect without the password
		return "", ErrPasswordRequired
	}

	k.countRead(ctx, p)
	return p.Content, nil
}

// GetFile returns the attachment bytes and the original file name,
// decrypting the data.enc sidecar on the fly for protected pastes
func (k *Keeper) GetFile(ctx context.Context, encodedID, password string) (data []byte, name string, err error) {
	k.lock.Lock()
	defer k.lock.Unlock()
	k.sweep(ctx)

	p := k.find(encodedID)
	if p == nil || p.File == nil {
		return nil, "", ErrNotFound
	}

	dir := k.attachmentDir(p)
	if !p.EncryptServer {
		if p.Readonly {
			if err = k.verifyPassword(p, password); err != nil {
				return nil, "", err
			}
		}
		data, err = os.ReadFile(filepath.Join(dir, p.File.Name)) //nolint:gosec // name sanitized at creation
		if err != nil {
			return nil, "", fmt.Errorf("read attachment: %w", err)
		}
		return data, p.File.Name, nil
	}

	if err = k.verifyPassword(p, password); err != nil {
		return nil, "", err
	}
	data, err = k.crypt.DecryptFile(filepath.Join(dir, crypt.EncFileName), password)
	if err != nil {
		return nil, "", ErrWrongPassword
	}
	return data, p.File.Name, nil
}

// Edit replaces the content of an editable paste, re-encrypting under the
// same key material when the paste is protected
func (k *Keeper) Edit(ctx context.Context, encodedID, password, content string) error {
	k.lock.Lock()
	defer k.lock.Unlock()
	k.sweep(ctx)

	p := k.find(encodedID)
	if p == nil {
		return ErrNotFound
	}
	if !p.Editable {
		return ErrNotEditable
	}

	if p.Protected() {
		if err := k.verifyPassword(p, password); err != nil {
			return err
		}
	}

	if p.EncryptServer {
		encrypted, err := k.crypt.Encrypt(content, password)
		if err != nil {
			return fmt.Errorf("re-encrypt content: %w", err)
		}
		p.Content = encrypted
	} else {
		p.Content = content
		p.Type = store.DetectType(content)
		if p.File != nil {
			p.Type = store.TypeText
		}
	}

	if err := k.engine.Update(ctx, p); err != nil {
		return fmt.Errorf("persist edited pasta: %w", err)
	}
	log.Printf("[INFO] edited pasta %s", encodedID)
	return nil
}

// Delete removes the paste, its backend record and its attachment
// directory. Protected pastes require password verification first.
func (k *Keeper) Delete(ctx context.Context, encodedID, password string) error {
	k.lock.Lock()
	defer k.lock.Unlock()
	k.sweep(ctx)

	for i, p := range k.pastas {
		if !k.matches(p, encodedID) {
			continue
		}
		if p.Protected() {
			if err := k.verifyPassword(p, password); err != nil {
				return err
			}
		}
		k.evict(ctx, p)
		k.pastas = append(k.pastas[:i], k.pastas[i+1:]...)
		return nil
	}
	return ErrNotFound
}

// List returns live pastes newest first, private entries filtered out
// unless includePrivate is set
func (k *Keeper) List(ctx context.Context, includePrivate bool) []*store.Pasta {
	k.lock.Lock()
	defer k.lock.Unlock()
	k.sweep(ctx)

	res := make([]*store.Pasta, 0, len(k.pastas))
	for _, p := range k.pastas {
		if p.Private && !includePrivate {
			continue
		}
		res = append(res, k.snapshot(p))
	}
	sort.Slice(res, func(a, b int) bool { return res[a].Created > res[b].Created })
	return res
}

// sweep evicts expired, burned-out and stale pastes. Called with the lock
// held at the start of every operation, there is no background timer.
// Backend and filesystem cleanup failures are logged, never fatal, the
// in-memory collection is the source of truth.
func (k *Keeper) sweep(ctx context.Context) {
	now := k.now()
	kept := k.pastas[:0]
	for _, p := range k.pastas {
		if p.Expired(now) || p.Burned() || p.Stale(now, k.cfg.GCDays) {
			log.Printf("[INFO] sweeping pasta %s, expired=%v burned=%v", k.codec.Encode(p.ID), p.Expired(now), p.Burned())
			k.evict(ctx, p)
			continue
		}
		kept = append(kept, p)
	}
	k.pastas = kept
}

// evict removes the backend record and the attachment directory,
// best-effort on the filesystem side
func (k *Keeper) evict(ctx context.Context, p *store.Pasta) {
	if err := k.engine.DeleteByID(ctx, p.ID); err != nil {
		log.Printf("[WARN] failed to delete pasta %d from backend: %v", p.ID, err)
	}
	k.cleanupFiles(p)
}

func (k *Keeper) cleanupFiles(p *store.Pasta) {
	if p.File == nil {
		return
	}
	if err := os.RemoveAll(k.attachmentDir(p)); err != nil {
		log.Printf("[WARN] failed to delete attachment dir for %d: %v", p.ID, err)
	}
}

// countRead bumps the counters on the stored record and persists them.
// A persistence failure doesn't fail the read, the content is already
// served from the snapshot.
func (k *Keeper) countRead(ctx context.Context, p *store.Pasta) {
	p.ReadCount++
	p.LastRead = k.now().Unix()
	if err := k.engine.Update(ctx, p); err != nil {
		log.Printf("[WARN] failed to persist read counters for %d: %v", p.ID, err)
	}
}

// find returns the live paste matching the public identifier, nil if none.
// Decode failures collapse to id 0, a guaranteed miss for random ids.
func (k *Keeper) find(encodedID string) *store.Pasta {
	for _, p := range k.pastas {
		if k.matches(p, encodedID) {
			return p
		}
	}
	return nil
}

// matches checks alias first, then the decoded numeric id. An alias that
// spells a valid encoding wins over the id it would decode to.
func (k *Keeper) matches(p *store.Pasta, encodedID string) bool {
	if k.cfg.EnableAliases && p.Alias != "" && p.Alias == encodedID {
		return true
	}
	return p.ID == k.codec.DecodeOrZero(encodedID)
}

// verifyPassword checks a submitted password against the paste. The check
// is an attempted decryption, the authenticated cipher's tamper detection
// doubles as the wrong-password detector.
func (k *Keeper) verifyPassword(p *store.Pasta, password string) error {
	if password == "" {
		return ErrPasswordRequired
	}
	if p.EncryptedKey != "" {
		plain, err := k.crypt.Decrypt(p.EncryptedKey, password)
		if err != nil || plain != strconv.FormatUint(p.ID, 10) {
			return ErrWrongPassword
		}
		return nil
	}
	if p.EncryptServer {
		if _, err := k.crypt.Decrypt(p.Content, password); err != nil {
			return ErrWrongPassword
		}
	}
	return nil
}

// attachFile moves the pre-streamed temp file into the paste's attachment
// directory, named by the encoded id
func (k *Keeper) attachFile(p *store.Pasta, req NewPastaRequest) error {
	file, err := store.FileFromUnsanitized(req.FileName)
	if err != nil {
		_ = os.Remove(req.FilePath)
		return fmt.Errorf("bad attachment name: %w", err)
	}
	file.Size = req.FileSize

	dir := k.attachmentDir(p)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		_ = os.Remove(req.FilePath)
		return fmt.Errorf("create attachment dir: %w", err)
	}
	if err := os.Rename(req.FilePath, filepath.Join(dir, file.Name)); err != nil {
		_ = os.Remove(req.FilePath)
		return fmt.Errorf("move attachment into place: %w", err)
	}
	p.File = file
	return nil
}

// applyEncryption seals content, attachment and the id-bearing key before
// the first persist, nothing plaintext ever reaches the backend for
// encrypted pastes
func (k *Keeper) applyEncryption(p *store.Pasta, req NewPastaRequest) error {
	if req.EncryptClient {
		// server stores the opaque blob and the encrypted copy of the
		// client's key as-is, it can't inspect either
		p.EncryptedKey = req.EncryptedKey
		return nil
	}

	needKey := req.Readonly
	if req.EncryptServer && req.Password != "" {
		encrypted, err := k.crypt.Encrypt(p.Content, req.Password)
		if err != nil {
			return fmt.Errorf("encrypt content: %w", err)
		}
		p.Content = encrypted
		p.EncryptServer = true

		if p.File != nil {
			if err := k.crypt.EncryptFile(filepath.Join(k.attachmentDir(p), p.File.Name), req.Password); err != nil {
				return fmt.Errorf("encrypt attachment: %w", err)
			}
		}
		if p.Content == "" {
			needKey = true // file-only paste, nothing to verify the password against
		}
	}

	if needKey && req.Password != "" {
		sealed, err := k.crypt.Encrypt(strconv.FormatUint(p.ID, 10), req.Password)
		if err != nil {
			return fmt.Errorf("seal password key: %w", err)
		}
		p.EncryptedKey = sealed
	}
	return nil
}

// expirationFromToken maps a symbolic duration to an absolute timestamp.
// Unknown tokens and gated "never" degrade to one week.
func (k *Keeper) expirationFromToken(token string, now time.Time) int64 {
	if token == "" {
		token = k.cfg.DefaultExpiry
	}
	secs, ok := expiryTokens[token]
	if !ok {
		log.Printf("[WARN] unexpected expiration token %q, defaulting to one week", token)
		return now.Unix() + week
	}
	if secs == 0 {
		if k.cfg.NoEternal {
			return now.Unix() + week
		}
		return 0
	}
	return now.Unix() + secs
}

// uniqueID draws a random positive id and retries on collision with the
// live set. Called with the lock held.
func (k *Keeper) uniqueID() uint64 {
	for {
		var buf [8]byte
		if _, err := rand.Read(buf[:]); err != nil {
			panic("failed to read from random source: " + err.Error())
		}
		id := binary.BigEndian.Uint64(buf[:]) >> 1 // keep it in the positive int64 range for the hashids codec
		if id == 0 {
			continue // zero is the decode-failure sentinel
		}
		collision := false
		for _, p := range k.pastas {
			if p.ID == id {
				collision = true
				break
			}
		}
		if !collision {
			return id
		}
	}
}

func (k *Keeper) attachmentDir(p *store.Pasta) string {
	return filepath.Join(k.cfg.DataDir, "attachments", k.codec.Encode(p.ID))
}

// snapshot returns a defensive copy, callers never see the stored record
func (k *Keeper) snapshot(p *store.Pasta) *store.Pasta {
	cp := *p
	if p.File != nil {
		f := *p.File
		cp.File = &f
	}
	return &cp
}
