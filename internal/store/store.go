// Package store implements the content-addressed artifact store of spec
// §4.2: persisting uploaded inputs and produced outputs under id-named
// directories with a JSON metadata sidecar, and minting/verifying
// HMAC-signed, time-limited download URLs.
package store

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"hash"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/go-stack/stack"
	"github.com/jjeffery/kv"

	"github.com/forgerun/execgw/internal/execmodel"
)

const idAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
const idLength = 12

// newID draws idLength characters uniformly from a 62-character alphabet
// using crypto/rand, the same house style the teacher uses for secret
// material in internal/defense/block_crypto.go. Collisions are not checked;
// at this id space the probability is negligible at expected scale.
func newID(prefix string) (id string, err kv.Error) {
	// Bytes at or above the largest multiple of the alphabet size that fits
	// in a byte are discarded, so the modulo below does not favor the first
	// characters of the alphabet.
	limit := 256 - 256%len(idAlphabet)
	buf := make([]byte, idLength)
	out := make([]byte, 0, idLength)
	for len(out) < idLength {
		if _, errGo := io.ReadFull(rand.Reader, buf); errGo != nil {
			return "", kv.Wrap(errGo, "could not generate id").With("stack", stack.Trace().TrimRuntime())
		}
		for _, b := range buf {
			if int(b) < limit && len(out) < idLength {
				out = append(out, idAlphabet[int(b)%len(idAlphabet)])
			}
		}
	}
	return prefix + string(out), nil
}

// NewFileID mints an uploaded-file id ("file_" + 12 alphanumeric chars).
func NewFileID() (string, kv.Error) { return newID("file_") }

// NewRunID mints a run id ("run_" + 12 alphanumeric chars), drawn from the
// same generator so both id spaces share their collision-resistance
// properties.
func NewRunID() (string, kv.Error) { return newID("run_") }

// sidecar is the on-disk metadata record stored beside each file.
type sidecar struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	SizeBytes   int64     `json:"size_bytes"`
	SHA256      string    `json:"sha256"`
	ContentType string    `json:"content_type"`
	CreatedAt   time.Time `json:"created_at"`
}

// Store is the content-addressed store rooted at a single directory
// containing uploads/ and artifacts/ subdirectories.
type Store struct {
	root   string
	signer *Signer
	mirror *Mirror // optional, nil when no remote mirror is configured
}

// Options configures a Store.
type Options struct {
	Root         string
	SigningKey   []byte
	PublicPrefix string        // URL path prefix used when minting signed URLs, e.g. "/v1/files" or "/v1/artifacts"
	ArtifactTTL  time.Duration // default 10 minutes when zero
	Mirror       *Mirror       // optional
}

// New creates a Store rooted at opts.Root, creating the uploads/ and
// artifacts/ subdirectories if needed.
func New(opts Options) (s *Store, err kv.Error) {
	if opts.ArtifactTTL <= 0 {
		opts.ArtifactTTL = 10 * time.Minute
	}
	for _, sub := range []string{"uploads", "artifacts"} {
		if errGo := os.MkdirAll(filepath.Join(opts.Root, sub), 0700); errGo != nil {
			return nil, kv.Wrap(errGo).With("dir", sub, "stack", stack.Trace().TrimRuntime())
		}
	}
	return &Store{
		root:   opts.Root,
		signer: NewSigner(opts.SigningKey, opts.PublicPrefix, opts.ArtifactTTL),
		mirror: opts.Mirror,
	}, nil
}

func (s *Store) dir(group, id string) string {
	return filepath.Join(s.root, group, id)
}

// StoreUpload persists an uploaded input file read from r, computing its
// SHA-256 during the copy and writing the sidecar metadata. Uploaded files
// are immutable: the hash is computed once, here, and never recomputed.
func (s *Store) StoreUpload(name, contentType string, r io.Reader) (desc execmodel.UploadedFile, err kv.Error) {
	id, err := NewFileID()
	if err != nil {
		return desc, err
	}

	dir := s.dir("uploads", id)
	if errGo := os.MkdirAll(dir, 0700); errGo != nil {
		return desc, kv.Wrap(errGo).With("stack", stack.Trace().TrimRuntime())
	}

	dest := filepath.Join(dir, name)
	f, errGo := os.Create(dest)
	if errGo != nil {
		return desc, kv.Wrap(errGo).With("stack", stack.Trace().TrimRuntime())
	}
	defer f.Close()

	h := sha256.New()
	size, errGo := io.Copy(io.MultiWriter(f, h), r)
	if errGo != nil {
		return desc, kv.Wrap(errGo).With("stack", stack.Trace().TrimRuntime())
	}

	now := time.Now()
	sc := sidecar{
		ID:          id,
		Name:        name,
		SizeBytes:   size,
		SHA256:      hexDigest(h),
		ContentType: contentType,
		CreatedAt:   now,
	}
	if err := writeSidecar(dir, sc); err != nil {
		return desc, err
	}

	return execmodel.UploadedFile{
		ID:          id,
		Name:        name,
		SizeBytes:   size,
		SHA256:      sc.SHA256,
		ContentType: contentType,
		Path:        dest,
		CreatedAt:   now,
	}, nil
}

// LookupUpload returns the descriptor for a previously uploaded file by id.
func (s *Store) LookupUpload(id string) (desc execmodel.UploadedFile, err kv.Error) {
	dir := s.dir("uploads", id)
	sc, err := readSidecar(dir)
	if err != nil {
		return desc, err
	}
	return execmodel.UploadedFile{
		ID:          sc.ID,
		Name:        sc.Name,
		SizeBytes:   sc.SizeBytes,
		SHA256:      sc.SHA256,
		ContentType: sc.ContentType,
		Path:        filepath.Join(dir, sc.Name),
		CreatedAt:   sc.CreatedAt,
	}, nil
}

// IngestArtifact moves a produced output file from the run workdir into a
// fresh artifact directory, hashing it during the copy, and returns a
// descriptor whose URL is signed with the store's configured TTL. The
// source file is removed on success.
func (s *Store) IngestArtifact(name, contentType, srcPath string) (art execmodel.Artifact, err kv.Error) {
	id, err := NewFileID()
	if err != nil {
		return art, err
	}

	dir := s.dir("artifacts", id)
	if errGo := os.MkdirAll(dir, 0700); errGo != nil {
		return art, kv.Wrap(errGo).With("stack", stack.Trace().TrimRuntime())
	}

	src, errGo := os.Open(filepath.Clean(srcPath))
	if errGo != nil {
		return art, kv.Wrap(errGo).With("stack", stack.Trace().TrimRuntime())
	}
	defer src.Close()

	dest := filepath.Join(dir, name)
	dst, errGo := os.Create(dest)
	if errGo != nil {
		return art, kv.Wrap(errGo).With("stack", stack.Trace().TrimRuntime())
	}

	h := sha256.New()
	size, errGo := io.Copy(io.MultiWriter(dst, h), src)
	dst.Close()
	if errGo != nil {
		return art, kv.Wrap(errGo).With("stack", stack.Trace().TrimRuntime())
	}

	sha := hexDigest(h)
	now := time.Now()
	if err := writeSidecar(dir, sidecar{ID: id, Name: name, SizeBytes: size, SHA256: sha, ContentType: contentType, CreatedAt: now}); err != nil {
		return art, err
	}

	_ = os.Remove(srcPath)

	urlPath := filepath.ToSlash(filepath.Join(s.signer.publicPrefix, id))
	signedURL, expiresAt, err := s.signer.Sign(urlPath)
	if err != nil {
		return art, err
	}

	if s.mirror != nil {
		s.mirror.Enqueue(id, dest, contentType)
	}

	return execmodel.Artifact{
		Name:        name,
		SizeBytes:   size,
		SHA256:      sha,
		URL:         signedURL,
		ExpiresAt:   expiresAt,
		ContentType: contentType,
	}, nil
}

// Verify checks a request path and its "payload"/"sig" query parameters
// against this store's signer (spec §4.2). Callers must call this before
// OpenArtifact to authorize the download.
func (s *Store) Verify(requestPath, payloadParam, sigParam string, now time.Time) error {
	return s.signer.Verify(requestPath, payloadParam, sigParam, now)
}

// OpenArtifact resolves the verified URL path of an artifact to its file
// descriptor for streaming. Callers must have already verified the signed
// URL via Verify before calling this.
func (s *Store) OpenArtifact(id string) (path, contentType string, err kv.Error) {
	dir := s.dir("artifacts", id)
	sc, err := readSidecar(dir)
	if err != nil {
		return "", "", err
	}
	return filepath.Join(dir, sc.Name), sc.ContentType, nil
}

func hexDigest(h hash.Hash) string {
	return hex.EncodeToString(h.Sum(nil))
}

func writeSidecar(dir string, sc sidecar) (err kv.Error) {
	buf, errGo := json.Marshal(sc)
	if errGo != nil {
		return kv.Wrap(errGo).With("stack", stack.Trace().TrimRuntime())
	}
	if errGo := os.WriteFile(filepath.Join(dir, "meta.json"), buf, 0600); errGo != nil {
		return kv.Wrap(errGo).With("stack", stack.Trace().TrimRuntime())
	}
	return nil
}

func readSidecar(dir string) (sc sidecar, err kv.Error) {
	buf, errGo := os.ReadFile(filepath.Join(dir, "meta.json"))
	if errGo != nil {
		if os.IsNotExist(errGo) {
			return sc, kv.NewError("not found").With("dir", dir, "stack", stack.Trace().TrimRuntime())
		}
		return sc, kv.Wrap(errGo).With("stack", stack.Trace().TrimRuntime())
	}
	if errGo := json.Unmarshal(buf, &sc); errGo != nil {
		return sc, kv.Wrap(errGo).With("stack", stack.Trace().TrimRuntime())
	}
	return sc, nil
}
