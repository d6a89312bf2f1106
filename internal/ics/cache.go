package ics

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/m-mizutani/goerr/v2"
)

const (
	cacheBodyFile = "body.ics"
	cacheMetaFile = "meta.json"
)

// validators are the HTTP cache headers stored next to a cached body.
type validators struct {
	URL          string    `json:"url"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	StoredAt     time.Time `json:"stored_at"`
}

func (v validators) apply(req *http.Request) {
	if v.ETag != "" {
		req.Header.Set("If-None-Match", v.ETag)
	}
	if v.LastModified != "" {
		req.Header.Set("If-Modified-Since", v.LastModified)
	}
}

// diskCache keeps one directory per feed URL.
type diskCache struct {
	dir string
}

func cacheKey(rawURL string) string {
	sum := sha256.Sum256([]byte(rawURL))
	return hex.EncodeToString(sum[:8])
}

// load returns the stored validators and body. Without a body the
// validators are dropped too, so the origin is never asked for a 304 that
// cannot be served.
func (c diskCache) load(key string) (validators, []byte) {
	dir := filepath.Join(c.dir, key)
	body, err := os.ReadFile(filepath.Join(dir, cacheBodyFile))
	if err != nil {
		return validators{}, nil
	}

	var v validators
	if data, err := os.ReadFile(filepath.Join(dir, cacheMetaFile)); err == nil {
		if err := json.Unmarshal(data, &v); err != nil {
			v = validators{}
		}
	}
	return v, body
}

// store writes the body before the validators so metadata never refers to a
// body that is not on disk.
func (c diskCache) store(key string, v validators, body []byte) error {
	dir := filepath.Join(c.dir, key)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return goerr.Wrap(err, "failed to create ICS cache dir", goerr.V("dir", dir))
	}
	if err := writeFileAtomic(filepath.Join(dir, cacheBodyFile), body); err != nil {
		return err
	}

	v.StoredAt = time.Now().UTC()
	data, err := json.MarshalIndent(&v, "", "  ")
	if err != nil {
		return goerr.Wrap(err, "failed to encode ICS cache metadata")
	}
	return writeFileAtomic(filepath.Join(dir, cacheMetaFile), data)
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return goerr.Wrap(err, "failed to create temp file", goerr.V("path", path))
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return goerr.Wrap(err, "failed to write temp file", goerr.V("path", path))
	}
	if err := tmp.Close(); err != nil {
		return goerr.Wrap(err, "failed to close temp file", goerr.V("path", path))
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return goerr.Wrap(err, "failed to chmod temp file", goerr.V("path", path))
	}
	if err := os.Rename(tmpName, path); err != nil {
		return goerr.Wrap(err, "failed to replace file", goerr.V("path", path))
	}
	return nil
}
