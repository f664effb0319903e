package store

import (
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	s, err := New(Options{
		Root:         t.TempDir(),
		SigningKey:   []byte("test-signing-key"),
		PublicPrefix: "/v1/files",
		ArtifactTTL:  time.Minute,
	})
	require.Nil(t, err)
	return s
}

func TestStoreUploadAndLookup(t *testing.T) {
	s := newTestStore(t)

	desc, err := s.StoreUpload("input.txt", "text/plain", strings.NewReader("hello"))
	require.Nil(t, err)
	require.Equal(t, int64(5), desc.SizeBytes)
	require.NotEmpty(t, desc.SHA256)

	found, err := s.LookupUpload(desc.ID)
	require.Nil(t, err)
	require.Equal(t, desc.SHA256, found.SHA256)
	require.Equal(t, desc.Name, found.Name)
}

func TestLookupUploadMissing(t *testing.T) {
	s := newTestStore(t)
	_, err := s.LookupUpload("file_doesnotexist")
	require.NotNil(t, err)
}

func TestIngestArtifactMintsVerifiableURL(t *testing.T) {
	s := newTestStore(t)

	dir := t.TempDir()
	srcPath := dir + "/report.txt"
	require.Nil(t, writeFile(srcPath, "ok"))

	art, err := s.IngestArtifact("report.txt", "text/plain", srcPath)
	require.Nil(t, err)
	require.Equal(t, int64(2), art.SizeBytes)

	_, q, found := strings.Cut(art.URL, "?")
	require.True(t, found)
	params := parseQuery(q)

	urlPath, _, _ := strings.Cut(art.URL, "?")
	err2 := s.signer.Verify(urlPath, params["payload"], params["sig"], time.Now())
	require.Nil(t, err2)
}

func TestVerifyRejectsTamperedSignature(t *testing.T) {
	s := newTestStore(t)
	dir := t.TempDir()
	srcPath := dir + "/report.txt"
	require.Nil(t, writeFile(srcPath, "ok"))

	art, err := s.IngestArtifact("report.txt", "text/plain", srcPath)
	require.Nil(t, err)

	urlPath, q, _ := strings.Cut(art.URL, "?")
	params := parseQuery(q)

	err2 := s.signer.Verify(urlPath, params["payload"], params["sig"]+"00", time.Now())
	require.NotNil(t, err2)
}

func TestVerifyRejectsExpiredURL(t *testing.T) {
	s := newTestStore(t)
	dir := t.TempDir()
	srcPath := dir + "/report.txt"
	require.Nil(t, writeFile(srcPath, "ok"))

	art, err := s.IngestArtifact("report.txt", "text/plain", srcPath)
	require.Nil(t, err)

	urlPath, q, _ := strings.Cut(art.URL, "?")
	params := parseQuery(q)

	future := time.Now().Add(time.Hour)
	err2 := s.signer.Verify(urlPath, params["payload"], params["sig"], future)
	require.NotNil(t, err2)
}

func writeFile(path, contents string) error {
	return os.WriteFile(path, []byte(contents), 0600)
}

func parseQuery(q string) map[string]string {
	out := map[string]string{}
	for _, part := range strings.Split(q, "&") {
		k, v, _ := strings.Cut(part, "=")
		out[k] = v
	}
	return out
}
