// Package fileid derives deterministic identifiers for chunks, file contents,
// and repository snapshots.
package fileid

import (
	"crypto/sha1"
	"encoding/hex"
	"strconv"
	"strings"
)

const (
	// NoGitSHA is the repository state used when no revision can be resolved.
	NoGitSHA = "NO_GIT_SHA"

	contentPrefix = "sha1:"
	treePrefix    = "tree:"
	sep           = "|"
)

// ChunkID returns the stable identifier of a chunk. It is a SHA-1 hex digest of
// "repoState|path|startLine|blobState". Only path is free text; the other fields
// never contain the separator, so the encoding is unambiguous.
func ChunkID(repoState, path string, startLine int, blobState string) string {
	h := sha1.New()
	h.Write([]byte(repoState))
	h.Write([]byte(sep))
	h.Write([]byte(path))
	h.Write([]byte(sep))
	h.Write([]byte(strconv.Itoa(startLine)))
	h.Write([]byte(sep))
	h.Write([]byte(blobState))
	return hex.EncodeToString(h.Sum(nil))
}

// BlobState hashes a file's bytes. With gitStyle it returns the git blob object
// id, the same value "git hash-object" prints for a file without clean filters;
// otherwise "sha1:" followed by the digest of the raw bytes.
func BlobState(content []byte, gitStyle bool) string {
	if gitStyle {
		return GitBlobID(content)
	}
	sum := sha1.Sum(content)
	return contentPrefix + hex.EncodeToString(sum[:])
}

// GitBlobID returns the git object id of content stored as a blob.
func GitBlobID(content []byte) string {
	h := sha1.New()
	h.Write([]byte("blob " + strconv.Itoa(len(content)) + "\x00"))
	h.Write(content)
	return hex.EncodeToString(h.Sum(nil))
}

// TreeState hashes a snapshot from (path, blobState) entries. Entries must be
// sorted by path; the caller owns ordering so the value is reproducible.
func TreeState(entries []TreeEntry) string {
	h := sha1.New()
	for _, e := range entries {
		h.Write([]byte(e.Path))
		h.Write([]byte{0})
		h.Write([]byte(e.BlobState))
		h.Write([]byte{'\n'})
	}
	return treePrefix + hex.EncodeToString(h.Sum(nil))
}

// TreeEntry is one file in a TreeState computation.
type TreeEntry struct {
	Path      string
	BlobState string
}

// IsGitRevision reports whether state looks like a git commit id rather than a
// fallback value.
func IsGitRevision(state string) bool {
	if state == NoGitSHA || strings.HasPrefix(state, treePrefix) {
		return false
	}
	if len(state) != 40 && len(state) != 64 {
		return false
	}
	_, err := hex.DecodeString(state)
	return err == nil
}
