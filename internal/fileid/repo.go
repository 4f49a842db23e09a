package fileid

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sort"
	"strings"
)

// ErrNoRevision is returned when the root is not inside a git work tree or git
// is not installed.
var ErrNoRevision = errors.New("no git revision")

// Fallback modes for RepoState when git is unavailable.
const (
	FallbackSentinel = "sentinel"
	FallbackTree     = "tree"
)

// GitInstalled reports whether a git binary is on PATH. Blob states are git
// blob ids whenever it is, inside a work tree or not, as "git hash-object"
// needs no repository.
func GitInstalled() bool {
	_, err := exec.LookPath("git")
	return err == nil
}

// GitRevision returns "git rev-parse HEAD" for the repository containing root.
func GitRevision(ctx context.Context, root string) (string, error) {
	if !GitInstalled() {
		return "", fmt.Errorf("%w: git not installed", ErrNoRevision)
	}
	cmd := exec.CommandContext(ctx, "git", "rev-parse", "HEAD")
	cmd.Dir = root
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNoRevision, err)
	}
	rev := strings.TrimSpace(string(out))
	if !IsGitRevision(rev) {
		return "", fmt.Errorf("%w: unexpected output %q", ErrNoRevision, rev)
	}
	return rev, nil
}

// RepoState names the snapshot being ingested. It prefers the git revision of
// root; otherwise mode selects the fallback: FallbackSentinel yields NoGitSHA,
// FallbackTree hashes the entries returned by entries. fromGit reports whether
// the state is a git revision.
func RepoState(ctx context.Context, root, mode string, entries func() ([]TreeEntry, error)) (state string, fromGit bool, err error) {
	rev, err := GitRevision(ctx, root)
	if err == nil {
		return rev, true, nil
	}
	if !errors.Is(err, ErrNoRevision) {
		return "", false, err
	}
	switch mode {
	case FallbackTree:
		if entries == nil {
			return "", false, errors.New("tree fallback needs file entries")
		}
		list, err := entries()
		if err != nil {
			return "", false, fmt.Errorf("hashing tree: %w", err)
		}
		sort.Slice(list, func(i, j int) bool { return list[i].Path < list[j].Path })
		return TreeState(list), false, nil
	case FallbackSentinel, "":
		return NoGitSHA, false, nil
	default:
		return "", false, fmt.Errorf("unknown repo state fallback %q", mode)
	}
}
