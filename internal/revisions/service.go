// Package revisions keeps the history of every post as a git repository of its own. Each
// save that changes the post's content or headline fields becomes one commit.
package revisions

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/sirupsen/logrus"

	"blogdesk/api/internal/errs"
	"blogdesk/api/internal/logging"
)

const (
	contentFile = "post.html"
	metaFile    = "post.json"
)

var validPostID = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// Snapshot is the part of a post that is versioned.
type Snapshot struct {
	Title       string `json:"title"`
	Slug        string `json:"slug"`
	Status      string `json:"status"`
	ContentHTML string `json:"-"`
}

// Revision describes one commit of a post.
type Revision struct {
	Hash      string    `json:"hash"`
	Message   string    `json:"message"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"createdAt"`
	Added     int       `json:"added"`
	Removed   int       `json:"removed"`
}

type Service struct {
	baseDir string
	log     *logrus.Entry
	lockMu  sync.Mutex
	locks   map[string]*sync.Mutex
}

func New(baseDir string, logger logrus.FieldLogger) *Service {
	return &Service{
		baseDir: baseDir,
		log:     logging.Component(logger, "revisions"),
		locks:   make(map[string]*sync.Mutex),
	}
}

// Record commits snap as the post's newest revision. When nothing differs from the previous
// revision no commit is made and changed is false.
func (s *Service) Record(postID string, snap Snapshot, author, message string) (rev Revision, changed bool, err error) {
	const op = "revisions.Record"
	if !validPostID.MatchString(postID) {
		return Revision{}, false, errs.Validationf(op, "invalid post id %q", postID)
	}
	lock := s.postLock(postID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.openOrInit(postID)
	if err != nil {
		return Revision{}, false, errs.E(errs.Network, op, "open repository", err)
	}
	worktree, err := repo.Worktree()
	if err != nil {
		return Revision{}, false, fmt.Errorf("open worktree: %w", err)
	}

	meta, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return Revision{}, false, fmt.Errorf("marshal snapshot: %w", err)
	}
	root := worktree.Filesystem.Root()
	if err := os.WriteFile(filepath.Join(root, contentFile), []byte(snap.ContentHTML), 0o644); err != nil {
		return Revision{}, false, fmt.Errorf("write %s: %w", contentFile, err)
	}
	if err := os.WriteFile(filepath.Join(root, metaFile), append(meta, '\n'), 0o644); err != nil {
		return Revision{}, false, fmt.Errorf("write %s: %w", metaFile, err)
	}
	for _, name := range []string{contentFile, metaFile} {
		if _, err := worktree.Add(name); err != nil {
			return Revision{}, false, fmt.Errorf("git add %s: %w", name, err)
		}
	}

	status, err := worktree.Status()
	if err != nil {
		return Revision{}, false, fmt.Errorf("worktree status: %w", err)
	}
	if status.IsClean() {
		head, err := headCommit(repo)
		if err != nil {
			return Revision{}, false, err
		}
		return toRevision(head), false, nil
	}

	if message == "" {
		message = "Update post"
	}
	if author == "" {
		author = "blogdesk"
	}
	hash, err := worktree.Commit(message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  author,
			Email: fmt.Sprintf("%s@local.blogdesk.dev", sanitizeEmail(author)),
			When:  time.Now(),
		},
	})
	if err != nil {
		return Revision{}, false, fmt.Errorf("commit post: %w", err)
	}
	commit, err := repo.CommitObject(hash)
	if err != nil {
		return Revision{}, false, fmt.Errorf("read commit object: %w", err)
	}
	rev = toRevision(commit)
	rev.Added, rev.Removed = lineStats(commit)
	s.log.WithFields(logrus.Fields{"post_id": postID, "hash": rev.Hash}).Debug("revision recorded")
	return rev, true, nil
}

// History lists a post's revisions, newest first. A post without history has none.
func (s *Service) History(postID string, limit int) ([]Revision, error) {
	const op = "revisions.History"
	if !validPostID.MatchString(postID) {
		return nil, errs.Validationf(op, "invalid post id %q", postID)
	}
	lock := s.postLock(postID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(postID))
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return []Revision{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}
	head, err := repo.Head()
	if err != nil {
		return nil, fmt.Errorf("resolve head: %w", err)
	}

	iter, err := repo.Log(&git.LogOptions{From: head.Hash()})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	items := make([]Revision, 0, max(limit, 0))
	err = iter.ForEach(func(commit *object.Commit) error {
		rev := toRevision(commit)
		rev.Added, rev.Removed = lineStats(commit)
		items = append(items, rev)
		if limit > 0 && len(items) >= limit {
			return io.EOF
		}
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("iterate log: %w", err)
	}
	return items, nil
}

// Get returns the post as it was at the given revision. hash may be abbreviated.
func (s *Service) Get(postID, hash string) (Snapshot, Revision, error) {
	const op = "revisions.Get"
	if !validPostID.MatchString(postID) {
		return Snapshot{}, Revision{}, errs.Validationf(op, "invalid post id %q", postID)
	}
	lock := s.postLock(postID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(postID))
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return Snapshot{}, Revision{}, errs.E(errs.NotFound, op, "post has no revisions", nil)
	}
	if err != nil {
		return Snapshot{}, Revision{}, fmt.Errorf("open repo: %w", err)
	}
	resolved, err := repo.ResolveRevision(plumbing.Revision(hash))
	if err != nil {
		return Snapshot{}, Revision{}, errs.E(errs.NotFound, op, "revision "+hash+" not found", err)
	}
	commit, err := repo.CommitObject(*resolved)
	if err != nil {
		return Snapshot{}, Revision{}, errs.E(errs.NotFound, op, "revision "+hash+" not found", err)
	}
	snap, err := readSnapshot(commit)
	if err != nil {
		return Snapshot{}, Revision{}, err
	}
	rev := toRevision(commit)
	rev.Added, rev.Removed = lineStats(commit)
	return snap, rev, nil
}

func (s *Service) repoPath(postID string) string {
	return filepath.Join(s.baseDir, postID)
}

func (s *Service) postLock(postID string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[postID]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	s.locks[postID] = lock
	return lock
}

func (s *Service) openOrInit(postID string) (*git.Repository, error) {
	path := s.repoPath(postID)
	repo, err := git.PlainOpen(path)
	if err == nil {
		return repo, nil
	}
	if !errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, fmt.Errorf("open repo: %w", err)
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create repo dir: %w", err)
	}
	repo, err = git.PlainInitWithOptions(path, &git.PlainInitOptions{
		InitOptions: git.InitOptions{DefaultBranch: plumbing.Main},
	})
	if err != nil {
		return nil, fmt.Errorf("init repo: %w", err)
	}
	return repo, nil
}

func headCommit(repo *git.Repository) (*object.Commit, error) {
	head, err := repo.Head()
	if err != nil {
		return nil, fmt.Errorf("resolve head: %w", err)
	}
	commit, err := repo.CommitObject(head.Hash())
	if err != nil {
		return nil, fmt.Errorf("load head commit: %w", err)
	}
	return commit, nil
}

func readSnapshot(commit *object.Commit) (Snapshot, error) {
	var snap Snapshot
	raw, err := readFile(commit, metaFile)
	if err != nil {
		return Snapshot{}, err
	}
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		return Snapshot{}, fmt.Errorf("decode %s: %w", metaFile, err)
	}
	if snap.ContentHTML, err = readFile(commit, contentFile); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

func readFile(commit *object.Commit, name string) (string, error) {
	file, err := commit.File(name)
	if err != nil {
		return "", fmt.Errorf("load %s from commit: %w", name, err)
	}
	contents, err := file.Contents()
	if err != nil {
		return "", fmt.Errorf("read %s: %w", name, err)
	}
	return contents, nil
}

// lineStats counts lines added and removed by the commit. Stats that cannot be computed
// count as zero.
func lineStats(commit *object.Commit) (added, removed int) {
	stats, err := commit.Stats()
	if err != nil {
		return 0, 0
	}
	for _, st := range stats {
		added += st.Addition
		removed += st.Deletion
	}
	return added, removed
}

func toRevision(commit *object.Commit) Revision {
	return Revision{
		Hash:      commit.Hash.String()[:7],
		Message:   commit.Message,
		Author:    commit.Author.Name,
		CreatedAt: commit.Author.When,
	}
}

func sanitizeEmail(input string) string {
	out := make([]rune, 0, len(input))
	for _, r := range input {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			out = append(out, r)
			continue
		}
		if r == ' ' || r == '-' || r == '_' {
			out = append(out, '.')
		}
	}
	if len(out) == 0 {
		return "user"
	}
	return string(out)
}
