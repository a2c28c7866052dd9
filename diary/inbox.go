package diary

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/alexjbarnes/diary-sync/internal/models"
	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

const importedDir = "imported"

// draftFrontmatter holds the optional YAML header of a draft file.
type draftFrontmatter struct {
	Date    string `yaml:"date"`
	Mood    string `yaml:"mood"`
	MoodTag string `yaml:"mood_tag"`
	Weather string `yaml:"weather"`
	Image   string `yaml:"image"`
}

// draftSaver is the part of Syncer the inbox writes through.
type draftSaver interface {
	SaveEntry(d Draft) (models.Entry, error)
	EntryByDate(date string) *models.Entry
}

// Inbox imports markdown drafts dropped into a directory as diary
// entries. A draft for a date that already has an entry updates it.
// Imported files are moved to an imported/ subdirectory.
type Inbox struct {
	dir    string
	saver  draftSaver
	logger *slog.Logger
	now    func() time.Time
}

// NewInbox creates an inbox over dir.
func NewInbox(dir string, saver draftSaver, logger *slog.Logger) *Inbox {
	return &Inbox{
		dir:    dir,
		saver:  saver,
		logger: orDiscard(logger),
		now:    time.Now,
	}
}

// Watch imports existing drafts, then watches dir for new or changed
// ones until ctx is cancelled.
func (in *Inbox) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer watcher.Close()

	if err := os.MkdirAll(in.dir, 0o755); err != nil {
		return fmt.Errorf("creating drafts dir: %w", err)
	}
	if err := watcher.Add(in.dir); err != nil {
		return fmt.Errorf("watching drafts dir: %w", err)
	}

	in.logger.Info("drafts inbox started", slog.String("dir", in.dir))
	in.ImportAll()

	// Debounce: editors write in several steps.
	pending := make(map[string]time.Time)
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("fsnotify events channel closed unexpectedly")
			}
			if !isDraft(event.Name) {
				continue
			}
			if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) {
				pending[event.Name] = time.Now()
			}
			if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				delete(pending, event.Name)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("fsnotify errors channel closed unexpectedly")
			}
			in.logger.Warn("watcher error", slog.String("error", err.Error()))

		case <-ticker.C:
			now := time.Now()
			for path, t := range pending {
				if now.Sub(t) < 300*time.Millisecond {
					continue
				}
				delete(pending, path)
				in.importLogged(path)
			}
		}
	}
}

// ImportAll imports every draft currently in the inbox and returns how
// many succeeded.
func (in *Inbox) ImportAll() int {
	names, err := os.ReadDir(in.dir)
	if err != nil {
		in.logger.Warn("listing drafts", slog.String("error", err.Error()))
		return 0
	}

	var n int
	for _, de := range names {
		path := filepath.Join(in.dir, de.Name())
		if de.IsDir() || !isDraft(path) {
			continue
		}
		if in.importLogged(path) {
			n++
		}
	}
	return n
}

func (in *Inbox) importLogged(path string) bool {
	e, err := in.Import(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false
		}
		in.logger.Warn("importing draft",
			slog.String("file", filepath.Base(path)),
			slog.String("error", err.Error()),
		)
		return false
	}

	in.logger.Info("draft imported",
		slog.String("file", filepath.Base(path)),
		slog.String("id", e.ID),
		slog.String("date", e.Date),
	)
	return true
}

// Import turns one draft file into an entry and moves the file to
// imported/.
func (in *Inbox) Import(path string) (models.Entry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return models.Entry{}, err
	}

	fm, body, err := parseDraft(raw)
	if err != nil {
		return models.Entry{}, fmt.Errorf("parsing frontmatter: %w", err)
	}

	date := fm.Date
	if date == "" {
		stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		if _, err := time.Parse(models.DateLayout, stem); err == nil {
			date = stem
		} else {
			date = in.now().Format(models.DateLayout)
		}
	}

	d := Draft{Date: date}
	if existing := in.saver.EntryByDate(date); existing != nil {
		d.ID = existing.ID
		d.Body = existing.Body
	}
	d.Content = body
	applyOptional(&d.Mood, fm.Mood)
	applyOptional(&d.MoodTag, fm.MoodTag)
	applyOptional(&d.Weather, fm.Weather)
	applyOptional(&d.ImageURI, fm.Image)

	e, err := in.saver.SaveEntry(d)
	if err != nil {
		return models.Entry{}, err
	}

	if err := in.archive(path); err != nil {
		in.logger.Warn("archiving draft", slog.String("error", err.Error()))
	}

	return e, nil
}

func (in *Inbox) archive(path string) error {
	dst := filepath.Join(in.dir, importedDir)
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return err
	}

	target := filepath.Join(dst, filepath.Base(path))
	if _, err := os.Stat(target); err == nil {
		ext := filepath.Ext(path)
		stem := strings.TrimSuffix(filepath.Base(path), ext)
		target = filepath.Join(dst, fmt.Sprintf("%s.%d%s", stem, in.now().UnixMilli(), ext))
	}

	return os.Rename(path, target)
}

// parseDraft splits an optional YAML frontmatter block from the markdown
// body. The block must open on the first line and close with "---" on its
// own line.
func parseDraft(content []byte) (draftFrontmatter, string, error) {
	var fm draftFrontmatter

	if !bytes.HasPrefix(content, []byte("---")) {
		return fm, strings.TrimSpace(string(content)), nil
	}

	rest := content[3:]
	idx := bytes.IndexByte(rest, '\n')
	if idx < 0 {
		return fm, strings.TrimSpace(string(content)), nil
	}
	rest = rest[idx+1:]

	end := bytes.Index(rest, []byte("\n---"))
	if end < 0 {
		return fm, strings.TrimSpace(string(content)), nil
	}

	if err := yaml.Unmarshal(rest[:end], &fm); err != nil {
		return fm, "", err
	}

	body := rest[end+len("\n---"):]
	if i := bytes.IndexByte(body, '\n'); i >= 0 {
		body = body[i+1:]
	} else {
		body = nil
	}

	return fm, strings.TrimSpace(string(body)), nil
}

func applyOptional(field **string, v string) {
	if v != "" {
		*field = models.String(v)
	}
}

func isDraft(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") || strings.HasSuffix(base, "~") || strings.HasSuffix(base, ".swp") {
		return false
	}
	return strings.EqualFold(filepath.Ext(base), ".md")
}
