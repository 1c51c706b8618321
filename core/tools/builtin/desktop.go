package builtin

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"
	"unicode"

	"github.com/koscakluka/ema-desk/core/tools"
)

const (
	minMatchScore    = 2
	maxSearchDepth   = 3
	maxSearchEntries = 20000
)

var ErrNoMatch = errors.New("nothing on this computer matches that name")

// commonSites are spoken names that do not map to "<name>.com".
var commonSites = map[string]string{
	"google":   "https://www.google.com",
	"youtube":  "https://www.youtube.com",
	"facebook": "https://www.facebook.com",
}

var knownFolders = map[string]string{
	"downloads": "Downloads",
	"documents": "Documents",
	"desktop":   "Desktop",
	"pictures":  "Pictures",
	"photos":    "Pictures",
	"music":     "Music",
	"videos":    "Videos",
	"home":      "",
}

var (
	spokenPrefixes = []string{"please open ", "take me to ", "show me ", "open ", "show ", "go to ", "launch ", "the ", "my "}
	spokenSuffixes = []string{" folder", " directory", " files", " file", " location"}
)

// Opener hands a URL or a path to the desktop.
type Opener func(target string) error

// SystemOpener opens target with the platform's default handler and does
// not wait for it.
func SystemOpener(target string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", target)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", target)
	default:
		cmd = exec.Command("xdg-open", target)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to open %s: %w", target, err)
	}
	go func() { _ = cmd.Wait() }()
	return nil
}

type websiteArgs struct {
	URL string `json:"url" jsonschema:"required,description=Address or site name e.g. youtube or example.org"`
}

type pathArgs struct {
	Target string `json:"target" jsonschema:"required,description=Path or spoken name of a file or folder e.g. downloads or quarterly report"`
}

// Desktop exposes open_website, open_path and open_file_location. Names
// that are not paths are looked up in the usual folders under home.
func Desktop(open Opener, home string) []tools.Tool {
	if open == nil {
		open = SystemOpener
	}
	finder := &pathFinder{home: home}

	return []tools.Tool{
		tools.NewTool("open_website", "Open a website in the default browser",
			func(_ context.Context, args websiteArgs) (tools.Result, error) {
				target, err := websiteURL(args.URL)
				if err != nil {
					return tools.Result{}, err
				}
				if err := open(target); err != nil {
					return tools.Result{}, err
				}
				return tools.Result{
					Summary: fmt.Sprintf("Opening %s.", strings.TrimPrefix(strings.TrimPrefix(target, "https://"), "www.")),
					Data:    map[string]string{"url": target},
				}, nil
			}),
		tools.NewTool("open_path", "Open a file or folder on this computer by path or name",
			func(ctx context.Context, args pathArgs) (tools.Result, error) {
				path, err := finder.resolve(ctx, args.Target)
				if err != nil {
					return tools.Result{}, err
				}
				if err := open(path); err != nil {
					return tools.Result{}, err
				}
				return tools.Result{
					Summary: fmt.Sprintf("Opening %s.", filepath.Base(path)),
					Data:    map[string]string{"path": path},
				}, nil
			}),
		tools.NewTool("open_file_location", "Open the folder that contains a file",
			func(ctx context.Context, args pathArgs) (tools.Result, error) {
				path, err := finder.resolve(ctx, args.Target)
				if err != nil {
					return tools.Result{}, err
				}
				folder := filepath.Dir(path)
				if err := open(folder); err != nil {
					return tools.Result{}, err
				}
				return tools.Result{
					Summary: fmt.Sprintf("Opening the folder with %s.", filepath.Base(path)),
					Data:    map[string]string{"file": path, "folder": folder},
				}, nil
			}),
	}
}

func websiteURL(raw string) (string, error) {
	cleaned := strings.TrimSpace(raw)
	if site, ok := commonSites[strings.ToLower(cleaned)]; ok {
		return site, nil
	}
	if cleaned != "" && !strings.Contains(cleaned, "://") && !strings.Contains(cleaned, ".") {
		cleaned += ".com"
	}
	return normalizeURL(cleaned)
}

type pathFinder struct {
	home string
}

// resolve turns a path or a spoken name into an existing path.
func (f *pathFinder) resolve(ctx context.Context, target string) (string, error) {
	cleaned := strings.Trim(strings.TrimSpace(target), `"'`)
	if cleaned == "" {
		return "", errors.New("target is required")
	}

	if looksLikePath(cleaned) {
		path := f.expand(cleaned)
		if _, err := os.Stat(path); err != nil {
			return "", fmt.Errorf("cannot open %s: %w", path, err)
		}
		return path, nil
	}

	name := simplifyName(cleaned)
	if folder, ok := knownFolders[name]; ok && f.home != "" {
		path := filepath.Join(f.home, folder)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return f.search(ctx, name)
}

func (f *pathFinder) expand(path string) string {
	path = os.ExpandEnv(path)
	if rest, ok := strings.CutPrefix(path, "~"); ok && f.home != "" {
		path = filepath.Join(f.home, rest)
	}
	if absolute, err := filepath.Abs(path); err == nil {
		return absolute
	}
	return path
}

// search walks the usual folders for the best scoring name. Ties go to the
// most recently modified entry.
func (f *pathFinder) search(ctx context.Context, name string) (string, error) {
	tokens := strings.FieldsFunc(strings.ToLower(name), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	if len(tokens) == 0 || f.home == "" {
		return "", ErrNoMatch
	}

	var (
		best      string
		bestScore int
		bestTime  time.Time
		seen      int
	)
	for _, root := range []string{"Desktop", "Documents", "Downloads", "Pictures", "Music", "Videos"} {
		root = filepath.Join(f.home, root)
		err := filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
			if err != nil {
				if path == root {
					return fs.SkipDir
				}
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if seen++; seen > maxSearchEntries {
				return fs.SkipAll
			}
			if path == root {
				return nil
			}
			if strings.HasPrefix(entry.Name(), ".") {
				if entry.IsDir() {
					return fs.SkipDir
				}
				return nil
			}
			if entry.IsDir() && strings.Count(strings.TrimPrefix(path, root), string(filepath.Separator)) >= maxSearchDepth {
				return fs.SkipDir
			}

			score := matchScore(entry.Name(), tokens)
			if score < minMatchScore || score < bestScore {
				return nil
			}
			info, err := entry.Info()
			if err != nil {
				return nil
			}
			if score > bestScore || info.ModTime().After(bestTime) {
				best, bestScore, bestTime = path, score, info.ModTime()
			}
			return nil
		})
		if err != nil && !errors.Is(err, fs.SkipAll) {
			return "", err
		}
	}

	if best == "" {
		return "", fmt.Errorf("%w: %q", ErrNoMatch, name)
	}
	return best, nil
}

func matchScore(fileName string, tokens []string) int {
	stem := strings.ToLower(strings.TrimSuffix(fileName, filepath.Ext(fileName)))
	score := 0
	for _, token := range tokens {
		switch {
		case token == stem:
			score += 3
		case strings.Contains(stem, token):
			score += 2
		}
	}
	return score
}

func looksLikePath(value string) bool {
	switch {
	case strings.HasPrefix(value, "/"), strings.HasPrefix(value, `\`):
		return true
	case strings.HasPrefix(value, "~"), strings.HasPrefix(value, "./"), strings.HasPrefix(value, "../"), strings.HasPrefix(value, "$"):
		return true
	case len(value) > 2 && value[1] == ':' && (value[2] == '\\' || value[2] == '/'):
		return true
	}
	return false
}

func simplifyName(value string) string {
	name := strings.ToLower(strings.Join(strings.Fields(value), " "))
	for _, prefix := range spokenPrefixes {
		name = strings.TrimPrefix(name, prefix)
	}
	for _, suffix := range spokenSuffixes {
		if trimmed, ok := strings.CutSuffix(name, suffix); ok {
			name = trimmed
			break
		}
	}
	return strings.TrimSpace(name)
}
