package crawler

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/mod/modfile"
	"golang.org/x/sync/errgroup"

	"geninst/internal/extractor"
	"geninst/internal/log"
)

var ErrNoModule = errors.New("crawler: no module path")

// ParsedFile is one scanned source file.
type ParsedFile struct {
	RelPath    string
	ImportPath string
	Info       *extractor.FileInfo
}

// Project is the result of one scan.
type Project struct {
	Root       string
	ModulePath string
	Files      []ParsedFile
}

// Crawler scans a directory for source files.
type Crawler struct {
	extractor *extractor.Extractor
	ignored   []string
	cache     *gocache.Cache
	jobs      int
}

// NewCrawler creates a new crawler instance. Extra ignored entries are
// directory paths relative to the scanned root, or bare directory names.
func NewCrawler(ext *extractor.Extractor, ignored ...string) *Crawler {
	return &Crawler{
		extractor: ext,
		ignored:   append([]string{".git", "vendor", "node_modules", "testdata"}, ignored...),
		cache:     gocache.New(30*time.Minute, time.Hour),
		jobs:      runtime.GOMAXPROCS(0),
	}
}

// ModulePath reads the module path from root/go.mod.
func ModulePath(root string) (string, error) {
	data, err := os.ReadFile(filepath.Join(root, "go.mod"))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNoModule, err)
	}
	mp := modfile.ModulePath(data)
	if mp == "" {
		return "", fmt.Errorf("%w: go.mod has no module directive", ErrNoModule)
	}
	return mp, nil
}

// ScanProject walks root, parses every non-test Go file in parallel and
// returns them in walk order. modulePath may be empty to read it from go.mod.
func (c *Crawler) ScanProject(ctx context.Context, root, modulePath string) (*Project, error) {
	if modulePath == "" {
		mp, err := ModulePath(root)
		if err != nil {
			return nil, err
		}
		modulePath = mp
	}

	var paths []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		// Skip ignored directories
		if d.IsDir() {
			if p != root && c.isIgnored(root, p, d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}

		// Only process Go files
		if !strings.HasSuffix(d.Name(), ".go") || strings.HasSuffix(d.Name(), "_test.go") {
			return nil
		}
		paths = append(paths, p)
		return nil
	})
	if err != nil {
		return nil, err
	}

	files := make([]ParsedFile, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, c.jobs))
	for i, p := range paths {
		g.Go(func() error {
			rel, err := filepath.Rel(root, p)
			if err != nil {
				return err
			}
			info, err := c.parse(gctx, p)
			if err != nil {
				// Log and continue instead of failing the whole scan
				log.Warn(log.CatReconcile, "skipping unparsable file", "path", rel, "error", err)
				return nil
			}
			files[i] = ParsedFile{
				RelPath:    filepath.ToSlash(rel),
				ImportPath: importPath(modulePath, rel),
				Info:       info,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	project := &Project{Root: root, ModulePath: modulePath}
	for _, f := range files {
		if f.Info != nil {
			project.Files = append(project.Files, f)
		}
	}
	return project, nil
}

func (c *Crawler) isIgnored(root, p, name string) bool {
	if strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_") {
		return true
	}
	rel, err := filepath.Rel(root, p)
	if err != nil {
		return false
	}
	rel = filepath.ToSlash(rel)
	for _, ign := range c.ignored {
		ign = strings.TrimSuffix(filepath.ToSlash(filepath.Clean(ign)), "/")
		if name == ign || rel == ign {
			return true
		}
	}
	return false
}

// parse extracts a file, reusing the previous result while its content is unchanged.
func (c *Crawler) parse(ctx context.Context, p string) (*extractor.FileInfo, error) {
	src, err := os.ReadFile(p)
	if err != nil {
		return nil, err
	}
	sum := sha256.Sum256(src)
	key := p + "@" + hex.EncodeToString(sum[:])

	if cached, ok := c.cache.Get(key); ok {
		if info, ok := cached.(*extractor.FileInfo); ok {
			return info, nil
		}
	}

	info, err := c.extractor.ExtractFromSource(ctx, p, src)
	if err != nil {
		return nil, err
	}
	c.cache.SetDefault(key, info)
	return info, nil
}

func importPath(modulePath, rel string) string {
	dir := filepath.ToSlash(filepath.Dir(rel))
	if dir == "." {
		return modulePath
	}
	return path.Join(modulePath, dir)
}
