package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

var entryPage = regexp.MustCompile(`(?i)^index\.html?`)

type sourceFile struct {
	path    string
	basedir string
	skip    bool
}

// isDirTarget reports whether target names a directory: a trailing slash
// or no extension.
func isDirTarget(target string) bool {
	return strings.HasSuffix(target, "/") || strings.HasSuffix(target, `\`) || !strings.Contains(target, ".")
}

// placeholderName is the temporary name of an entry page, keeping its case:
// Index.HTML becomes Index-temp.HTML.
func placeholderName(target string) string {
	return target[:len("index")] + "-temp" + target[len("index"):]
}

// assetsStage writes every non-script target. Targets are written
// concurrently; a failing target does not stop the others, and all failures
// are reported together.
func (p *Pipeline) assetsStage(ctx context.Context, b *build) error {
	var (
		mu   sync.Mutex
		errs error
	)
	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(b.cfg.MaxConcurrency)
	for _, target := range sortedKeys(b.cfg.Assets) {
		if strings.HasSuffix(target, ".js") {
			continue
		}
		sources := b.cfg.Assets[target]
		g.Go(func() error {
			if err := p.writeTarget(b, target, sources); err != nil {
				p.logger.Error("Pipeline: errors found while generating", "target", target, "error", err)
				mu.Lock()
				errs = multierr.Append(errs, fmt.Errorf("%s: %w", target, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errs
}

func (p *Pipeline) writeTarget(b *build, target string, sources []AssetSource) error {
	files, err := p.expandSources(sources)
	if err != nil {
		return err
	}

	if isDirTarget(target) {
		return p.copyIntoDir(filepath.Join(b.buildDir, target), files)
	}

	p.logger.Info("Pipeline: writing file", "path", filepath.Join(b.buildDir, target))
	contents := make([]string, 0, len(files))
	for _, f := range files {
		data, err := os.ReadFile(f.path)
		if err != nil {
			return err
		}
		content := string(data)
		if !f.skip {
			for _, plugin := range b.plugins {
				if content, err = plugin.Transform(f.path, content); err != nil {
					return fmt.Errorf("transform %s: %w", f.path, err)
				}
			}
		}
		contents = append(contents, content)
	}

	name := target
	if entryPage.MatchString(target) {
		name = placeholderName(target)
		b.placeholderMu.Lock()
		b.placeholderPages = append(b.placeholderPages, target)
		b.placeholderMu.Unlock()
	}

	dst := filepath.Join(b.buildDir, name)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	return os.WriteFile(dst, []byte(strings.Join(contents, "\n")), 0o644)
}

// copyIntoDir copies files into dir, keeping their path below basedir.
func (p *Pipeline) copyIntoDir(dir string, files []sourceFile) error {
	for _, f := range files {
		rel := filepath.Base(f.path)
		if f.basedir != "" {
			if r, err := filepath.Rel(f.basedir, f.path); err == nil && !strings.HasPrefix(r, "..") {
				rel = r
			}
		}
		dst := filepath.Join(dir, rel)
		p.logger.Info("Pipeline: writing file", "path", dst)
		if err := copyFile(f.path, dst); err != nil {
			return err
		}
	}
	return nil
}

func copyFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

// expandSources resolves asset sources to files, in order. A directory
// source contributes every file below it; a glob contributes its matches.
func (p *Pipeline) expandSources(sources []AssetSource) ([]sourceFile, error) {
	var files []sourceFile
	for _, src := range sources {
		abs := p.env.DappJoin(src.Path)
		basedir := ""
		if src.Basedir != "" {
			basedir = p.env.DappJoin(src.Basedir)
		}

		matches := []string{abs}
		if strings.ContainsAny(src.Path, "*?[") {
			var err error
			if matches, err = filepath.Glob(abs); err != nil {
				return nil, fmt.Errorf("source %s: %w", src.Path, err)
			}
		}

		for _, match := range matches {
			info, err := os.Stat(match)
			if err != nil {
				return nil, fmt.Errorf("source %s: %w", src.Path, err)
			}
			if !info.IsDir() {
				files = append(files, sourceFile{path: match, basedir: basedir, skip: src.SkipPipeline})
				continue
			}
			root := basedir
			if root == "" {
				root = match
			}
			err = filepath.WalkDir(match, func(path string, d fs.DirEntry, err error) error {
				if err != nil || d.IsDir() {
					return err
				}
				files = append(files, sourceFile{path: path, basedir: root, skip: src.SkipPipeline})
				return nil
			})
			if err != nil {
				return nil, fmt.Errorf("source %s: %w", src.Path, err)
			}
		}
	}
	return files, nil
}

// replacePlaceholder renames the temporary entry page over target. A
// missing temporary page is not an error.
func replacePlaceholder(buildDir, target string) error {
	tmp := filepath.Join(buildDir, placeholderName(target))
	if _, err := os.Stat(tmp); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return os.Rename(tmp, filepath.Join(buildDir, target))
}
