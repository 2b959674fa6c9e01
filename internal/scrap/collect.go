package scrap

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
)

// CollectResult summarizes a collect run.
type CollectResult struct {
	Scanned  int
	Uploaded int
	Skipped  int
	Ignored  int
	Failed   int
}

// Collector uploads local leak files into the object store. It keeps its own
// Hash Cache keyed by local path, so a file already uploaded (or whose content
// was already uploaded under another path) is not sent again.
type Collector struct {
	fsmgr   FilesystemManager
	objects ObjectStore
	cache   HashCache
	scanner *Scanner
	prefix  string
	logger  Logger
}

// NewCollector creates a Collector. Uploaded keys are the files' paths
// relative to their source directory, under prefix.
func NewCollector(fsmgr FilesystemManager, objects ObjectStore, cache HashCache, extensions []string, prefix string, logger Logger) *Collector {
	return &Collector{
		fsmgr:   fsmgr,
		objects: objects,
		cache:   cache,
		scanner: NewScanner(nil, extensions, logger),
		prefix:  prefix,
		logger:  logger,
	}
}

// Collect walks every source path and uploads the whitelisted files that are
// not in the cache. With force the cache is emptied first. A source path that
// cannot be resolved is logged and skipped; per-file failures are counted.
func (c *Collector) Collect(ctx context.Context, sourcePaths []string, force bool) (*CollectResult, error) {
	defer func() {
		if err := c.cache.Flush(); err != nil {
			c.logger.Error("flushing collector cache", "error", err)
		}
	}()

	if err := c.objects.ValidateSetup(ctx); err != nil {
		return nil, fmt.Errorf("object store unusable: %w", err)
	}
	if force {
		c.cache.Reset()
	}

	res := &CollectResult{}
	for _, raw := range sourcePaths {
		root, err := c.fsmgr.Resolve(raw)
		if err != nil {
			c.logger.Warn("source path unavailable, skipping", "path", raw, "error", err)
			continue
		}
		files := []*Path{root}
		if root.IsDir() {
			files, err = c.fsmgr.FindFiles(root, true)
			if err != nil {
				c.logger.Error("listing source path", "path", root.String(), "error", err)
				continue
			}
		}

		c.logger.Info("collecting", "path", root.String(), "files", len(files))
		for _, f := range files {
			if err := ctx.Err(); err != nil {
				return res, err
			}
			res.Scanned++
			c.collectFile(ctx, root, f, res)
		}
	}

	c.logger.Info("collect finished",
		"scanned", res.Scanned,
		"uploaded", res.Uploaded,
		"skipped", res.Skipped,
		"ignored", res.Ignored,
		"failed", res.Failed,
	)
	return res, nil
}

func (c *Collector) collectFile(ctx context.Context, root, f *Path, res *CollectResult) {
	if !c.scanner.Accepts(f.String()) {
		c.logger.Info("not in extension whitelist", "path", f.String())
		res.Ignored++
		return
	}
	if root.IsDir() {
		ignored, err := c.fsmgr.IsIgnored(f, root.String())
		if err != nil {
			c.logger.Error("checking ignore rules", "path", f.String(), "error", err)
			res.Failed++
			return
		}
		if ignored {
			res.Ignored++
			return
		}
	}

	if _, ok := c.cache.Get(f.String()); ok {
		c.logger.Debug("already uploaded, skipping", "path", f.String())
		res.Skipped++
		return
	}

	hash, err := c.hashFile(f)
	if err != nil {
		c.logger.Error("hashing file", "path", f.String(), "error", err)
		res.Failed++
		return
	}
	if c.cache.HasHash(hash) {
		c.logger.Info("content already uploaded, skipping", "path", f.String(), "hash", hash)
		c.cache.Put(f.String(), hash)
		c.flush()
		res.Skipped++
		return
	}

	key, err := c.objectKey(root, f)
	if err != nil {
		c.logger.Error("computing object key", "path", f.String(), "error", err)
		res.Failed++
		return
	}
	if err := c.upload(ctx, f, key); err != nil {
		c.logger.Error("uploading file", "path", f.String(), "key", key, "error", err)
		res.Failed++
		return
	}

	c.logger.Info("uploaded", "path", f.String(), "key", key)
	c.cache.Put(f.String(), hash)
	c.flush()
	res.Uploaded++
}

func (c *Collector) hashFile(f *Path) (string, error) {
	rc, err := c.fsmgr.Open(f)
	if err != nil {
		return "", err
	}
	defer rc.Close()
	hash, _, err := HashReader(rc, DefaultChunkSize)
	return hash, err
}

func (c *Collector) upload(ctx context.Context, f *Path, key string) error {
	rc, err := c.fsmgr.Open(f)
	if err != nil {
		return err
	}
	defer rc.Close()
	var size int64 = -1
	if info := f.Info(); info != nil {
		size = info.Size()
	}
	return c.objects.Put(ctx, key, rc, size)
}

// objectKey maps a local file to its object key: the slash-separated path
// relative to root (or the file name for a single-file root) under prefix.
func (c *Collector) objectKey(root, f *Path) (string, error) {
	rel := filepath.Base(f.String())
	if root.IsDir() {
		var err error
		rel, err = filepath.Rel(root.String(), f.String())
		if err != nil {
			return "", err
		}
	}
	return path.Join(c.prefix, filepath.ToSlash(rel)), nil
}

func (c *Collector) flush() {
	if err := c.cache.Flush(); err != nil {
		c.logger.Error("flushing collector cache", "error", err)
	}
}
