// Package imagecache keeps base disk images under <instances>/_base so
// instances can be cloned from them. Concurrent requests for the same image
// share one download.
package imagecache

import (
	"context"
	"fmt"
	"path/filepath"

	"golang.org/x/sync/singleflight"

	"github.com/jbweber/vboxdriver/internal/image"
	"github.com/jbweber/vboxdriver/internal/logger"
	"github.com/jbweber/vboxdriver/internal/naming"
	"github.com/jbweber/vboxdriver/internal/parser"
	"github.com/jbweber/vboxdriver/internal/pathutil"
	"github.com/jbweber/vboxdriver/internal/vboxmanage"
)

type vboxClient interface {
	CloneHD(ctx context.Context, src, dst string, opts vboxmanage.CloneHDOptions) error
	CloseMedium(ctx context.Context, kind vboxmanage.MediumKind, path string, deleteFile bool) error
}

type diskResolver interface {
	CheckDiskUUID(ctx context.Context, path string) error
	DiskInfo(ctx context.Context, disk string) (parser.DiskRecord, error)
}

// Cache resolves image references to cached base disks.
type Cache struct {
	vbox   vboxClient
	disks  diskResolver
	images image.Service
	paths  *pathutil.Manager

	group singleflight.Group
}

// New creates a Cache.
func New(vbox vboxClient, disks diskResolver, images image.Service, paths *pathutil.Manager) *Cache {
	return &Cache{vbox: vbox, disks: disks, images: images, paths: paths}
}

// Lookup returns the cached disk of imageRef, or "" when it is not cached.
func (c *Cache) Lookup(imageRef string) string {
	for _, format := range vboxmanage.DiskFormats {
		path := c.cachedPath(imageRef, format)
		if ok, _ := c.paths.Exists(path); ok {
			return path
		}
	}
	return ""
}

// Get returns the cached disk of imageRef, fetching it from the image
// service first when needed.
//
// A fetched image is registered under a new UUID if it collides with a known
// disk, then cloned to <base>.<format> and the download removed. Callers
// asking for the same image while it is fetched wait for that fetch and
// share its result.
func (c *Cache) Get(ctx context.Context, imageRef string) (string, error) {
	if path := c.Lookup(imageRef); path != "" {
		logger.Get().Debugf("Image %s is cached at %s", imageRef, path)
		return path, nil
	}

	basePath := c.paths.BaseDiskPath(imageRef)
	v, err, shared := c.group.Do(basePath, func() (any, error) {
		// A concurrent call may have finished between Lookup and Do.
		if path := c.Lookup(imageRef); path != "" {
			return path, nil
		}
		return c.fetch(ctx, imageRef, basePath)
	})
	if err != nil {
		return "", err
	}
	if shared {
		logger.Get().Debugf("Shared fetch of image %s", imageRef)
	}
	return v.(string), nil
}

func (c *Cache) fetch(ctx context.Context, imageRef, basePath string) (string, error) {
	if err := c.paths.Create(c.paths.BaseDiskDir()); err != nil {
		return "", err
	}

	logger.Get().Infof("Fetching image %s to %s", imageRef, basePath)
	if err := c.images.Fetch(ctx, imageRef, basePath); err != nil {
		c.cleanup(ctx, basePath)
		return "", fmt.Errorf("failed to fetch image %s: %w", imageRef, err)
	}

	if err := c.disks.CheckDiskUUID(ctx, basePath); err != nil {
		c.cleanup(ctx, basePath)
		return "", err
	}

	info, err := c.disks.DiskInfo(ctx, basePath)
	if err != nil {
		c.cleanup(ctx, basePath)
		return "", err
	}
	format, err := vboxmanage.ParseDiskFormat(info.Format)
	if err != nil {
		c.cleanup(ctx, basePath)
		return "", fmt.Errorf("image %s: %w", imageRef, err)
	}

	path := c.cachedPath(imageRef, format)
	logger.Get().Debugf("Cloning %s to %s", basePath, path)
	if err := c.vbox.CloneHD(ctx, basePath, path, vboxmanage.CloneHDOptions{Format: format}); err != nil {
		c.cleanup(ctx, basePath, path)
		return "", err
	}

	if err := c.vbox.CloseMedium(ctx, vboxmanage.MediumDisk, basePath, true); err != nil {
		c.cleanup(ctx, basePath, path)
		return "", err
	}

	logger.Get().Infof("Cached image %s as %s", imageRef, path)
	return path, nil
}

func (c *Cache) cachedPath(imageRef string, format vboxmanage.DiskFormat) string {
	return filepath.Join(c.paths.BaseDiskDir(), naming.CachedImageName(imageRef, format.Extension()))
}

// cleanup unregisters and removes partially cached files. Failures are
// logged so the original error is returned.
func (c *Cache) cleanup(ctx context.Context, paths ...string) {
	for _, path := range paths {
		if ok, _ := c.paths.Exists(path); !ok {
			continue
		}
		if err := c.vbox.CloseMedium(ctx, vboxmanage.MediumDisk, path, true); err != nil {
			logger.Get().Debugf("Failed to close %s: %v", path, err)
		}
		if err := c.paths.Delete(path); err != nil {
			logger.Get().Warnf("Warning: failed to remove %s: %v", path, err)
		}
	}
}
