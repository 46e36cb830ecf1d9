package image

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mholt/archiver/v3"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/jbweber/vboxdriver/internal/logger"
)

// DefaultImagesPath is where LocalStore keeps images by default.
const DefaultImagesPath = "/var/lib/vboxdriver/images"

const metadataExt = ".yaml"

// lookupExts are the file extensions tried for an image reference, in order.
var lookupExts = []string{"vdi", "vhd", "vmdk", ContainerOVA}

// LocalStore is a Service backed by a directory. Image ref is stored as
// <dir>/<ref>.<disk_format> with its metadata in <dir>/<ref>.yaml. An image
// may also be an OVA appliance, <dir>/<ref>.ova, whose first VMDK is the
// disk.
type LocalStore struct {
	fs  afero.Fs
	dir string

	// Progress receives a progress bar for each copy when set.
	Progress io.Writer
}

var _ Service = (*LocalStore)(nil)

// NewLocalStore creates a LocalStore on the OS filesystem.
func NewLocalStore(dir string) *LocalStore {
	return NewLocalStoreWithFs(afero.NewOsFs(), dir)
}

// NewLocalStoreWithFs creates a LocalStore on fs.
func NewLocalStoreWithFs(fs afero.Fs, dir string) *LocalStore {
	if dir == "" {
		dir = DefaultImagesPath
	}
	return &LocalStore{fs: fs, dir: dir}
}

// Dir returns the directory holding the images.
func (s *LocalStore) Dir() string {
	return s.dir
}

func (s *LocalStore) find(ref string) (string, string, error) {
	if ref == "" || strings.ContainsAny(ref, `/\`) {
		return "", "", fmt.Errorf("invalid image reference %q", ref)
	}
	for _, ext := range lookupExts {
		path := filepath.Join(s.dir, ref+"."+ext)
		if ok, _ := afero.Exists(s.fs, path); ok {
			return path, ext, nil
		}
	}
	return "", "", fmt.Errorf("%w: %s", ErrImageNotFound, ref)
}

// Fetch implements Service.
func (s *LocalStore) Fetch(ctx context.Context, ref, dst string) error {
	path, ext, err := s.find(ref)
	if err != nil {
		return err
	}

	logger.Get().Infof("Fetching image %s from %s", ref, path)
	if ext == ContainerOVA {
		return s.extractOVA(ctx, path, dst)
	}
	return s.copyFile(ctx, path, dst)
}

// Show implements Service.
func (s *LocalStore) Show(_ context.Context, ref string) (Metadata, error) {
	path, ext, err := s.find(ref)
	if err != nil {
		return Metadata{}, err
	}

	meta := Metadata{ID: ref, DiskFormat: ext, ContainerFormat: ContainerBare}
	if ext == ContainerOVA {
		meta.DiskFormat = "vmdk"
		meta.ContainerFormat = ContainerOVA
	}
	if info, err := s.fs.Stat(path); err == nil {
		meta.Size = info.Size()
	}

	data, err := afero.ReadFile(s.fs, filepath.Join(s.dir, ref+metadataExt))
	switch {
	case errors.Is(err, os.ErrNotExist):
		return meta, nil
	case err != nil:
		return Metadata{}, fmt.Errorf("failed to read metadata of image %s: %w", ref, err)
	}
	if err := yaml.Unmarshal(data, &meta); err != nil {
		return Metadata{}, fmt.Errorf("failed to parse metadata of image %s: %w", ref, err)
	}
	return meta, nil
}

// Update implements Service. The disk is copied into the store, replacing
// any previous disk of the image, and meta is written next to it.
func (s *LocalStore) Update(ctx context.Context, id string, meta Metadata, src string) error {
	if id == "" || strings.ContainsAny(id, `/\`) {
		return fmt.Errorf("invalid image id %q", id)
	}
	format := strings.ToLower(meta.DiskFormat)
	if format == "" {
		format = strings.TrimPrefix(strings.ToLower(filepath.Ext(src)), ".")
	}
	if format == "" || format == ContainerOVA {
		return fmt.Errorf("image %s: unsupported disk format %q", id, meta.DiskFormat)
	}

	if err := s.fs.MkdirAll(s.dir, 0755); err != nil {
		return fmt.Errorf("failed to create image directory %s: %w", s.dir, err)
	}

	for _, ext := range lookupExts {
		if ext == format {
			continue
		}
		if err := s.fs.Remove(filepath.Join(s.dir, id+"."+ext)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to remove previous disk of image %s: %w", id, err)
		}
	}

	dst := filepath.Join(s.dir, id+"."+format)
	if err := s.copyFile(ctx, src, dst); err != nil {
		return err
	}

	meta.ID = id
	meta.DiskFormat = format
	if meta.ContainerFormat == "" {
		meta.ContainerFormat = ContainerBare
	}
	if info, err := s.fs.Stat(dst); err == nil {
		meta.Size = info.Size()
	}

	data, err := yaml.Marshal(&meta)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata of image %s: %w", id, err)
	}
	if err := afero.WriteFile(s.fs, filepath.Join(s.dir, id+metadataExt), data, 0644); err != nil {
		return fmt.Errorf("failed to write metadata of image %s: %w", id, err)
	}

	logger.Get().Infof("Stored image %s (%s)", id, format)
	return nil
}

func (s *LocalStore) copyFile(ctx context.Context, src, dst string) error {
	in, err := s.fs.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer in.Close()

	var size int64
	if info, err := in.Stat(); err == nil {
		size = info.Size()
	}
	return s.writeTo(ctx, in, size, dst, filepath.Base(src))
}

// extractOVA writes the first VMDK of the OVA appliance at path to dst.
func (s *LocalStore) extractOVA(ctx context.Context, path, dst string) error {
	in, err := s.fs.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer in.Close()

	tar := archiver.NewTar()
	if err := tar.Open(in, 0); err != nil {
		return fmt.Errorf("failed to open appliance %s: %w", path, err)
	}
	defer tar.Close()

	for {
		f, err := tar.Read()
		if err == io.EOF {
			return fmt.Errorf("appliance %s has no vmdk disk", path)
		}
		if err != nil {
			return fmt.Errorf("failed to read appliance %s: %w", path, err)
		}

		if f.IsDir() || !strings.EqualFold(filepath.Ext(f.Name()), ".vmdk") {
			_ = f.Close()
			continue
		}

		logger.Get().Debugf("Extracting %s from %s", f.Name(), path)
		err = s.writeTo(ctx, f, f.Size(), dst, f.Name())
		_ = f.Close()
		return err
	}
}

func (s *LocalStore) writeTo(ctx context.Context, r io.Reader, size int64, dst, name string) error {
	out, err := s.fs.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dst, err)
	}

	var w io.Writer = out
	var bar *progressbar.ProgressBar
	if s.Progress != nil {
		bar = s.newBar(size, name)
		w = io.MultiWriter(out, bar)
	}

	_, err = io.Copy(w, &ctxReader{ctx: ctx, r: r})
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		if bar != nil {
			_ = bar.Clear()
		}
		_ = s.fs.Remove(dst)
		return fmt.Errorf("failed to copy %s to %s: %w", name, dst, err)
	}
	if bar != nil {
		_ = bar.Finish()
	}
	return nil
}

func (s *LocalStore) newBar(size int64, name string) *progressbar.ProgressBar {
	return progressbar.NewOptions64(
		size,
		progressbar.OptionSetDescription(fmt.Sprintf("Copying %s", name)),
		progressbar.OptionSetWriter(s.Progress),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetWidth(40),
		progressbar.OptionThrottle(65*time.Millisecond),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprint(s.Progress, "\n")
		}),
	)
}

// ctxReader stops a copy once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
