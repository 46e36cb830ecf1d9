// Package image is the image catalog the driver fetches base disks from and
// uploads snapshots to.
package image

import (
	"context"
	"errors"
)

// ErrImageNotFound means the catalog has no image with the given reference.
var ErrImageNotFound = errors.New("image not found")

// Container formats.
const (
	ContainerBare = "bare"
	ContainerOVA  = "ova"
)

// Metadata describes an image in the catalog.
type Metadata struct {
	ID              string            `yaml:"id"`
	Name            string            `yaml:"name,omitempty"`
	DiskFormat      string            `yaml:"disk_format"`      // vdi, vhd or vmdk
	ContainerFormat string            `yaml:"container_format"` // bare or ova
	IsPublic        bool              `yaml:"is_public"`
	Size            int64             `yaml:"size,omitempty"`
	Properties      map[string]string `yaml:"properties,omitempty"`
}

// Service fetches and stores images.
type Service interface {
	// Fetch writes the disk of image ref to dst.
	Fetch(ctx context.Context, ref, dst string) error
	// Show returns the metadata of image ref.
	Show(ctx context.Context, ref string) (Metadata, error)
	// Update stores the disk at src as image id with meta.
	Update(ctx context.Context, id string, meta Metadata, src string) error
}
