// Package image checks the Windows container image for available updates
// by comparing the remote registry digest against the locally recorded one.
// Pulling is docker's job; winbox only needs to know whether an update
// exists and to remember what it last saw.
package image

import (
	"context"
	"fmt"

	"github.com/google/go-containerregistry/pkg/name"
	"github.com/google/go-containerregistry/pkg/v1/remote"

	"github.com/xfeldman/winbox/internal/registry"
)

// Settings key under which the last seen digest is stored.
const digestSettingKey = "image_digest"

// UpdateStatus is the outcome of an update check.
type UpdateStatus struct {
	ImageRef        string `json:"image_ref"`
	RemoteDigest    string `json:"remote_digest"`
	LocalDigest     string `json:"local_digest,omitempty"`
	UpdateAvailable bool   `json:"update_available"`
}

// Checker resolves remote digests and tracks the last seen one.
type Checker struct {
	db       *registry.DB
	imageRef string

	// resolve is swapped in tests; the default asks the registry.
	resolve func(ctx context.Context, imageRef string) (string, error)
}

// NewChecker creates a checker for imageRef backed by the registry database.
func NewChecker(db *registry.DB, imageRef string) *Checker {
	return &Checker{
		db:       db,
		imageRef: imageRef,
		resolve:  resolveRemoteDigest,
	}
}

// Check fetches the remote digest and compares it against the recorded one.
// A first check (nothing recorded yet) reports no update and records the
// remote digest as the baseline.
func (c *Checker) Check(ctx context.Context) (*UpdateStatus, error) {
	remoteDigest, err := c.resolve(ctx, c.imageRef)
	if err != nil {
		return nil, fmt.Errorf("resolve remote digest for %s: %w", c.imageRef, err)
	}

	local, err := c.db.GetSetting(digestSettingKey)
	if err != nil {
		return nil, fmt.Errorf("read recorded digest: %w", err)
	}

	status := &UpdateStatus{
		ImageRef:     c.imageRef,
		RemoteDigest: remoteDigest,
		LocalDigest:  local,
	}
	if local == "" {
		if err := c.db.SetSetting(digestSettingKey, remoteDigest); err != nil {
			return nil, fmt.Errorf("record baseline digest: %w", err)
		}
		status.LocalDigest = remoteDigest
		return status, nil
	}

	status.UpdateAvailable = local != remoteDigest
	return status, nil
}

// MarkUpdated records the remote digest as current, after docker has pulled
// the new image.
func (c *Checker) MarkUpdated(digest string) error {
	return c.db.SetSetting(digestSettingKey, digest)
}

// resolveRemoteDigest asks the image registry for the manifest digest of
// imageRef without pulling any layers.
func resolveRemoteDigest(ctx context.Context, imageRef string) (string, error) {
	ref, err := name.ParseReference(imageRef)
	if err != nil {
		return "", fmt.Errorf("parse image ref %q: %w", imageRef, err)
	}
	desc, err := remote.Head(ref, remote.WithContext(ctx))
	if err != nil {
		return "", err
	}
	return desc.Digest.String(), nil
}
