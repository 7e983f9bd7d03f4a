package snapshot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"oras.land/oras-go/v2"
	"oras.land/oras-go/v2/content"
	"oras.land/oras-go/v2/content/memory"
	"oras.land/oras-go/v2/registry/remote"
	"oras.land/oras-go/v2/registry/remote/auth"
	"oras.land/oras-go/v2/registry/remote/retry"
)

const (
	OCIPushTimeout = 60 * time.Second
	OCIPullTimeout = 30 * time.Second
)

// Media types of the snapshot artifact.
const (
	OCIArtifactType    = "application/vnd.haidra.horde-model-reference.snapshot.v1"
	OCIConfigMediaType = "application/vnd.oci.empty.v1+json"
	OCILayerMediaType  = "application/json"
	OCILayerTitle      = "horde-model-reference.json"
)

// OCITarget keeps a snapshot as a single-layer artifact tagged "latest".
type OCITarget struct {
	repo      *remote.Repository
	reference string
	logger    *slog.Logger
}

// NewOCITarget creates a target for uri. The token is sent as the password
// of basic credentials, which ghcr.io, Docker Hub and most cloud registries
// accept.
func NewOCITarget(uri *URI, token string, logger *slog.Logger) (*OCITarget, error) {
	if !uri.IsOCI() {
		return nil, fmt.Errorf("expected OCI URI, got scheme: %s", uri.Scheme)
	}
	reference := uri.OCIReference()
	repo, err := remote.NewRepository(reference)
	if err != nil {
		return nil, CategorizeOCIError(OCIOpConnect, fmt.Errorf("invalid OCI reference %q: %w", reference, err))
	}
	if token != "" {
		repo.Client = &auth.Client{
			Client: retry.DefaultClient,
			Credential: auth.StaticCredential(repo.Reference.Registry, auth.Credential{
				Username: "token",
				Password: token,
			}),
		}
	}
	logger.Info("OCI snapshot target ready", "reference", reference, "has_token", token != "")
	return &OCITarget{repo: repo, reference: reference, logger: logger}, nil
}

// Push packs data into an artifact and copies it to the registry.
func (t *OCITarget) Push(ctx context.Context, data []byte) error {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, OCIPushTimeout)
	defer cancel()

	store := memory.New()
	push := func(mediaType string, blob []byte, annotations map[string]string) (ocispec.Descriptor, error) {
		desc := ocispec.Descriptor{
			MediaType:   mediaType,
			Digest:      digest.FromBytes(blob),
			Size:        int64(len(blob)),
			Annotations: annotations,
		}
		return desc, store.Push(ctx, desc, bytes.NewReader(blob))
	}

	configDesc, err := push(OCIConfigMediaType, []byte("{}"), nil)
	if err != nil {
		return CategorizeOCIError(OCIOpPush, fmt.Errorf("failed to stage config: %w", err))
	}
	layerDesc, err := push(OCILayerMediaType, data, map[string]string{ocispec.AnnotationTitle: OCILayerTitle})
	if err != nil {
		return CategorizeOCIError(OCIOpPush, fmt.Errorf("failed to stage layer: %w", err))
	}

	manifest := ocispec.Manifest{
		MediaType:    ocispec.MediaTypeImageManifest,
		ArtifactType: OCIArtifactType,
		Config:       configDesc,
		Layers:       []ocispec.Descriptor{layerDesc},
		Annotations: map[string]string{
			ocispec.AnnotationCreated: time.Now().UTC().Format(time.RFC3339),
		},
	}
	manifest.SchemaVersion = 2
	manifestJSON, err := json.Marshal(manifest)
	if err != nil {
		return CategorizeOCIError(OCIOpPush, fmt.Errorf("failed to marshal manifest: %w", err))
	}
	manifestDesc, err := push(ocispec.MediaTypeImageManifest, manifestJSON, nil)
	if err != nil {
		return CategorizeOCIError(OCIOpPush, fmt.Errorf("failed to stage manifest: %w", err))
	}

	tag := t.repo.Reference.Reference
	if err := store.Tag(ctx, manifestDesc, tag); err != nil {
		return CategorizeOCIError(OCIOpPush, fmt.Errorf("failed to tag manifest: %w", err))
	}
	if _, err := oras.Copy(ctx, store, tag, t.repo, tag, oras.DefaultCopyOptions); err != nil {
		t.logger.Error("OCI push failed",
			"reference", t.reference,
			"error", err,
			"duration_ms", time.Since(start).Milliseconds())
		return CategorizeOCIError(OCIOpPush, err)
	}

	t.logger.Info("OCI push completed",
		"reference", t.reference,
		"digest", manifestDesc.Digest,
		"size_bytes", len(data),
		"duration_ms", time.Since(start).Milliseconds())
	return nil
}

// Pull fetches the artifact and returns its data layer, verified against
// the layer digest.
func (t *OCITarget) Pull(ctx context.Context) ([]byte, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, OCIPullTimeout)
	defer cancel()

	tag := t.repo.Reference.Reference
	store := memory.New()
	desc, err := oras.Copy(ctx, t.repo, tag, store, tag, oras.DefaultCopyOptions)
	if err != nil {
		if isOCINotFound(err.Error()) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, t.reference)
		}
		return nil, CategorizeOCIError(OCIOpPull, err)
	}

	manifestJSON, err := content.FetchAll(ctx, store, desc)
	if err != nil {
		return nil, CategorizeOCIError(OCIOpPull, fmt.Errorf("failed to fetch manifest: %w", err))
	}
	var manifest ocispec.Manifest
	if err := json.Unmarshal(manifestJSON, &manifest); err != nil {
		return nil, CategorizeOCIError(OCIOpPull, fmt.Errorf("failed to parse manifest: %w", err))
	}
	if len(manifest.Layers) == 0 {
		return nil, CategorizeOCIError(OCIOpPull, fmt.Errorf("artifact has no layers"))
	}

	layer := manifest.Layers[0]
	rc, err := store.Fetch(ctx, layer)
	if err != nil {
		return nil, CategorizeOCIError(OCIOpPull, fmt.Errorf("failed to fetch data layer: %w", err))
	}
	defer rc.Close()
	verifier := layer.Digest.Verifier()
	data, err := io.ReadAll(io.TeeReader(rc, verifier))
	if err != nil {
		return nil, CategorizeOCIError(OCIOpPull, fmt.Errorf("failed to read data layer: %w", err))
	}
	if !verifier.Verified() {
		return nil, CategorizeOCIError(OCIOpPull, fmt.Errorf("data layer does not match digest %s", layer.Digest))
	}

	t.logger.Info("OCI pull completed",
		"reference", t.reference,
		"size_bytes", len(data),
		"duration_ms", time.Since(start).Milliseconds())
	return data, nil
}

// Exists resolves the "latest" tag.
func (t *OCITarget) Exists(ctx context.Context) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, OCIPullTimeout)
	defer cancel()
	if _, err := t.repo.Resolve(ctx, t.repo.Reference.Reference); err != nil {
		if isOCINotFound(err.Error()) {
			return false, nil
		}
		return false, CategorizeOCIError(OCIOpConnect, err)
	}
	return true, nil
}

func (t *OCITarget) String() string { return "oci://" + t.reference }
