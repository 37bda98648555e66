package pipeline

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/sentinelai/sentinel/internal/apierr"
)

// readOriginal fetches the artifact's uploaded bytes from the blobstore.
// Failures here are transient-io: a momentary storage outage, not a reason
// to fail the artifact outright.
func readOriginal(ctx context.Context, env *StageEnv) ([]byte, error) {
	r, err := env.Deps.Blobs.Get(ctx, env.Item.BlobPath)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindTransientIO, "reading original blob", err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindTransientIO, "reading original blob body", err)
	}
	return data, nil
}

// writeDerivative persists text produced by a stage at
// "<job_id>/<filename>.<role>.txt" and records the path in the artifact's
// BlobPaths under the given role — the stage-suffixed derivative convention
// spec.md §4.4 describes.
func writeDerivative(ctx context.Context, env *StageEnv, role, text string) error {
	path := fmt.Sprintf("%s.%s.txt", env.Item.BlobPath, role)
	if err := env.Deps.Blobs.Put(ctx, path, strings.NewReader(text)); err != nil {
		return apierr.Wrap(apierr.KindTransientIO, fmt.Sprintf("writing %s derivative", role), err)
	}
	if err := env.Deps.Artifacts.SetBlobPath(ctx, env.Artifact.ID, role, path); err != nil {
		return apierr.Wrap(apierr.KindTransientIO, fmt.Sprintf("recording %s blob path", role), err)
	}
	return nil
}
