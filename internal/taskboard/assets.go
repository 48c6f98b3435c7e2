package taskboard

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/agenteconomy/trustplane/internal/apperror"
)

// UploadAsset handles "upload_asset": the assigned worker, identified via
// bearer envelope, uploads a deliverable blob while the task is in
// `accepted`. Content is hashed and written under storageRoot at
// <storage_root>/<task_id>/<asset_id>/<filename> (spec.md §5, "Shared
// resources") with Task Board as the sole writer.
func (s *Service) UploadAsset(ctx context.Context, bearerToken, taskID, filename, contentType string, content io.Reader) (*Asset, *apperror.Error) {
	signerID, _, apiErr := s.auth.VerifyOnly(ctx, bearerToken)
	if apiErr != nil {
		return nil, apiErr
	}

	t, apiErr := s.GetTask(ctx, taskID)
	if apiErr != nil {
		return nil, apiErr
	}
	if t.WorkerID == nil || signerID != *t.WorkerID {
		return nil, apperror.Code("FORBIDDEN", "only the assigned worker may upload an asset")
	}
	if t.Status != StatusAccepted {
		return nil, apperror.Code("INVALID_STATUS", "task is not in the accepted state")
	}

	existing, err := s.store.ListAssets(ctx, t.TaskID)
	if err != nil {
		return nil, apperror.Internal(err)
	}
	if s.maxAssets > 0 && len(existing) >= s.maxAssets {
		return nil, apperror.Code("TOO_MANY_ASSETS", "maximum asset count reached for this task")
	}

	assetID := "asset-" + uuid.New().String()
	dir := filepath.Join(s.storageRoot, t.TaskID, assetID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, apperror.Internal(err)
	}
	destPath := filepath.Join(dir, filepath.Base(filename))

	f, err := os.OpenFile(destPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, apperror.Internal(err)
	}
	defer f.Close()

	hasher := sha256.New()
	limited := io.LimitReader(content, s.maxAssetBytes+1)
	written, err := io.Copy(io.MultiWriter(f, hasher), limited)
	if err != nil {
		os.Remove(destPath)
		return nil, apperror.Internal(err)
	}
	if s.maxAssetBytes > 0 && written > s.maxAssetBytes {
		f.Close()
		os.Remove(destPath)
		return nil, apperror.Code("FILE_TOO_LARGE", fmt.Sprintf("asset exceeds the %d byte limit", s.maxAssetBytes))
	}

	asset := Asset{
		AssetID: assetID, TaskID: t.TaskID, UploaderID: signerID, Filename: filepath.Base(filename),
		ContentType: contentType, Size: written, SHA256: hex.EncodeToString(hasher.Sum(nil)),
		UploadedAt: now(), StoragePath: destPath,
	}

	mutateErr := s.store.db.Mutate(ctx, func(conn *sql.Conn) error {
		n, cerr := s.store.CountAssets(ctx, conn, t.TaskID)
		if cerr != nil {
			return cerr
		}
		if s.maxAssets > 0 && n >= s.maxAssets {
			return errTooManyAssets
		}
		return s.store.InsertAsset(ctx, conn, asset)
	})
	if mutateErr != nil {
		os.Remove(destPath)
		if errors.Is(mutateErr, errTooManyAssets) {
			return nil, apperror.Code("TOO_MANY_ASSETS", "maximum asset count reached for this task")
		}
		return nil, apperror.Internal(mutateErr)
	}

	if s.bus != nil {
		s.bus.Emit("asset_uploaded", "task-board", t.TaskID, map[string]any{"asset_id": assetID})
	}
	return &asset, nil
}

var errTooManyAssets = errors.New("taskboard: too many assets")
