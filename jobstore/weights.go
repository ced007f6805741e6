package jobstore

import (
	"database/sql"
	"fmt"
	"time"

	"inferno/core/data"
)

// PutModelWeight inserts or replaces a weight record, used by the
// out-of-band ingestion path (models are read-only to the core).
func (s *Store) PutModelWeight(w *ModelWeight) error {
	var deletedAt interface{}
	if w.DeletedAt != nil {
		deletedAt = w.DeletedAt.Unix()
	}
	_, err := data.ExecWithRetry(s.db, `
		INSERT OR REPLACE INTO model_weights (
			token, category, type, title, file_size_bytes, sha256,
			bucket_hash, bucket_prefix, bucket_extension, creator,
			visibility, version, deleted_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, w.Token, w.Category, w.Type, w.Title, w.FileSizeBytes, w.SHA256,
		w.BucketHash, w.BucketPrefix, w.BucketExtension, nullIfEmpty(w.Creator),
		w.Visibility, w.Version, deletedAt)
	if err != nil {
		return fmt.Errorf("jobstore: put model weight: %w", err)
	}
	return nil
}

// GetModelWeight returns the weight record for token, or (nil, nil) if no
// such record exists.
func (s *Store) GetModelWeight(token string) (*ModelWeight, error) {
	row := s.db.QueryRow(`
		SELECT token, category, type, title, file_size_bytes, sha256,
			bucket_hash, bucket_prefix, bucket_extension, creator,
			visibility, version, deleted_at
		FROM model_weights WHERE token = ?
	`, token)

	var w ModelWeight
	var creator sql.NullString
	var deletedAt sql.NullInt64

	err := row.Scan(&w.Token, &w.Category, &w.Type, &w.Title, &w.FileSizeBytes, &w.SHA256,
		&w.BucketHash, &w.BucketPrefix, &w.BucketExtension, &creator,
		&w.Visibility, &w.Version, &deletedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("jobstore: get model weight: %w", err)
	}

	w.Creator = creator.String
	if deletedAt.Valid {
		t := time.Unix(deletedAt.Int64, 0)
		w.DeletedAt = &t
	}
	return &w, nil
}
