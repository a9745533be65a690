package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// AcquireCleanupLock attempts the advisory CAS on
// schema_metadata.last_claim_cleanup: it succeeds only if the stored
// timestamp is older than staleAfter. A stuck lock self-heals once the
// prior holder's timestamp ages past staleAfter.
func AcquireCleanupLock(ctx context.Context, tx *sql.Tx, staleAfter time.Duration) (bool, error) {
	cutoff := formatTime(now().Add(-staleAfter))
	res, err := tx.ExecContext(ctx, `
		UPDATE schema_metadata SET value = ?
		WHERE key = 'last_claim_cleanup' AND value < ?`,
		formatTime(now()), cutoff)
	if err != nil {
		return false, fmt.Errorf("acquire cleanup lock: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// GetMetaJSON reads a raw JSON metadata blob and returns the value at path,
// or "" if the path is absent or the stored blob is malformed. Malformed
// JSON is a read-time "absent", never an error, per the store's JSON
// safety contract.
func GetMetaJSON(blob, path string) string {
	if blob == "" || !gjson.Valid(blob) {
		return ""
	}
	r := gjson.Get(blob, path)
	if !r.Exists() {
		return ""
	}
	return r.String()
}

// SetMetaJSON returns blob with path set to value, auto-creating
// intermediate objects. A malformed starting blob is treated as empty.
func SetMetaJSON(blob, path, value string) (string, error) {
	if blob != "" && !gjson.Valid(blob) {
		blob = ""
	}
	if blob == "" {
		blob = "{}"
	}
	out, err := sjson.Set(blob, path, value)
	if err != nil {
		return "", fmt.Errorf("set metadata path %q: %w", path, err)
	}
	return out, nil
}

// MaxMetadataBytes bounds metadata column size per the store's validation contract.
const MaxMetadataBytes = 64 * 1024

// ValidateMetadata rejects oversize metadata blobs.
func ValidateMetadata(blob string) error {
	if len(blob) > MaxMetadataBytes {
		return fmt.Errorf("metadata exceeds %d bytes", MaxMetadataBytes)
	}
	return nil
}
