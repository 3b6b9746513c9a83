package mysql

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// marshalMetadata メタデータをJSON列の値に変換（空はNULL）
func marshalMetadata(metadata map[string]interface{}) (interface{}, error) {
	if len(metadata) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metadata: %w", err)
	}
	return string(b), nil
}

// unmarshalMetadata JSON列の値をメタデータに変換
func unmarshalMetadata(v sql.NullString) (map[string]interface{}, error) {
	metadata := map[string]interface{}{}
	if !v.Valid || v.String == "" {
		return metadata, nil
	}
	if err := json.Unmarshal([]byte(v.String), &metadata); err != nil {
		return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
	}
	return metadata, nil
}

func nullableString(s *string) interface{} {
	if s == nil {
		return nil
	}
	return *s
}

func nullableTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func stringPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func timePtr(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time.UTC()
	return &t
}
