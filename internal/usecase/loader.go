package usecase

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"chat-sync/internal/domain"
)

// Known hash fields of a stored session. Everything else lands in Extra.
const (
	fieldID        = "id"
	fieldTitle     = "title"
	fieldCreatedAt = "createdAt"
	fieldUserID    = "userId"
	fieldMessages  = "messages"
	fieldModel     = "model"
	fieldUpdatedAt = "updatedAt"
)

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// LoadUserSessions reads every session referenced by one user index key, most
// recent first. Session keys that resolve to an empty record are skipped and
// counted. Any read failure aborts the whole user.
func (s *SyncService) LoadUserSessions(ctx context.Context, indexKey string) ([]domain.RawSession, int, error) {
	var ids []string
	err := s.storeCall(ctx, "source", "read_ordered_ids", func(ctx context.Context) error {
		var err error
		ids, err = s.src.ReadOrderedIDs(ctx, indexKey)
		return err
	})
	if err != nil {
		return nil, 0, newError(ErrorLoad, "read_index_failed", err)
	}

	sessions := make([]domain.RawSession, 0, len(ids))
	skipped := 0
	for _, key := range ids {
		var fields map[string]string
		err := s.storeCall(ctx, "source", "read_record", func(ctx context.Context) error {
			var err error
			fields, err = s.src.ReadRecord(ctx, key)
			return err
		})
		if err != nil {
			return nil, skipped, newError(ErrorLoad, "read_record_failed:"+key, err)
		}
		if len(fields) == 0 {
			skipped++
			s.log.Debug().Str("session_key", key).Msg("skip empty session record")
			continue
		}
		sessions = append(sessions, ParseRawSession(key, fields, s.now()))
	}
	return sessions, skipped, nil
}

// ParseRawSession builds a RawSession from a session hash. It never fails:
// malformed messages yield an empty message list, an unparseable createdAt
// becomes now, and a missing id falls back to the last segment of key.
func ParseRawSession(key string, fields map[string]string, now time.Time) domain.RawSession {
	raw := domain.RawSession{
		ID:       fields[fieldID],
		Title:    fields[fieldTitle],
		UserID:   fields[fieldUserID],
		Model:    fields[fieldModel],
		Key:      key,
		Messages: parseMessages(fields[fieldMessages]),
	}
	if raw.ID == "" {
		raw.ID = key[strings.LastIndex(key, ":")+1:]
	}

	if t, ok := parseTime(fields[fieldCreatedAt]); ok {
		raw.CreatedAt = t
	} else {
		raw.CreatedAt = now
	}
	if t, ok := parseTime(fields[fieldUpdatedAt]); ok {
		raw.UpdatedAt = &t
	}

	for k, v := range fields {
		switch k {
		case fieldID, fieldTitle, fieldCreatedAt, fieldUserID, fieldMessages, fieldModel, fieldUpdatedAt:
			continue
		}
		if raw.Extra == nil {
			raw.Extra = make(map[string]string)
		}
		raw.Extra[k] = v
	}
	return raw
}

func parseMessages(s string) []domain.RawMessage {
	if strings.TrimSpace(s) == "" {
		return []domain.RawMessage{}
	}
	var msgs []domain.RawMessage
	if err := json.Unmarshal([]byte(s), &msgs); err != nil || msgs == nil {
		return []domain.RawMessage{}
	}
	return msgs
}

// parseTime accepts RFC 3339 timestamps, bare dates and epoch milliseconds.
func parseTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), true
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
