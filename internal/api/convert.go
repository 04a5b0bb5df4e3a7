package api

import (
	"strings"
	"time"

	"github.com/rickgao/sessionmux/internal/model"
)

// timestampLayouts are tried in order. Zone-less values are taken as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// ParseTimestamp parses an ISO 8601 timestamp.
// Returns the zero time for empty or invalid input.
func ParseTimestamp(iso string) time.Time {
	iso = strings.TrimSpace(iso)
	if iso == "" {
		return time.Time{}
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, iso); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

// ToSession converts an API session to the model type.
func ToSession(s APISession) model.Session {
	id := s.ID
	if id == "" {
		id = s.StoreID
	}

	var expires time.Time
	if s.ExpiresAt != nil {
		expires = ParseTimestamp(*s.ExpiresAt)
	}

	return model.Session{
		ID:         id,
		SessionID:  s.SessionID,
		PhotoCount: s.PhotoCount,
		IsActive:   s.IsActive == nil || *s.IsActive,
		CreatedAt:  ParseTimestamp(s.CreatedAt),
		ExpiresAt:  expires,
	}
}

// ToSessions converts a session list, dropping entries without a session id.
func ToSessions(in []APISession) []model.Session {
	out := make([]model.Session, 0, len(in))
	for _, s := range in {
		if s.SessionID == "" {
			continue
		}
		out = append(out, ToSession(s))
	}
	return out
}

// ToPhoto converts an API photo to the model type.
func ToPhoto(sessionID string, p APIPhoto) model.Photo {
	return model.Photo{
		ID:         p.ID,
		Filename:   p.Filename,
		SessionID:  sessionID,
		URL:        p.URL,
		UploadedAt: ParseTimestamp(p.UploadedAt),
	}
}
