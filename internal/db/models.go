package db

import (
	"encoding/json"
	"time"
)

// PageIdentityRecord maps pageid.page_identities.
type PageIdentityRecord struct {
	PageIdentityID   string          `gorm:"column:page_identity_id;type:uuid;primaryKey;default:gen_random_uuid()"`
	CanonicalURL     *string         `gorm:"column:canonical_url;type:text"`
	NormalizedURL    string          `gorm:"column:normalized_url;type:text;not null"`
	SourceURLs       json.RawMessage `gorm:"column:source_urls;type:jsonb;not null;default:'[]'"`
	ContentSignature string          `gorm:"column:content_signature;type:text;not null"`
	LayoutSignature  string          `gorm:"column:layout_signature;type:text;not null"`
	LayoutTokens     json.RawMessage `gorm:"column:layout_tokens;type:jsonb;not null;default:'[]'"`
	TextTokenSample  int             `gorm:"column:text_token_sample;type:integer;not null;default:0"`
	GeneratedAt      *time.Time      `gorm:"column:generated_at;type:timestamptz"`
	LastSeenAt       time.Time       `gorm:"column:last_seen_at;type:timestamptz;not null;default:now()"`
	CreatedAt        time.Time       `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
	UpdatedAt        time.Time       `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
}

func (PageIdentityRecord) TableName() string { return "pageid.page_identities" }

// ResolutionEvent maps pageid.resolution_events, one row per resolve verdict.
type ResolutionEvent struct {
	EventID        int64           `gorm:"column:event_id;primaryKey;autoIncrement"`
	EventUUID      string          `gorm:"column:event_uuid;type:uuid;not null;default:gen_random_uuid();unique"`
	PageIdentityID string          `gorm:"column:page_identity_id;type:uuid;not null"`
	NormalizedURL  string          `gorm:"column:normalized_url;type:text;not null"`
	SourceURL      *string         `gorm:"column:source_url;type:text"`
	Matched        bool            `gorm:"column:matched;type:boolean;not null"`
	CanonicalMatch bool            `gorm:"column:canonical_match;type:boolean;not null"`
	Confidence     float64         `gorm:"column:confidence;type:double precision;not null"`
	Reasons        json.RawMessage `gorm:"column:reasons;type:jsonb;not null;default:'[]'"`
	CandidateCount int             `gorm:"column:candidate_count;type:integer;not null;default:0"`
	CreatedAt      time.Time       `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
}

func (ResolutionEvent) TableName() string { return "pageid.resolution_events" }

func autoMigrateModels() []any {
	return []any{
		&PageIdentityRecord{},
		&ResolutionEvent{},
	}
}
