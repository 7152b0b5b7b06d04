package ingest

import (
	"time"

	"github.com/google/uuid"
)

// StagingRecord is one raw fetched record, tagged with tenant and provenance.
// Staging is append-only: superseded records are resolved downstream by
// latest ReceivedAt, never by in-place mutation.
type StagingRecord struct {
	ID          uuid.UUID
	StoreDomain string
	Channel     string
	SourceKind  string
	Payload     []byte
	ReceivedAt  time.Time
}

// NewOrderRecord tags one raw order payload for staging.
func NewOrderRecord(storeDomain string, payload []byte, receivedAt time.Time) StagingRecord {
	return StagingRecord{
		ID:          uuid.New(),
		StoreDomain: storeDomain,
		Channel:     ChannelShopify,
		SourceKind:  SourceKindOrder,
		Payload:     payload,
		ReceivedAt:  receivedAt,
	}
}

// StagedPage is one fetched page together with its cursor checkpoint.
// An empty NextPageToken marks the window exhausted and clears the cursor.
type StagedPage struct {
	StoreDomain   string
	Records       []StagingRecord
	NextPageToken string
}
