// Package dbrow converts ingest domain values into database row shapes.
package dbrow

import (
	"time"

	"github.com/google/uuid"

	"github.com/merchfeed/merchfeed/ingest"
)

// StagingOrder represents a staged order record as stored in the database.
// channel and source_kind are optional provenance columns: some deployments
// carry them, some do not.
type StagingOrder struct {
	ID          uuid.UUID `db:"id"`
	StoreDomain string    `db:"store_domain"`
	Channel     string    `db:"channel"`
	SourceKind  string    `db:"source_kind"`
	Payload     []byte    `db:"payload"`
	ReceivedAt  time.Time `db:"received_at"`
}

// StagingRecordsToRows converts staging records to [][]any for
// pgx.CopyFromRows, emitting values only for the columns the deployment's
// staging table actually has, in the given order.
func StagingRecordsToRows(records []ingest.StagingRecord, columns []string) [][]any {
	rows := make([][]any, len(records))

	for i, r := range records {
		row := make([]any, len(columns))
		for j, column := range columns {
			switch column {
			case "id":
				row[j] = r.ID
			case "store_domain":
				row[j] = r.StoreDomain
			case "channel":
				row[j] = r.Channel
			case "source_kind":
				row[j] = r.SourceKind
			case "payload":
				row[j] = r.Payload
			case "received_at":
				row[j] = r.ReceivedAt
			}
		}
		rows[i] = row
	}

	return rows
}
