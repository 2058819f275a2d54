package adapter

import (
	"context"
	"encoding/json"
)

// AuditArchive keeps raw provider payloads outside the primary database.
type AuditArchive interface {
	Archive(ctx context.Context, paymentID, event string, payload json.RawMessage) error
}
