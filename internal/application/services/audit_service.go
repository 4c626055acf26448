package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strconv"

	"github.com/zatekoja/onesystem-clinic/internal/domain/entities"
	"github.com/zatekoja/onesystem-clinic/internal/domain/repositories"
	"github.com/zatekoja/onesystem-clinic/internal/domain/schema"
	apperrors "github.com/zatekoja/onesystem-clinic/pkg/errors"
)

// AuditService keeps the append-only audit log. Each record hashes its
// content together with the previous record's hash.
type AuditService struct {
	store repositories.Store
	clock Clock
}

// NewAuditService creates a new audit service
func NewAuditService(store repositories.Store, clock Clock) *AuditService {
	return &AuditService{store: store, clock: clock}
}

// Append adds a record to the end of the chain
func (s *AuditService) Append(ctx context.Context, user, deviceID, action string, meta interface{}) (*entities.AuditRecord, error) {
	if action == "" {
		return nil, apperrors.NewValidationError("audit action is required")
	}
	rawMeta, err := toPayload(meta)
	if err != nil {
		return nil, apperrors.NewValidationError("audit meta is not JSON-serializable")
	}

	var rec *entities.AuditRecord
	err = runTx(ctx, s.store, func(tx repositories.Tx) error {
		last, err := tx.Find(ctx, schema.Audits, repositories.Query{OrderBy: "id", Desc: true, Limit: 1})
		if err != nil {
			return err
		}
		prev := ""
		if len(last) == 1 {
			var l entities.AuditRecord
			if err := last[0].Decode(&l); err != nil {
				return apperrors.NewInternalError("audit record is corrupt", err)
			}
			prev = l.HashSelf
		}

		rec = &entities.AuditRecord{
			TS:       s.clock.Millis(),
			User:     user,
			DeviceID: deviceID,
			Action:   action,
			Meta:     rawMeta,
			HashPrev: prev,
		}
		rec.HashSelf = auditHash(rec)
		key, err := tx.Insert(ctx, schema.Audits, rec)
		if err != nil {
			return err
		}
		rec.ID, _ = strconv.ParseInt(key, 10, 64)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// List returns the most recent records, newest first
func (s *AuditService) List(ctx context.Context, limit int) ([]*entities.AuditRecord, error) {
	recs, err := s.store.Find(ctx, schema.Audits, repositories.Query{OrderBy: "id", Desc: true, Limit: limit})
	if err != nil {
		return nil, err
	}
	return decodeAll[entities.AuditRecord](recs)
}

// Verify walks the chain oldest first. It returns the id of the first record
// whose links do not hold, or 0 when the chain is intact.
func (s *AuditService) Verify(ctx context.Context) (int64, error) {
	recs, err := s.store.Find(ctx, schema.Audits, repositories.Query{OrderBy: "id"})
	if err != nil {
		return 0, err
	}
	records, err := decodeAll[entities.AuditRecord](recs)
	if err != nil {
		return 0, err
	}
	prev := ""
	for _, r := range records {
		if r.HashPrev != prev || auditHash(r) != r.HashSelf {
			return r.ID, nil
		}
		prev = r.HashSelf
	}
	return 0, nil
}

func auditHash(r *entities.AuditRecord) string {
	body, _ := json.Marshal(struct {
		TS       int64           `json:"ts"`
		User     string          `json:"user"`
		DeviceID string          `json:"device_id"`
		Action   string          `json:"action"`
		Meta     json.RawMessage `json:"meta,omitempty"`
		HashPrev string          `json:"hash_prev"`
	}{r.TS, r.User, r.DeviceID, r.Action, canonicalJSON(r.Meta), r.HashPrev})
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// canonicalJSON re-encodes raw with sorted keys and no insignificant
// whitespace, so a backend that reformats stored JSON keeps hashes stable.
func canonicalJSON(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return nil
	}
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return raw
	}
	out, err := json.Marshal(v)
	if err != nil {
		return raw
	}
	return out
}
