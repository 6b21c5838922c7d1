package service

import (
	"context"
	"encoding/json"
	"fmt"

	"ggrd-rewards-bot/internal/model"
)

// ExportService provides the full-ledger export and the matching
// import used for backups and migrations.
type ExportService struct {
	members MemberStore
}

// NewExportService creates a new ExportService instance.
func NewExportService(members MemberStore) *ExportService {
	return &ExportService{members: members}
}

// Export returns every member record as indented JSON in first-contact
// order.
func (s *ExportService) Export(ctx context.Context) ([]byte, error) {
	members, err := s.members.Find(ctx, model.MemberFilter{})
	if err != nil {
		return nil, err
	}
	data, err := json.MarshalIndent(members, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode member export: %w", err)
	}
	return data, nil
}

// Import upserts member records from an Export payload. Existing rows
// are overwritten field by field. Returns the number of records stored.
func (s *ExportService) Import(ctx context.Context, data []byte) (int, error) {
	var members []*model.Member
	if err := json.Unmarshal(data, &members); err != nil {
		return 0, fmt.Errorf("failed to decode member import: %w", err)
	}
	for i, m := range members {
		if m == nil || m.TelegramID == 0 {
			return i, fmt.Errorf("invalid member record at index %d", i)
		}
		if err := s.members.Put(ctx, m); err != nil {
			return i, fmt.Errorf("failed to store member %d: %w", m.TelegramID, err)
		}
	}
	return len(members), nil
}
