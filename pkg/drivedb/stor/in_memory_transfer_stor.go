package stor

import (
	"errors"
	"sync"
	"time"

	"github.com/hashicorp/go-uuid"
	"github.com/uteknoid/drived/pkg/drivedb/model"
	"gorm.io/gorm"
)

// InMemoryTransferStor implements TransferStor against a map. The transfer
// worker and the request side touch it from different goroutines, so all
// access goes through a mutex.
type InMemoryTransferStor struct {
	ErrToReturn error
	mu          sync.Mutex
	transfers   map[int64]*model.Transfer
	lastID      int64
}

func NewInMemoryTransferStor() *InMemoryTransferStor {
	return &InMemoryTransferStor{
		transfers: make(map[int64]*model.Transfer),
		lastID:    10000,
	}
}

func (s *InMemoryTransferStor) CreateTransfer(t *model.Transfer) (*model.Transfer, error) {
	if s.ErrToReturn != nil {
		return nil, s.ErrToReturn
	}

	if err := t.Validate(); err != nil {
		return nil, err
	}

	var err error
	if t.UUID, err = uuid.GenerateUUID(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastID++
	t.ID = s.lastID
	t.CreatedAt = time.Now()
	saved := *t
	s.transfers[t.ID] = &saved

	return t, nil
}

func (s *InMemoryTransferStor) GetTransferByID(id int64) (*model.Transfer, error) {
	if s.ErrToReturn != nil {
		return nil, s.ErrToReturn
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.transfers[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}

	found := *t
	return &found, nil
}

func (s *InMemoryTransferStor) GetTransferByPath(accountName, remotePath string) (*model.Transfer, error) {
	if s.ErrToReturn != nil {
		return nil, s.ErrToReturn
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var latest *model.Transfer
	for _, t := range s.transfers {
		if t.AccountName == accountName && t.RemotePath == remotePath {
			if latest == nil || t.ID > latest.ID {
				latest = t
			}
		}
	}

	if latest == nil {
		return nil, gorm.ErrRecordNotFound
	}

	found := *latest
	return &found, nil
}

func (s *InMemoryTransferStor) UpdateTransferStatus(t *model.Transfer, status model.Status) error {
	if s.ErrToReturn != nil {
		return s.ErrToReturn
	}

	t.SetStatus(status)

	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.transfers[t.ID]
	if !ok {
		return gorm.ErrRecordNotFound
	}

	stored.SetStatus(status)
	return nil
}

func (s *InMemoryTransferStor) UpdateTransferStatusAndResult(t *model.Transfer, status model.Status, result model.ResultCode) error {
	if s.ErrToReturn != nil {
		return s.ErrToReturn
	}

	t.SetStatus(status)
	t.SetLastResult(result)
	if status.IsTerminal() {
		now := time.Now()
		t.EndedAt = &now
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.transfers[t.ID]
	if !ok {
		return gorm.ErrRecordNotFound
	}

	stored.SetStatus(status)
	stored.SetLastResult(result)
	stored.EndedAt = t.EndedAt
	return nil
}

func (s *InMemoryTransferStor) UpdateTransferRemotePath(t *model.Transfer, remotePath string) error {
	if s.ErrToReturn != nil {
		return s.ErrToReturn
	}

	t.RemotePath = remotePath

	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.transfers[t.ID]
	if !ok {
		return gorm.ErrRecordNotFound
	}

	stored.RemotePath = remotePath
	return nil
}

func (s *InMemoryTransferStor) DeleteTransferByID(id int64) error {
	if s.ErrToReturn != nil {
		return s.ErrToReturn
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.transfers, id)
	return nil
}

func (s *InMemoryTransferStor) DeleteTransferByPath(accountName, remotePath string) error {
	if s.ErrToReturn != nil {
		return s.ErrToReturn
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for id, t := range s.transfers {
		if t.AccountName == accountName && t.RemotePath == remotePath {
			delete(s.transfers, id)
		}
	}

	return nil
}

func (s *InMemoryTransferStor) DeleteTransfersForAccount(accountName string) error {
	if s.ErrToReturn != nil {
		return s.ErrToReturn
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for id, t := range s.transfers {
		if t.AccountName == accountName {
			delete(s.transfers, id)
		}
	}

	return nil
}

func (s *InMemoryTransferStor) ListTransfers() ([]model.Transfer, error) {
	if s.ErrToReturn != nil {
		return nil, s.ErrToReturn
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var transfers []model.Transfer
	for _, t := range s.transfers {
		transfers = append(transfers, *t)
	}

	return transfers, nil
}

func (s *InMemoryTransferStor) ListTransfersForAccount(accountName string) ([]model.Transfer, error) {
	if s.ErrToReturn != nil {
		return nil, s.ErrToReturn
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var transfers []model.Transfer
	for _, t := range s.transfers {
		if t.AccountName == accountName {
			transfers = append(transfers, *t)
		}
	}

	return transfers, nil
}

func (s *InMemoryTransferStor) FailInProgressTransfers(direction model.Direction, result model.ResultCode) (int64, error) {
	if s.ErrToReturn != nil {
		return 0, s.ErrToReturn
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var count int64
	now := time.Now()
	for _, t := range s.transfers {
		if t.Status == model.StatusInProgress && t.Direction == direction {
			t.SetStatus(model.StatusFailed)
			t.SetLastResult(result)
			t.EndedAt = &now
			count++
		}
	}

	return count, nil
}

var ErrNotImplemented = errors.New("not implemented")
