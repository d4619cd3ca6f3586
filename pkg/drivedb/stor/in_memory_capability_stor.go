package stor

import (
	"sync"

	"github.com/uteknoid/drived/pkg/drivedb/model"
	"gorm.io/gorm"
)

type InMemoryCapabilityStor struct {
	ErrToReturn  error
	mu           sync.Mutex
	capabilities map[string]*model.Capability
	lastID       int64
}

func NewInMemoryCapabilityStor() *InMemoryCapabilityStor {
	return &InMemoryCapabilityStor{
		capabilities: make(map[string]*model.Capability),
		lastID:       10000,
	}
}

func (s *InMemoryCapabilityStor) GetCapabilityForAccount(accountName string) (*model.Capability, error) {
	if s.ErrToReturn != nil {
		return nil, s.ErrToReturn
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	capability, ok := s.capabilities[accountName]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}

	found := *capability
	return &found, nil
}

func (s *InMemoryCapabilityStor) SetCapabilityForAccount(capability *model.Capability) (*model.Capability, error) {
	if s.ErrToReturn != nil {
		return nil, s.ErrToReturn
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.capabilities[capability.AccountName]; ok {
		capability.ID = existing.ID
	} else {
		s.lastID++
		capability.ID = s.lastID
	}

	saved := *capability
	s.capabilities[capability.AccountName] = &saved

	return capability, nil
}
