package stor

import (
	"github.com/uteknoid/drived/pkg/drivedb/model"
	"gorm.io/gorm"
)

type GormCapabilityStor struct {
	db *gorm.DB
}

func NewGormCapabilityStor(db *gorm.DB) *GormCapabilityStor {
	return &GormCapabilityStor{db: db}
}

func (s *GormCapabilityStor) GetCapabilityForAccount(accountName string) (*model.Capability, error) {
	var capability model.Capability
	err := s.db.Where("account_name = ?", accountName).First(&capability).Error
	if err != nil {
		return nil, err
	}
	return &capability, nil
}

func (s *GormCapabilityStor) SetCapabilityForAccount(capability *model.Capability) (*model.Capability, error) {
	err := WithTxRetry(s.db, func(tx *gorm.DB) error {
		var existing model.Capability
		if tx.Where("account_name = ?", capability.AccountName).First(&existing).Error == nil {
			capability.ID = existing.ID
			return tx.Save(capability).Error
		}
		return tx.Create(capability).Error
	})

	if err != nil {
		return nil, err
	}

	return capability, nil
}
