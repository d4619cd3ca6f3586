package stor

import (
	"time"

	"github.com/hashicorp/go-uuid"
	"github.com/uteknoid/drived/pkg/drivedb/model"
	"gorm.io/gorm"
)

type GormTransferStor struct {
	db *gorm.DB
}

func NewGormTransferStor(db *gorm.DB) *GormTransferStor {
	return &GormTransferStor{db: db}
}

func (s *GormTransferStor) CreateTransfer(t *model.Transfer) (*model.Transfer, error) {
	var err error

	if err = t.Validate(); err != nil {
		return nil, err
	}

	if t.UUID, err = uuid.GenerateUUID(); err != nil {
		return nil, err
	}

	// Let the database assign the id.
	t.ID = 0

	err = WithTxRetry(s.db, func(tx *gorm.DB) error {
		return tx.Create(t).Error
	})

	if err != nil {
		t.ID = model.UnpersistedID
		return nil, err
	}

	return t, nil
}

func (s *GormTransferStor) GetTransferByID(id int64) (*model.Transfer, error) {
	var transfer model.Transfer
	err := s.db.Where("id = ?", id).First(&transfer).Error
	if err != nil {
		return nil, err
	}
	return &transfer, nil
}

func (s *GormTransferStor) GetTransferByPath(accountName, remotePath string) (*model.Transfer, error) {
	var transfer model.Transfer
	err := s.db.Where("account_name = ? and remote_path = ?", accountName, remotePath).
		Order("id desc").
		First(&transfer).Error
	if err != nil {
		return nil, err
	}
	return &transfer, nil
}

func (s *GormTransferStor) UpdateTransferStatus(t *model.Transfer, status model.Status) error {
	t.SetStatus(status)
	return WithTxRetry(s.db, func(tx *gorm.DB) error {
		return tx.Model(t).Updates(map[string]interface{}{
			"status":      t.Status,
			"last_result": t.LastResult,
		}).Error
	})
}

func (s *GormTransferStor) UpdateTransferStatusAndResult(t *model.Transfer, status model.Status, result model.ResultCode) error {
	t.SetStatus(status)
	t.SetLastResult(result)

	updates := map[string]interface{}{
		"status":      t.Status,
		"last_result": t.LastResult,
	}

	if status.IsTerminal() {
		now := time.Now()
		t.EndedAt = &now
		updates["ended_at"] = t.EndedAt
	}

	return WithTxRetry(s.db, func(tx *gorm.DB) error {
		return tx.Model(t).Updates(updates).Error
	})
}

func (s *GormTransferStor) UpdateTransferRemotePath(t *model.Transfer, remotePath string) error {
	t.RemotePath = remotePath
	return WithTxRetry(s.db, func(tx *gorm.DB) error {
		return tx.Model(t).Update("remote_path", remotePath).Error
	})
}

func (s *GormTransferStor) DeleteTransferByID(id int64) error {
	return WithTxRetry(s.db, func(tx *gorm.DB) error {
		return tx.Where("id = ?", id).Delete(&model.Transfer{}).Error
	})
}

func (s *GormTransferStor) DeleteTransferByPath(accountName, remotePath string) error {
	return WithTxRetry(s.db, func(tx *gorm.DB) error {
		return tx.Where("account_name = ? and remote_path = ?", accountName, remotePath).
			Delete(&model.Transfer{}).Error
	})
}

func (s *GormTransferStor) DeleteTransfersForAccount(accountName string) error {
	return WithTxRetry(s.db, func(tx *gorm.DB) error {
		return tx.Where("account_name = ?", accountName).Delete(&model.Transfer{}).Error
	})
}

func (s *GormTransferStor) ListTransfers() ([]model.Transfer, error) {
	var transfers []model.Transfer
	err := s.db.Order("id").Find(&transfers).Error
	return transfers, err
}

func (s *GormTransferStor) ListTransfersForAccount(accountName string) ([]model.Transfer, error) {
	var transfers []model.Transfer
	err := s.db.Where("account_name = ?", accountName).Order("id").Find(&transfers).Error
	return transfers, err
}

// FailInProgressTransfers marks every record a previous process lifetime left
// in-progress as failed with the given result. Run before accepting new work so
// the history never shows a stale in-progress state after a crash. Only touches
// the given direction: the other direction's service recovers its own records,
// and may already be running when this one starts.
func (s *GormTransferStor) FailInProgressTransfers(direction model.Direction, result model.ResultCode) (int64, error) {
	var count int64

	now := time.Now()
	err := WithTxRetry(s.db, func(tx *gorm.DB) error {
		res := tx.Model(&model.Transfer{}).
			Where("status = ? AND direction = ?", model.StatusInProgress, direction).
			Updates(map[string]interface{}{
				"status":      model.StatusFailed,
				"last_result": result,
				"ended_at":    &now,
			})
		count = res.RowsAffected
		return res.Error
	})

	return count, err
}
