package stor

import (
	"github.com/uteknoid/drived/pkg/drivedb/model"
	"gorm.io/gorm"
)

type TransferStor interface {
	CreateTransfer(t *model.Transfer) (*model.Transfer, error)
	GetTransferByID(id int64) (*model.Transfer, error)
	GetTransferByPath(accountName, remotePath string) (*model.Transfer, error)
	UpdateTransferStatus(t *model.Transfer, status model.Status) error
	UpdateTransferStatusAndResult(t *model.Transfer, status model.Status, result model.ResultCode) error
	UpdateTransferRemotePath(t *model.Transfer, remotePath string) error
	DeleteTransferByID(id int64) error
	DeleteTransferByPath(accountName, remotePath string) error
	DeleteTransfersForAccount(accountName string) error
	ListTransfers() ([]model.Transfer, error)
	ListTransfersForAccount(accountName string) ([]model.Transfer, error)
	FailInProgressTransfers(direction model.Direction, result model.ResultCode) (int64, error)
}

type CapabilityStor interface {
	GetCapabilityForAccount(accountName string) (*model.Capability, error)
	SetCapabilityForAccount(capability *model.Capability) (*model.Capability, error)
}

type Stors struct {
	TransferStor   TransferStor
	CapabilityStor CapabilityStor
}

func NewGormStors(db *gorm.DB) *Stors {
	return &Stors{
		TransferStor:   NewGormTransferStor(db),
		CapabilityStor: NewGormCapabilityStor(db),
	}
}

// NewInMemoryStors backs all the stores with maps; used in tests and by
// callers that don't need persistence across restarts.
func NewInMemoryStors() *Stors {
	return &Stors{
		TransferStor:   NewInMemoryTransferStor(),
		CapabilityStor: NewInMemoryCapabilityStor(),
	}
}
