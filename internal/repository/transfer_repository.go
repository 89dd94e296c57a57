package repository

import (
	"time"

	"github.com/examly/hallpass/internal/model"
	"github.com/pkg/errors"
	"gorm.io/gorm"
)

// ErrTransferNotApproved is returned by CompleteMigration when the
// transfer left the approved state between snapshot and commit.
var ErrTransferNotApproved = errors.New("transfer is no longer approved")

type TransferRepository interface {
	Create(transfer *model.Transfer) error
	FindByID(id uint) (*model.Transfer, error)
	Update(transfer *model.Transfer) error
	// FindActiveByAttempt returns the pending or approved transfer for an
	// attempt, if any. At most one may exist at a time.
	FindActiveByAttempt(attemptID uint) (*model.Transfer, error)
	FindAll() ([]model.Transfer, error)
	FindAllByRequester(userID uint) ([]model.Transfer, error)
	// CompleteMigration atomically rebinds the attempt's workstation,
	// increments its transfer counter, and marks the transfer completed
	// with the migration checksum. The transfer must still be approved at
	// commit time or nothing is written.
	CompleteMigration(transfer *model.Transfer, attempt *model.Attempt) error
}

type transferRepository struct {
	db *gorm.DB
}

func NewTransferRepository(db *gorm.DB) TransferRepository {
	return &transferRepository{db: db}
}

func (r *transferRepository) Create(transfer *model.Transfer) error {
	return r.db.Create(transfer).Error
}

func (r *transferRepository) FindByID(id uint) (*model.Transfer, error) {
	var transfer model.Transfer
	if err := r.db.First(&transfer, id).Error; err != nil {
		return nil, err
	}
	return &transfer, nil
}

func (r *transferRepository) Update(transfer *model.Transfer) error {
	return r.db.Save(transfer).Error
}

func (r *transferRepository) FindActiveByAttempt(attemptID uint) (*model.Transfer, error) {
	var transfer model.Transfer
	err := r.db.
		Where("attempt_id = ? AND status IN ?", attemptID,
			[]model.TransferStatus{model.TransferPending, model.TransferApproved}).
		First(&transfer).Error
	if err != nil {
		return nil, err
	}
	return &transfer, nil
}

func (r *transferRepository) FindAll() ([]model.Transfer, error) {
	var transfers []model.Transfer
	err := r.db.Order("created_at DESC").Find(&transfers).Error
	return transfers, err
}

func (r *transferRepository) FindAllByRequester(userID uint) ([]model.Transfer, error) {
	var transfers []model.Transfer
	err := r.db.Where("requested_by_id = ?", userID).Order("created_at DESC").Find(&transfers).Error
	return transfers, err
}

func (r *transferRepository) CompleteMigration(transfer *model.Transfer, attempt *model.Attempt) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		// Check-then-commit: refuse if another actor moved the transfer
		// out of approved since the snapshot was taken.
		var current model.Transfer
		if err := tx.First(&current, transfer.ID).Error; err != nil {
			return errors.Wrap(err, "failed to reload transfer")
		}
		if current.Status != model.TransferApproved {
			return ErrTransferNotApproved
		}

		now := time.Now()
		transfer.Status = model.TransferCompleted
		transfer.CompletedAt = &now

		if err := tx.Save(attempt).Error; err != nil {
			return errors.Wrap(err, "failed to update attempt workstation binding")
		}
		if err := tx.Save(transfer).Error; err != nil {
			return errors.Wrap(err, "failed to complete transfer")
		}
		return nil
	})
}
