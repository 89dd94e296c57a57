package repository

import (
	"github.com/examly/hallpass/internal/model"
	"gorm.io/gorm"
)

type QuestionRepository interface {
	ExistsInExam(questionID, examID uint) (bool, error)
}

type questionRepository struct {
	db *gorm.DB
}

func NewQuestionRepository(db *gorm.DB) QuestionRepository {
	return &questionRepository{db: db}
}

func (r *questionRepository) ExistsInExam(questionID, examID uint) (bool, error) {
	var count int64
	err := r.db.Model(&model.Question{}).
		Where("id = ? AND exam_id = ?", questionID, examID).
		Count(&count).Error
	return count > 0, err
}
