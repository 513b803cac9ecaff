package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"mvsynth/model"
)

// Completion holds what a successful run leaves behind.
type Completion struct {
	OutputPath   string
	ObjectKey    string
	Duration     float64
	Tempo        float64
	SegmentCount int
	TimelineJSON string
}

// RunRepository 运行记录数据访问接口
type RunRepository interface {
	Create(ctx context.Context, run *model.Run) error
	// GetByID returns nil, nil when the run does not exist.
	GetByID(ctx context.Context, id string) (*model.Run, error)
	// List returns runs newest first.
	List(ctx context.Context, limit, offset int) ([]*model.Run, error)
	UpdateStatus(ctx context.Context, id string, status model.RunStatus, stage string, progress int) error
	Complete(ctx context.Context, id string, c Completion) error
	// Fail marks a run failed or cancelled with the given message.
	Fail(ctx context.Context, id string, status model.RunStatus, message string) error
}

// gormRunRepository GORM 实现
type gormRunRepository struct {
	db *gorm.DB
}

// NewGormRunRepository 创建 GORM 运行记录仓库
func NewGormRunRepository(db *gorm.DB) RunRepository {
	return &gormRunRepository{db: db}
}

func (r *gormRunRepository) Create(ctx context.Context, run *model.Run) error {
	return r.db.WithContext(ctx).Create(run).Error
}

func (r *gormRunRepository) GetByID(ctx context.Context, id string) (*model.Run, error) {
	var run model.Run
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&run).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &run, nil
}

func (r *gormRunRepository) List(ctx context.Context, limit, offset int) ([]*model.Run, error) {
	var runs []*model.Run
	err := r.db.WithContext(ctx).
		Omit("timeline").
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&runs).Error
	return runs, err
}

func (r *gormRunRepository) UpdateStatus(ctx context.Context, id string, status model.RunStatus, stage string, progress int) error {
	return r.db.WithContext(ctx).Model(&model.Run{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":   status,
			"stage":    stage,
			"progress": progress,
		}).Error
}

func (r *gormRunRepository) Complete(ctx context.Context, id string, c Completion) error {
	now := time.Now()
	return r.db.WithContext(ctx).Model(&model.Run{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":        model.RunSucceeded,
			"stage":         model.StageFinalize,
			"progress":      100,
			"output_path":   c.OutputPath,
			"object_key":    c.ObjectKey,
			"duration":      c.Duration,
			"tempo":         c.Tempo,
			"segment_count": c.SegmentCount,
			"timeline":      c.TimelineJSON,
			"finished_at":   now,
		}).Error
}

func (r *gormRunRepository) Fail(ctx context.Context, id string, status model.RunStatus, message string) error {
	now := time.Now()
	return r.db.WithContext(ctx).Model(&model.Run{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":      status,
			"error":       message,
			"finished_at": now,
		}).Error
}
