package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// checkpointRow 对应 flow_checkpoints 表，由 internal/migration 创建
type checkpointRow struct {
	RunID     string    `gorm:"column:run_id;primaryKey;size:64"`
	FlowID    string    `gorm:"column:flow_id;size:128;not null;index:idx_flow_checkpoints_flow"`
	Status    string    `gorm:"column:status;size:16;not null"`
	Data      string    `gorm:"column:data;type:text;not null"`
	UpdatedAt time.Time `gorm:"column:updated_at;not null;autoUpdateTime:false"`
}

func (checkpointRow) TableName() string {
	return "flow_checkpoints"
}

// ====== SQL 实现 ======

// SQLCheckpointStore persists checkpoints in the flow_checkpoints table
// through gorm. Any dialect gorm supports works; the schema is owned by
// internal/migration.
type SQLCheckpointStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewSQLCheckpointStore 创建 SQL 检查点存储
func NewSQLCheckpointStore(db *gorm.DB, logger *zap.Logger) *SQLCheckpointStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SQLCheckpointStore{db: db, logger: logger.With(zap.String("store", "sql_checkpoint"))}
}

// Save upserts the record of cp.RunID.
func (s *SQLCheckpointStore) Save(ctx context.Context, cp *Checkpoint) error {
	data, err := cp.marshal()
	if err != nil {
		return err
	}
	row := checkpointRow{
		RunID:     cp.RunID,
		FlowID:    cp.FlowID,
		Status:    string(cp.Status),
		Data:      string(data),
		UpdatedAt: cp.UpdatedAt,
	}
	err = s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "run_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"flow_id", "status", "data", "updated_at"}),
		}).
		Create(&row).Error
	if err != nil {
		return fmt.Errorf("save checkpoint %s: %w", cp.RunID, err)
	}

	s.logger.Debug("checkpoint saved to database",
		zap.String("run_id", cp.RunID),
		zap.String("status", row.Status),
	)
	return nil
}

func (s *SQLCheckpointStore) Load(ctx context.Context, runID string) (*Checkpoint, error) {
	var row checkpointRow
	err := s.db.WithContext(ctx).Where("run_id = ?", runID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrCheckpointNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("load checkpoint %s: %w", runID, err)
	}
	return decodeCheckpoint([]byte(row.Data))
}

func (s *SQLCheckpointStore) List(ctx context.Context, flowID string) ([]*Checkpoint, error) {
	var rows []checkpointRow
	err := s.db.WithContext(ctx).
		Where("flow_id = ?", flowID).
		Order("updated_at DESC").
		Order("run_id").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list checkpoints of %s: %w", flowID, err)
	}

	out := make([]*Checkpoint, 0, len(rows))
	for _, row := range rows {
		cp, err := decodeCheckpoint([]byte(row.Data))
		if err != nil {
			s.logger.Warn("failed to decode checkpoint", zap.String("run_id", row.RunID), zap.Error(err))
			continue
		}
		out = append(out, cp)
	}
	return out, nil
}

func (s *SQLCheckpointStore) Delete(ctx context.Context, runID string) error {
	if err := s.db.WithContext(ctx).Where("run_id = ?", runID).Delete(&checkpointRow{}).Error; err != nil {
		return fmt.Errorf("delete checkpoint %s: %w", runID, err)
	}
	return nil
}
