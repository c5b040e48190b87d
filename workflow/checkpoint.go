package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/BaSui01/finrag/internal/cache"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrCheckpointNotFound 检查点不存在或已过期
var ErrCheckpointNotFound = errors.New("checkpoint not found")

// Checkpoint 挂起时持久化的工作流快照
type Checkpoint struct {
	WorkflowID     string            `json:"workflow_id"`
	ConversationID string            `json:"conversation_id,omitempty"`
	ResumeAt       Node              `json:"resume_at"`
	State          json.RawMessage   `json:"state"`
	Version        int               `json:"version"`
	CreatedAt      time.Time         `json:"created_at"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// NewCheckpoint serializes state into a checkpoint.
func NewCheckpoint(workflowID, conversationID string, resumeAt Node, state any) (*Checkpoint, error) {
	data, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("marshal checkpoint state: %w", err)
	}
	return &Checkpoint{
		WorkflowID:     workflowID,
		ConversationID: conversationID,
		ResumeAt:       resumeAt,
		State:          data,
		Version:        1,
		CreatedAt:      time.Now().UTC(),
	}, nil
}

// DecodeState unmarshals the stored state into dst.
func (c *Checkpoint) DecodeState(dst any) error {
	if err := json.Unmarshal(c.State, dst); err != nil {
		return fmt.Errorf("unmarshal checkpoint state: %w", err)
	}
	return nil
}

// CheckpointStore 检查点存储接口
type CheckpointStore interface {
	Save(ctx context.Context, cp *Checkpoint) error
	Load(ctx context.Context, workflowID string) (*Checkpoint, error)
	Delete(ctx context.Context, workflowID string) error
}

// =============================================================================
// 内存存储
// =============================================================================

// MemoryCheckpointStore keeps checkpoints in process memory.
type MemoryCheckpointStore struct {
	mu          sync.RWMutex
	checkpoints map[string]*Checkpoint
	ttl         time.Duration
	now         func() time.Time
}

// NewMemoryCheckpointStore creates an in-memory store. ttl <= 0 disables expiry.
func NewMemoryCheckpointStore(ttl time.Duration) *MemoryCheckpointStore {
	return &MemoryCheckpointStore{
		checkpoints: make(map[string]*Checkpoint),
		ttl:         ttl,
		now:         time.Now,
	}
}

func (s *MemoryCheckpointStore) Save(_ context.Context, cp *Checkpoint) error {
	if cp == nil || cp.WorkflowID == "" {
		return fmt.Errorf("checkpoint requires a workflow id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *cp
	if prev, ok := s.checkpoints[cp.WorkflowID]; ok {
		stored.Version = prev.Version + 1
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = s.now().UTC()
	}
	s.checkpoints[cp.WorkflowID] = &stored
	return nil
}

func (s *MemoryCheckpointStore) Load(_ context.Context, workflowID string) (*Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cp, ok := s.checkpoints[workflowID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCheckpointNotFound, workflowID)
	}
	if s.ttl > 0 && s.now().Sub(cp.CreatedAt) > s.ttl {
		return nil, fmt.Errorf("%w: %s expired", ErrCheckpointNotFound, workflowID)
	}
	out := *cp
	return &out, nil
}

func (s *MemoryCheckpointStore) Delete(_ context.Context, workflowID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.checkpoints, workflowID)
	return nil
}

// =============================================================================
// Redis 存储
// =============================================================================

const redisCheckpointPrefix = "finrag:checkpoint:"

// RedisCheckpointStore stores checkpoints as JSON values with a TTL.
type RedisCheckpointStore struct {
	cache  *cache.Manager
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisCheckpointStore wraps a cache manager.
func NewRedisCheckpointStore(manager *cache.Manager, ttl time.Duration, logger *zap.Logger) *RedisCheckpointStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisCheckpointStore{
		cache:  manager,
		ttl:    ttl,
		logger: logger.With(zap.String("component", "redis_checkpoint_store")),
	}
}

func (s *RedisCheckpointStore) key(workflowID string) string {
	return redisCheckpointPrefix + workflowID
}

func (s *RedisCheckpointStore) Save(ctx context.Context, cp *Checkpoint) error {
	if cp == nil || cp.WorkflowID == "" {
		return fmt.Errorf("checkpoint requires a workflow id")
	}
	stored := *cp
	var prev Checkpoint
	if err := s.cache.GetJSON(ctx, s.key(cp.WorkflowID), &prev); err == nil {
		stored.Version = prev.Version + 1
	}
	if err := s.cache.SetJSON(ctx, s.key(cp.WorkflowID), &stored, s.ttl); err != nil {
		return fmt.Errorf("save checkpoint %s: %w", cp.WorkflowID, err)
	}
	s.logger.Debug("checkpoint saved", zap.String("workflow_id", cp.WorkflowID), zap.Int("version", stored.Version))
	return nil
}

func (s *RedisCheckpointStore) Load(ctx context.Context, workflowID string) (*Checkpoint, error) {
	var cp Checkpoint
	if err := s.cache.GetJSON(ctx, s.key(workflowID), &cp); err != nil {
		if cache.IsCacheMiss(err) {
			return nil, fmt.Errorf("%w: %s", ErrCheckpointNotFound, workflowID)
		}
		return nil, fmt.Errorf("load checkpoint %s: %w", workflowID, err)
	}
	return &cp, nil
}

func (s *RedisCheckpointStore) Delete(ctx context.Context, workflowID string) error {
	return s.cache.Delete(ctx, s.key(workflowID))
}

// =============================================================================
// SQL 存储 (gorm)
// =============================================================================

// CheckpointRecord is the gorm model backing GormCheckpointStore.
type CheckpointRecord struct {
	WorkflowID     string `gorm:"primaryKey;size:64"`
	ConversationID string `gorm:"index;size:128"`
	ResumeAt       string `gorm:"size:64"`
	State          []byte
	Metadata       []byte
	Version        int
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// TableName implements gorm's tabler.
func (CheckpointRecord) TableName() string { return "workflow_checkpoints" }

// GormCheckpointStore persists checkpoints in a relational table.
type GormCheckpointStore struct {
	db     *gorm.DB
	ttl    time.Duration
	logger *zap.Logger
}

// NewGormCheckpointStore migrates the checkpoint table and returns a store.
func NewGormCheckpointStore(db *gorm.DB, ttl time.Duration, logger *zap.Logger) (*GormCheckpointStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := db.AutoMigrate(&CheckpointRecord{}); err != nil {
		return nil, fmt.Errorf("migrate checkpoint table: %w", err)
	}
	return &GormCheckpointStore{
		db:     db,
		ttl:    ttl,
		logger: logger.With(zap.String("component", "gorm_checkpoint_store")),
	}, nil
}

func (s *GormCheckpointStore) Save(ctx context.Context, cp *Checkpoint) error {
	if cp == nil || cp.WorkflowID == "" {
		return fmt.Errorf("checkpoint requires a workflow id")
	}
	meta, err := json.Marshal(cp.Metadata)
	if err != nil {
		return fmt.Errorf("marshal checkpoint metadata: %w", err)
	}
	createdAt := cp.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	rec := CheckpointRecord{
		WorkflowID:     cp.WorkflowID,
		ConversationID: cp.ConversationID,
		ResumeAt:       string(cp.ResumeAt),
		State:          cp.State,
		Metadata:       meta,
		Version:        1,
		CreatedAt:      createdAt,
	}

	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "workflow_id"}},
		DoUpdates: clause.Assignments(map[string]any{
			"conversation_id": rec.ConversationID,
			"resume_at":       rec.ResumeAt,
			"state":           rec.State,
			"metadata":        rec.Metadata,
			"version":         gorm.Expr("version + 1"),
			"created_at":      rec.CreatedAt,
			"updated_at":      time.Now().UTC(),
		}),
	}).Create(&rec).Error
	if err != nil {
		return fmt.Errorf("save checkpoint %s: %w", cp.WorkflowID, err)
	}
	return nil
}

func (s *GormCheckpointStore) Load(ctx context.Context, workflowID string) (*Checkpoint, error) {
	var rec CheckpointRecord
	err := s.db.WithContext(ctx).Where("workflow_id = ?", workflowID).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrCheckpointNotFound, workflowID)
	}
	if err != nil {
		return nil, fmt.Errorf("load checkpoint %s: %w", workflowID, err)
	}
	if s.ttl > 0 && time.Since(rec.CreatedAt) > s.ttl {
		return nil, fmt.Errorf("%w: %s expired", ErrCheckpointNotFound, workflowID)
	}

	cp := &Checkpoint{
		WorkflowID:     rec.WorkflowID,
		ConversationID: rec.ConversationID,
		ResumeAt:       Node(rec.ResumeAt),
		State:          json.RawMessage(rec.State),
		Version:        rec.Version,
		CreatedAt:      rec.CreatedAt,
	}
	if len(rec.Metadata) > 0 && string(rec.Metadata) != "null" {
		if err := json.Unmarshal(rec.Metadata, &cp.Metadata); err != nil {
			s.logger.Warn("discarding corrupt checkpoint metadata", zap.String("workflow_id", workflowID), zap.Error(err))
		}
	}
	return cp, nil
}

func (s *GormCheckpointStore) Delete(ctx context.Context, workflowID string) error {
	if err := s.db.WithContext(ctx).Where("workflow_id = ?", workflowID).Delete(&CheckpointRecord{}).Error; err != nil {
		return fmt.Errorf("delete checkpoint %s: %w", workflowID, err)
	}
	return nil
}

// 编译期接口检查
var (
	_ CheckpointStore = (*MemoryCheckpointStore)(nil)
	_ CheckpointStore = (*RedisCheckpointStore)(nil)
	_ CheckpointStore = (*GormCheckpointStore)(nil)
)
