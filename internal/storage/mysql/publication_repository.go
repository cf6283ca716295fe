package mysql

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// PublicationRecord 表示一次成功发布到注册中心的智能体。
type PublicationRecord struct {
	ID          int64  `json:"id,omitempty"`
	WorkflowID  string `json:"workflow_id"`
	AgentID     string `json:"agent_id"`
	AgentDID    string `json:"agent_did,omitempty"`
	WebhookURL  string `json:"webhook_url,omitempty"`
	JobID       string `json:"job_id,omitempty"`
	PublishedAt int64  `json:"published_at"`
}

// PublicationRepository 抽象发布记录的持久化接口。
type PublicationRepository interface {
	Save(ctx context.Context, record PublicationRecord) error
	ListLatest(ctx context.Context, limit int) ([]PublicationRecord, error)
	Close() error
}

const memoryRetention = 512

// MemoryPublicationRepository 将记录追加写入本地 JSON 行文件，并在内存保留最近的记录。
type MemoryPublicationRepository struct {
	mu       sync.RWMutex
	dataFile string
	records  []PublicationRecord
	nextID   int64
}

// NewMemoryPublicationRepository 创建文件仓库，启动时从 publications.log 恢复历史。
func NewMemoryPublicationRepository(dataDir string) (*MemoryPublicationRepository, error) {
	if dataDir == "" {
		dataDir = "."
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("创建数据目录失败: %w", err)
	}
	repo := &MemoryPublicationRepository{dataFile: filepath.Join(dataDir, "publications.log")}
	if err := repo.loadFromDisk(); err != nil {
		return nil, err
	}
	return repo, nil
}

// Save 以追加写的方式记录发布结果。
func (m *MemoryPublicationRepository) Save(_ context.Context, record PublicationRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	record.ID = m.nextID

	file, err := os.OpenFile(m.dataFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("打开发布日志失败: %w", err)
	}
	defer file.Close()

	encoded, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("序列化发布记录失败: %w", err)
	}
	if _, err := file.Write(append(encoded, '\n')); err != nil {
		return fmt.Errorf("写入发布日志失败: %w", err)
	}

	m.records = append([]PublicationRecord{record}, m.records...)
	if len(m.records) > memoryRetention {
		m.records = m.records[:memoryRetention]
	}
	return nil
}

// ListLatest 返回最近的发布记录，按时间倒序排列。
func (m *MemoryPublicationRepository) ListLatest(_ context.Context, limit int) ([]PublicationRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 || limit > len(m.records) {
		limit = len(m.records)
	}
	results := make([]PublicationRecord, limit)
	copy(results, m.records[:limit])
	return results, nil
}

// Close 对文件仓库无需操作。
func (m *MemoryPublicationRepository) Close() error { return nil }

func (m *MemoryPublicationRepository) loadFromDisk() error {
	file, err := os.OpenFile(m.dataFile, os.O_RDONLY|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("读取发布日志失败: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	var restored []PublicationRecord
	for scanner.Scan() {
		var record PublicationRecord
		if err := json.Unmarshal(scanner.Bytes(), &record); err != nil {
			continue
		}
		if record.ID > m.nextID {
			m.nextID = record.ID
		}
		restored = append([]PublicationRecord{record}, restored...)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("解析发布日志失败: %w", err)
	}
	if len(restored) > memoryRetention {
		restored = restored[:memoryRetention]
	}
	m.records = restored
	return nil
}

// SQLPublicationRepository 使用 MySQL 的 agent_publications 表保存发布记录。
type SQLPublicationRepository struct {
	db *sql.DB
}

// NewSQLPublicationRepository 基于已迁移的连接池创建仓库。
func NewSQLPublicationRepository(db *sql.DB) *SQLPublicationRepository {
	return &SQLPublicationRepository{db: db}
}

// Save 将发布记录写入 MySQL。
func (s *SQLPublicationRepository) Save(ctx context.Context, record PublicationRecord) error {
	const stmt = `INSERT INTO agent_publications
    (workflow_id, agent_id, agent_did, webhook_url, job_id, published_at)
    VALUES (?, ?, ?, ?, ?, ?)`

	if _, err := s.db.ExecContext(ctx, stmt,
		record.WorkflowID,
		record.AgentID,
		record.AgentDID,
		record.WebhookURL,
		record.JobID,
		record.PublishedAt,
	); err != nil {
		return fmt.Errorf("写入发布记录失败: %w", err)
	}
	return nil
}

// ListLatest 查询最近的若干条发布记录。
func (s *SQLPublicationRepository) ListLatest(ctx context.Context, limit int) ([]PublicationRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, `SELECT id, workflow_id, agent_id, agent_did, webhook_url, job_id, published_at
    FROM agent_publications ORDER BY published_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("查询发布记录失败: %w", err)
	}
	defer rows.Close()

	var records []PublicationRecord
	for rows.Next() {
		var record PublicationRecord
		if err := rows.Scan(&record.ID, &record.WorkflowID, &record.AgentID, &record.AgentDID, &record.WebhookURL, &record.JobID, &record.PublishedAt); err != nil {
			return nil, fmt.Errorf("解析发布记录失败: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("遍历发布记录失败: %w", err)
	}
	return records, nil
}

// Close 关闭底层数据库连接。
func (s *SQLPublicationRepository) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
