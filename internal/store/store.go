package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"soteria-unit/internal/models"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// ErrVerifyMismatch 保存后落盘内容与本次变更不一致（verify 用旧侧修复了文件）
var ErrVerifyMismatch = errors.New("saved document does not match on-disk content")

// Store 配置文档的事务性存储（主/备双文件）
//
// flash 文件系统没有原子 rename，用两段式写入代替原子提交：
//  1. 序列化文档，写入备份文件并 fsync，读回逐字节比对；
//  2. 同样内容写入主文件并 fsync，读回比对。
//
// 任何一步失败都不抛出，只返回错误；每次 save 之后必须 verify，
// 关闭"备份已写、主文件未写"这个窗口。互斥锁横跨整个
// load→mutate→save→verify 序列，调度侧和控制 API 线程共用。
type Store struct {
	mu      sync.Mutex
	dir     string
	primary string
	backup  string
	version string
	logger  *zap.Logger
}

// New 创建存储
func New(dir, configFile, backupFile, versionFile string, logger *zap.Logger) *Store {
	return &Store{
		dir:     dir,
		primary: filepath.Join(dir, configFile),
		backup:  filepath.Join(dir, backupFile),
		version: filepath.Join(dir, versionFile),
		logger:  logger,
	}
}

// Load 加载文档：主文件 → 备份文件 → 默认文档，对调用者永不失败
func (s *Store) Load() *models.Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked()
}

func (s *Store) loadLocked() *models.Document {
	if doc, err := readDocument(s.primary); err == nil {
		return doc
	} else if !os.IsNotExist(err) {
		s.logger.Warn("Primary config unreadable, trying backup",
			zap.String("path", s.primary),
			zap.Error(err),
		)
	}

	if doc, err := readDocument(s.backup); err == nil {
		return doc
	} else if !os.IsNotExist(err) {
		s.logger.Warn("Backup config unreadable, using defaults",
			zap.String("path", s.backup),
			zap.Error(err),
		)
	}

	return models.Default()
}

func readDocument(path string) (*models.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc models.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse document: %w", err)
	}
	doc.Normalize()
	return &doc, nil
}

// Save 两段式保存：备份先行，读回比对，再写主文件
func (s *Store) Save(doc *models.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(doc)
}

func (s *Store) saveLocked(doc *models.Document) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to serialize document: %w", err)
	}

	// 1. 备份文件
	if err := writeAndReadBack(s.backup, data); err != nil {
		return fmt.Errorf("failed to commit backup file: %w", err)
	}

	// 2. 主文件
	if err := writeAndReadBack(s.primary, data); err != nil {
		return fmt.Errorf("failed to commit primary file: %w", err)
	}

	return nil
}

// writeAndReadBack 写入、强制落盘，再读回逐字节比对
func writeAndReadBack(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	_, werr := f.Write(data)
	serr := f.Sync()
	cerr := f.Close()
	if err := multierr.Combine(werr, serr, cerr); err != nil {
		return err
	}

	got, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if !bytes.Equal(got, data) {
		return fmt.Errorf("read-back mismatch on %s", filepath.Base(path))
	}
	return nil
}

// Verify 检测主/备分叉并修复：修改时间较新的一侧为准，覆盖另一侧
func (s *Store) Verify() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.verifyLocked()
}

func (s *Store) verifyLocked() error {
	pData, pErr := os.ReadFile(s.primary)
	bData, bErr := os.ReadFile(s.backup)

	switch {
	case os.IsNotExist(pErr) && os.IsNotExist(bErr):
		// 首次启动，两个文件都还不存在
		return nil
	case pErr == nil && bErr == nil && bytes.Equal(pData, bData):
		return nil
	}

	// 分叉（或一侧缺失/不可读）：较新的一侧为准
	winner, loser, data, err := s.pickWinner(pData, pErr, bData, bErr)
	if err != nil {
		return err
	}

	s.logger.Warn("Config files diverged, repairing",
		zap.String("winner", filepath.Base(winner)),
		zap.String("loser", filepath.Base(loser)),
	)

	if err := writeAndReadBack(loser, data); err != nil {
		return fmt.Errorf("failed to repair %s: %w", filepath.Base(loser), err)
	}
	return nil
}

// pickWinner 返回胜者路径、败者路径和胜者内容
func (s *Store) pickWinner(pData []byte, pErr error, bData []byte, bErr error) (string, string, []byte, error) {
	if pErr != nil && bErr != nil {
		return "", "", nil, multierr.Append(pErr, bErr)
	}
	if pErr != nil {
		return s.backup, s.primary, bData, nil
	}
	if bErr != nil {
		return s.primary, s.backup, pData, nil
	}

	pInfo, err := os.Stat(s.primary)
	if err != nil {
		return "", "", nil, err
	}
	bInfo, err := os.Stat(s.backup)
	if err != nil {
		return "", "", nil, err
	}
	if bInfo.ModTime().After(pInfo.ModTime()) {
		return s.backup, s.primary, bData, nil
	}
	return s.primary, s.backup, pData, nil
}

// Update 所有组件写路径的标准事务：
// 保留旧副本 → 变更 → 保存 → 校验 → 不一致则回滚旧副本
func (s *Store) Update(mutate func(doc *models.Document)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc := s.loadLocked()
	old := doc.Clone()
	mutate(doc)

	if err := s.saveLocked(doc); err != nil {
		return err
	}
	if err := s.verifyLocked(); err != nil {
		s.rollbackLocked(old)
		return err
	}
	// verify 可能用旧的一侧修复了文件：确认落盘内容就是本次变更
	if !s.matchesLocked(doc) {
		s.rollbackLocked(old)
		return ErrVerifyMismatch
	}
	return nil
}

// Commit 保存+校验但不回滚（云同步标记 synced 的路径：失败只记录，不重试）
func (s *Store) Commit(mutate func(doc *models.Document)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc := s.loadLocked()
	mutate(doc)
	if err := s.saveLocked(doc); err != nil {
		return err
	}
	return s.verifyLocked()
}

// Reset 整体替换文档（配网完成、恢复出厂），同样走回滚保护
func (s *Store) Reset(doc *models.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	old := s.loadLocked()
	doc.Normalize()

	if err := s.saveLocked(doc); err != nil {
		return err
	}
	if err := s.verifyLocked(); err != nil {
		s.rollbackLocked(old)
		return err
	}
	if !s.matchesLocked(doc) {
		s.rollbackLocked(old)
		return ErrVerifyMismatch
	}
	return nil
}

func (s *Store) rollbackLocked(old *models.Document) {
	s.logger.Warn("Config verification failed, rolling back")
	if err := s.saveLocked(old); err != nil {
		s.logger.Error("Failed to roll back config", zap.Error(err))
		return
	}
	if err := s.verifyLocked(); err != nil {
		s.logger.Error("Failed to verify rolled-back config", zap.Error(err))
	}
}

func (s *Store) matchesLocked(doc *models.Document) bool {
	want, err := json.Marshal(doc)
	if err != nil {
		return false
	}
	got, err := os.ReadFile(s.primary)
	if err != nil {
		return false
	}
	return bytes.Equal(want, got)
}

// FirmwareVersion 读取版本标记文件（由升级机制维护，这里只上报）
func (s *Store) FirmwareVersion() string {
	data, err := os.ReadFile(s.version)
	if err != nil {
		return "unknown"
	}
	v := strings.TrimSpace(string(data))
	if v == "" {
		return "unknown"
	}
	return v
}
