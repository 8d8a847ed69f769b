package cron

import (
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/qs3c/agent_review_server/internal/model"
	"github.com/qs3c/agent_review_server/internal/repository"
)

const staleMessage = "任务超时未完成，可能因服务重启中断"

// Service 定期巡检：把卡死的任务标记为失败，清理遗留工作目录
type Service struct {
	analysisRepo  *repository.AnalysisRepository
	fixJobRepo    *repository.FixJobRepository
	workspaceRoot string
	staleAfter    time.Duration
	interval      time.Duration
	stopChan      chan struct{}
}

func NewService(
	analysisRepo *repository.AnalysisRepository,
	fixJobRepo *repository.FixJobRepository,
	workspaceRoot string,
	staleAfterMinutes, intervalMinutes int,
) *Service {
	if staleAfterMinutes <= 0 {
		staleAfterMinutes = 60
	}
	if intervalMinutes <= 0 {
		intervalMinutes = 10
	}
	return &Service{
		analysisRepo:  analysisRepo,
		fixJobRepo:    fixJobRepo,
		workspaceRoot: workspaceRoot,
		staleAfter:    time.Duration(staleAfterMinutes) * time.Minute,
		interval:      time.Duration(intervalMinutes) * time.Minute,
		stopChan:      make(chan struct{}),
	}
}

// Start 启动定时巡检
func (s *Service) Start() {
	go s.loop()
	log.Println("Cron service started (stale sweep + workspace cleanup)")
}

// Stop 停止定时巡检
func (s *Service) Stop() {
	close(s.stopChan)
	log.Println("Cron service stopped")
}

func (s *Service) loop() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.RunOnce()
		}
	}
}

// RunOnce 执行一轮巡检，返回标记失败和清理目录的数量
func (s *Service) RunOnce() (int, int) {
	swept := s.sweepStaleJobs()
	cleaned := s.cleanupWorkspaces()
	if swept > 0 || cleaned > 0 {
		log.Printf("Cron summary: stale jobs failed=%d, workspaces removed=%d", swept, cleaned)
	}
	return swept, cleaned
}

// sweepStaleJobs 把超过阈值未更新的非终态任务标记为失败
func (s *Service) sweepStaleJobs() int {
	cutoff := time.Now().Add(-s.staleAfter)
	swept := 0

	analyses, err := s.analysisRepo.ListStale(cutoff)
	if err != nil {
		log.Printf("Cron: failed to list stale analyses: %v", err)
	} else {
		for _, a := range analyses {
			now := time.Now()
			if err := s.analysisRepo.UpdateFields(a.ID, map[string]interface{}{
				"status":        model.StatusFailed,
				"message":       staleMessage,
				"error_message": staleMessage,
				"completed_at":  &now,
			}); err != nil {
				log.Printf("Cron: failed to mark analysis %s stale: %v", a.ID, err)
				continue
			}
			swept++
		}
	}

	fixJobs, err := s.fixJobRepo.ListStale(cutoff)
	if err != nil {
		log.Printf("Cron: failed to list stale fix jobs: %v", err)
	} else {
		for _, j := range fixJobs {
			now := time.Now()
			if err := s.fixJobRepo.UpdateFields(j.ID, map[string]interface{}{
				"status":        model.FixStatusFailed,
				"message":       staleMessage,
				"error_message": staleMessage,
				"completed_at":  &now,
			}); err != nil {
				log.Printf("Cron: failed to mark fix job %s stale: %v", j.ID, err)
				continue
			}
			swept++
		}
	}

	return swept
}

// cleanupWorkspaces 删除超过阈值未改动的遗留工作目录
func (s *Service) cleanupWorkspaces() int {
	if s.workspaceRoot == "" {
		return 0
	}

	entries, err := os.ReadDir(s.workspaceRoot)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Printf("Cron: failed to read workspace root %s: %v", s.workspaceRoot, err)
		}
		return 0
	}

	cleaned := 0
	for _, entry := range entries {
		// transcripts 目录由补传任务管理
		if !entry.IsDir() || entry.Name() == "transcripts" {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}

		if time.Since(info.ModTime()) > s.staleAfter {
			dirPath := filepath.Join(s.workspaceRoot, entry.Name())
			if err := os.RemoveAll(dirPath); err != nil {
				log.Printf("Cron: failed to remove %s: %v", dirPath, err)
			} else {
				cleaned++
			}
		}
	}
	return cleaned
}
