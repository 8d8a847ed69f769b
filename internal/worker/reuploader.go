package worker

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/qs3c/agent_review_server/config"
	"github.com/qs3c/agent_review_server/internal/pkg/oss"
	"github.com/qs3c/agent_review_server/internal/repository"
)

const reuploadInterval = 5 * time.Minute

// Reuploader 后台把落在本地的转录补传到 OSS
type Reuploader struct {
	analysisRepo *repository.AnalysisRepository
	ossClient    *oss.Client
	cfg          *config.Config
}

func NewReuploader(
	analysisRepo *repository.AnalysisRepository,
	ossClient *oss.Client,
	cfg *config.Config,
) *Reuploader {
	return &Reuploader{
		analysisRepo: analysisRepo,
		ossClient:    ossClient,
		cfg:          cfg,
	}
}

// Start 启动后台补传循环
func (r *Reuploader) Start(ctx context.Context) {
	// 启动后先执行一次
	r.run()

	ticker := time.NewTicker(reuploadInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Reuploader stopped")
			return
		case <-ticker.C:
			r.run()
		}
	}
}

func (r *Reuploader) run() {
	if r.ossClient == nil {
		return
	}

	analyses, err := r.analysisRepo.ListLocalTranscripts()
	if err != nil {
		log.Printf("Reuploader: failed to query local transcripts: %v", err)
		return
	}

	if len(analyses) == 0 {
		return
	}

	log.Printf("Reuploader: found %d local transcripts to re-upload", len(analyses))

	for _, a := range analyses {
		id := strings.TrimPrefix(a.TranscriptURL, "local://")
		localPath := filepath.Join(r.cfg.Workspace.TempDir, "transcripts", id+".txt")
		data, err := os.ReadFile(localPath)
		if err != nil {
			log.Printf("Reuploader: failed to read local transcript %s: %v", a.ID, err)
			continue
		}

		ossURL, err := r.ossClient.UploadTranscript(a.ID, data)
		if err != nil {
			log.Printf("Reuploader: failed to re-upload transcript %s: %v", a.ID, err)
			continue
		}

		if err := r.analysisRepo.UpdateFields(a.ID, map[string]interface{}{
			"transcript_url": ossURL,
		}); err != nil {
			log.Printf("Reuploader: failed to update DB for transcript %s: %v", a.ID, err)
			continue
		}

		os.Remove(localPath)
		log.Printf("Reuploader: successfully re-uploaded transcript %s to OSS", a.ID)
	}
}
