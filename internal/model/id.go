package model

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// GenerateID 生成任务 ID：毫秒时间戳 + 随机后缀，保证可排序且基本不冲突
func GenerateID(prefix string) string {
	suffix := make([]byte, 4)
	if _, err := rand.Read(suffix); err != nil {
		// crypto/rand 失败时退化为纳秒时间戳后缀
		return fmt.Sprintf("%s_%d_%d", prefix, time.Now().UnixMilli(), time.Now().UnixNano()%100000)
	}
	return fmt.Sprintf("%s_%d_%s", prefix, time.Now().UnixMilli(), hex.EncodeToString(suffix))
}
