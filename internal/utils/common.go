package utils

import (
	"os"
	"unicode/utf8"
)

// GetProjectDir 获取项目根目录（当前工作目录）
func GetProjectDir() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	return dir
}

// TruncateString 按字符截断字符串，用于日志中打印模型原始输出
func TruncateString(s string, maxRunes int) string {
	if maxRunes <= 0 || utf8.RuneCountInString(s) <= maxRunes {
		return s
	}
	runes := []rune(s)
	return string(runes[:maxRunes]) + "..."
}
