package config

import (
	"os"

	"github.com/joho/godotenv"
)

// LoadDotEnv .env.<env>.local > .env.<env> > .env.local > .env 순으로 로드.
// godotenv.Load는 이미 설정된 값을 덮어쓰지 않으므로 OS 환경 변수가 항상 우선.
// 실제로 읽은 파일 목록 반환
func LoadDotEnv(env string) []string {
	candidates := []string{".env.local", ".env"}
	if env != "" {
		candidates = append([]string{".env." + env + ".local", ".env." + env}, candidates...)
	}

	var loaded []string
	for _, f := range candidates {
		if _, err := os.Stat(f); err == nil {
			loaded = append(loaded, f)
		}
	}
	if len(loaded) > 0 {
		_ = godotenv.Load(loaded...)
	}
	return loaded
}
