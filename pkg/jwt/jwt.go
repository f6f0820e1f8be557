package jwt

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// 토큰 검증 에러
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
)

// Claims 관리자 토큰 페이로드
// 회원 시스템에서 발급한 토큰(mb_id, mb_level)과 내부 발급 토큰(user_id, level)을 모두 읽는다
type Claims struct {
	jwt.RegisteredClaims
	UserID   string `json:"user_id,omitempty"`
	Nickname string `json:"nickname,omitempty"`
	Level    int    `json:"level,omitempty"`

	// 회원 시스템 형식
	MbID    string `json:"mb_id,omitempty"`
	MbName  string `json:"mb_name,omitempty"`
	MbLevel int    `json:"mb_level,omitempty"`
}

// GetUserID returns the user ID, checking both formats
func (c *Claims) GetUserID() string {
	if c.MbID != "" {
		return c.MbID
	}
	return c.UserID
}

// GetUserLevel returns the user level, checking both formats
func (c *Claims) GetUserLevel() int {
	if c.MbLevel != 0 {
		return c.MbLevel
	}
	return c.Level
}

// GetUserName returns the user name, checking both formats
func (c *Claims) GetUserName() string {
	if c.MbName != "" {
		return c.MbName
	}
	return c.Nickname
}

// Manager HMAC 서명 토큰 발급/검증
type Manager struct {
	secretKey []byte
	issuer    string
	ttl       time.Duration
}

// NewManager 생성자
func NewManager(secret, issuer string, ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Manager{
		secretKey: []byte(secret),
		issuer:    issuer,
		ttl:       ttl,
	}
}

// GenerateToken 운영 도구/테스트용 토큰 발급
func (m *Manager) GenerateToken(userID, nickname string, level int) (string, error) {
	now := time.Now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    m.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
		UserID:   userID,
		Nickname: nickname,
		Level:    level,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secretKey)
}

// VerifyToken 서명과 만료 검증
func (m *Manager) VerifyToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		// Validate signing method
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return m.secretKey, nil
	})

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}

	return nil, ErrInvalidToken
}
