// Package token 提供了用于验证身份提供方签发的 JSON Web Tokens (JWT) 的功能。
// 本服务不签发登录凭证，GenerateToken 仅用于测试与本地调试。
package token

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// JWTManager 负责 JWT 的验证。
type JWTManager struct {
	secretKey []byte
	issuer    string
}

// CustomClaims 定义了 JWT 中携带的调用方身份。
// 未设置 ownerId 时回退到标准的 sub 声明。
type CustomClaims struct {
	OwnerID string `json:"ownerId,omitempty"`
	jwt.RegisteredClaims
}

// Owner 返回调用方的用户 ID。
func (c *CustomClaims) Owner() string {
	if c.OwnerID != "" {
		return c.OwnerID
	}
	return c.Subject
}

// NewJWTManager 创建一个新的 JWTManager 实例。issuer 为空时不校验 iss。
func NewJWTManager(secret, issuer string) *JWTManager {
	return &JWTManager{secretKey: []byte(secret), issuer: issuer}
}

// GenerateToken 为给定用户签发一个短期 token。
func (m *JWTManager) GenerateToken(ownerID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := CustomClaims{
		OwnerID: ownerID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   ownerID,
			Issuer:    m.issuer,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secretKey)
}

// VerifyToken 验证给定的 token 字符串。
// 如果 token 有效，它会返回 CustomClaims 对象。
func (m *JWTManager) VerifyToken(tokenString string) (*CustomClaims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if m.issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.issuer))
	}
	token, err := jwt.ParseWithClaims(tokenString, &CustomClaims{}, func(token *jwt.Token) (interface{}, error) {
		return m.secretKey, nil
	}, opts...)
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*CustomClaims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.Owner() == "" {
		return nil, errors.New("token has no subject")
	}
	return claims, nil
}
