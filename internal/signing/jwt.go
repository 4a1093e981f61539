package signing

import (
	"errors"
	"fmt"
	"time"

	"gps2rest/internal/model"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Claims 는 전송 요청에 붙는 JWT payload.
type Claims struct {
	Lat float64  `json:"lat"`
	Lon float64  `json:"lon"`
	Acc *float64 `json:"acc,omitempty"`
	jwt.RegisteredClaims
}

// keyStoreMethod
//
// HS256 서명을 KeyStore 에 위임하는 jwt.SigningMethod.
// 전역 registry 에는 등록하지 않는다 (검증은 표준 HS256 이 한다).
type keyStoreMethod struct{}

var errVerifyUnsupported = errors.New("key store method only signs")

func (keyStoreMethod) Alg() string { return jwt.SigningMethodHS256.Alg() }

func (keyStoreMethod) Sign(signingString string, key interface{}) ([]byte, error) {
	ks, ok := key.(KeyStore)
	if !ok {
		return nil, jwt.ErrInvalidKeyType
	}
	return ks.Sign([]byte(signingString))
}

func (keyStoreMethod) Verify(string, []byte, interface{}) error {
	return errVerifyUnsupported
}

// Signer 는 좌표마다 짧은 수명의 토큰을 만든다.
type Signer struct {
	keys   KeyStore
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

func NewSigner(keys KeyStore, issuer string) *Signer {
	return &Signer{
		keys:   keys,
		issuer: issuer,
		ttl:    5 * time.Minute,
		now:    time.Now,
	}
}

// Ready reports whether a key is installed.
func (s *Signer) Ready() bool {
	return s != nil && s.keys != nil && s.keys.HasSigningKey()
}

// Token 은 전송되는 좌표(변환 후)를 claim 으로 담는다.
func (s *Signer) Token(c model.Coordinate) (string, error) {
	if !s.Ready() {
		return "", ErrNoKey
	}

	now := s.now()
	claims := &Claims{
		Lat: c.Latitude,
		Lon: c.Longitude,
		Acc: c.Accuracy,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			ID:        uuid.NewString(),
		},
	}

	tok, err := jwt.NewWithClaims(keyStoreMethod{}, claims).SignedString(s.keys)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return tok, nil
}
