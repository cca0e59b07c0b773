package auth

import (
	"fmt"

	"github.com/artieeg/warpy-media/internal/core/domain"

	"github.com/golang-jwt/jwt/v5"
)

// MediaPermissions is the claim set carried by a media permissions token. A
// publish request is honored only when the token covers the user, the room
// and the requested kind of media.
type MediaPermissions struct {
	User      domain.UserID   `json:"user"`
	Room      domain.StreamID `json:"room"`
	Audio     bool            `json:"audio"`
	Video     bool            `json:"video"`
	RecvMedia bool            `json:"recvMedia"`
	jwt.RegisteredClaims
}

// Allows reports whether the token grants publishing the given media kind.
func (p *MediaPermissions) Allows(kind domain.MediaKind) bool {
	switch kind {
	case domain.KindAudio:
		return p.Audio
	case domain.KindVideo:
		return p.Video
	default:
		return false
	}
}

// Verifier validates media permissions tokens signed with a shared secret.
type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Verify parses and validates the token, returning its permission claims.
func (v *Verifier) Verify(token string) (*MediaPermissions, error) {
	claims := &MediaPermissions{}

	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrPermissionDenied, err)
	}
	if !parsed.Valid {
		return nil, domain.ErrPermissionDenied
	}

	return claims, nil
}

// Sign produces a token for the given permissions. Used by trusted services
// issuing publish grants and by tests.
func (v *Verifier) Sign(p MediaPermissions) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, &p)
	signed, err := token.SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign media token: %w", err)
	}
	return signed, nil
}
