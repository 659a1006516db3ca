package oauth

import (
	"fmt"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
)

// zgwClaims is the claim set spec.md §6 mandates for the zgw auth
// profile: {iss, iat, client_id, user_id, user_representation}.
type zgwClaims struct {
	Issuer             string `json:"iss"`
	IssuedAt           int64  `json:"iat"`
	ClientID           string `json:"client_id"`
	UserID             string `json:"user_id"`
	UserRepresentation string `json:"user_representation"`
}

// MintZGWToken builds the HS256 JWT the zgw auth profile sends as
// `Authorization: Bearer <jwt>`. iss is conventionally the client_id
// itself, matching the original's ZGW JWT convention.
func MintZGWToken(clientID, secret string) (string, error) {
	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.HS256, Key: []byte(secret)}, nil)
	if err != nil {
		return "", fmt.Errorf("building zgw jwt signer: %w", err)
	}

	claims := zgwClaims{
		Issuer:             clientID,
		IssuedAt:           time.Now().Unix(),
		ClientID:           clientID,
		UserID:             clientID,
		UserRepresentation: clientID,
	}

	builder := jwt.Signed(signer).Claims(claims)
	token, err := builder.Serialize()
	if err != nil {
		return "", fmt.Errorf("serializing zgw jwt: %w", err)
	}
	return token, nil
}
