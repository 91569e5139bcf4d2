package oracle

import (
	"crypto/ed25519"
	"time"

	"github.com/golang-jwt/jwt/v5"

	id "trustledger/pkg/domain"
	dErrors "trustledger/pkg/domain-errors"
)

// observationClaims is the canonical signed message: subject, score, and
// observation timestamp. The compact JWS form of these claims is what the
// ledger stores as the observation signature.
type observationClaims struct {
	Subject    string `json:"sub"`
	Score      uint8  `json:"score"`
	ObservedAt int64  `json:"ts"`
	jwt.RegisteredClaims
}

// SignObservation mints the compact EdDSA JWS a verifier submits alongside
// an observation. Exported for verifier clients and tests.
func SignObservation(key ed25519.PrivateKey, subject id.Address, score uint8, observedAt time.Time) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, observationClaims{
		Subject:    subject.String(),
		Score:      score,
		ObservedAt: observedAt.Unix(),
	})
	return token.SignedString(key)
}

// verifySignature checks that the signature is a valid EdDSA JWS under the
// verifier's registered key and that its claims match the submitted fields.
func verifySignature(key ed25519.PublicKey, signature string, subject id.Address, score uint8, observedAt time.Time) error {
	claims := &observationClaims{}
	token, err := jwt.ParseWithClaims(signature, claims,
		func(*jwt.Token) (any, error) { return key, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodEdDSA.Alg()}),
	)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeValidation, "observation signature invalid")
	}
	if !token.Valid {
		return dErrors.New(dErrors.CodeValidation, "observation signature invalid")
	}
	if claims.Subject != subject.String() || claims.Score != score || claims.ObservedAt != observedAt.Unix() {
		return dErrors.New(dErrors.CodeValidation, "observation signature does not cover the submitted fields")
	}
	return nil
}
