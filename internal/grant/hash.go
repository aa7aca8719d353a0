package grant

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"strings"
)

// ErrInteractionHashMismatch indicates a consent callback whose hash does not
// match the grant it claims to finish.
var ErrInteractionHashMismatch = errors.New("interaction hash mismatch")

// InteractionHash computes the hash the authorization server attaches to the
// finish redirect.
func InteractionHash(clientNonce, finishNonce, interactRef, authServer string) string {
	sum := sha256.Sum256([]byte(strings.Join([]string{clientNonce, finishNonce, interactRef, authServer}, "\n")))
	return base64.StdEncoding.EncodeToString(sum[:])
}

// VerifyInteractionHash checks the hash received on the consent callback.
// A grant requested without a finish block has no client nonce and never verifies.
func VerifyInteractionHash(p Pending, interactRef, hash string) error {
	if p.ClientNonce == "" {
		return ErrInteractionHashMismatch
	}
	want := InteractionHash(p.ClientNonce, p.FinishNonce, interactRef, p.AuthServer)
	if hash == "" || subtle.ConstantTimeCompare([]byte(want), []byte(hash)) != 1 {
		return ErrInteractionHashMismatch
	}
	return nil
}
