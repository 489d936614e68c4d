// SPDX-License-Identifier: Apache-2.0

// Package auth implements the handshake-time authorization gate: parsing the
// minimal claim set out of a verified JWT and applying the acceptance rule
// from the configured AuthRules.
package auth

import (
	"github.com/golang-jwt/jwt/v5"
)

// Claims is the minimal claim set the handshake consumes. Claims are never
// retained past the handshake.
type Claims struct {
	HD            string
	Email         string
	EmailVerified bool
	Sub           string
	Issuer        string
}

// ClaimsFromToken extracts Claims from a validated jwt.Token's MapClaims.
func ClaimsFromToken(tok *jwt.Token) Claims {
	mc, ok := tok.Claims.(jwt.MapClaims)
	if !ok {
		return Claims{}
	}

	var c Claims
	if v, ok := mc["hd"].(string); ok {
		c.HD = v
	}
	if v, ok := mc["email"].(string); ok {
		c.Email = v
	}
	if v, ok := mc["email_verified"].(bool); ok {
		c.EmailVerified = v
	}
	if v, ok := mc["sub"].(string); ok {
		c.Sub = v
	}
	if v, ok := mc["iss"].(string); ok {
		c.Issuer = v
	}
	return c
}
