// Package jwt signs and verifies the HS256 access and refresh tokens issued
// by cauth. Access and refresh tokens use independent secrets, so a token of
// one kind never verifies as the other.
package jwt
