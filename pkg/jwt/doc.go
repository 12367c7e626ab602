// Package jwt verifies the HS256 access tokens presented to the API.
//
// It is a thin layer over github.com/golang-jwt/jwt/v5 that pins the signing algorithm,
// requires an expiry, and checks issuer and audience when configured. Claims.UserID turns
// the subject into the user id the rest of the service works with.
//
//	svc, err := jwt.New(cfg)
//	token, err := jwt.BearerToken(r)
//	claims, err := svc.Parse(token)
//	userID, err := claims.UserID()
package jwt
