// Package common contains shared constants and sentinel errors used across
// socialauth components.
package common

// AuthorizationHeaderName is the HTTP header carrying the bearer access token.
const AuthorizationHeaderName = "Authorization"

// BearerScheme is the authorization scheme prefix expected in AuthorizationHeaderName.
const BearerScheme = "Bearer"

// OTPDigits is the fixed length of one-time passcodes. Email templates rely on it.
const OTPDigits = 6
