// Package oidc implementa el lado relying-party del flujo OpenID Connect:
// discovery + JWKS con cache TTL, verificación criptográfica del identity
// token, intercambio de authorization code y normalización del perfil.
//
// No decide nada sobre cuentas locales: eso es responsabilidad de
// internal/identity. Este paquete solo produce una Identity verificada.
package oidc
