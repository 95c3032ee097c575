package password

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// DefaultCost es el cost de bcrypt para hashes nuevos.
const DefaultCost = 12

// Hash genera un hash bcrypt del password en texto plano.
func Hash(plain string) (string, error) {
	if plain == "" {
		return "", fmt.Errorf("empty password")
	}
	b, err := bcrypt.GenerateFromPassword([]byte(plain), DefaultCost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Verify compara un password contra su hash. Hash vacío nunca matchea.
func Verify(plain, hash string) bool {
	if hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}
