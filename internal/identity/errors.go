package identity

import "errors"

var (
	// ErrUnresolvable indica un perfil sin subject, o sin username ni email:
	// no hay nada estable sobre lo que decidir.
	ErrUnresolvable = errors.New("identity: profile has nothing stable to key on")

	// ErrAlreadyLinkedElsewhere indica que el subject ya está vinculado a otra
	// cuenta (carrera entre dos logins concurrentes de la misma identidad).
	ErrAlreadyLinkedElsewhere = errors.New("identity: subject already linked to another account")

	// ErrDuplicateAccount indica que username o email ya están tomados al
	// crear la cuenta (carrera con un registro concurrente).
	ErrDuplicateAccount = errors.New("identity: username or email already taken")

	// ErrProfileIncomplete indica que la creación requiere username y email
	// presentes.
	ErrProfileIncomplete = errors.New("identity: profile lacks username or email")
)
