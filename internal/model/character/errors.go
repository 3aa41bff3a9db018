package character

import "errors"

// ErrNameRequired is returned when a character or world has no name.
var ErrNameRequired = errors.New("name is required")
