package domain

// Identity is the authenticated caller. The core never parses tokens itself.
type Identity struct {
	UserID string
	Email  string
}

func (i Identity) Anonymous() bool {
	return i.UserID == ""
}
