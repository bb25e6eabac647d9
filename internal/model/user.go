package model

// RemoteUser is the identity a request was made with.
type RemoteUser struct {
	Name string // empty for anonymous requests
}

// Anonymous is the user of requests without credentials.
var Anonymous = RemoteUser{}

// Authenticated reports whether the user presented valid credentials.
func (u RemoteUser) Authenticated() bool {
	return u.Name != ""
}
