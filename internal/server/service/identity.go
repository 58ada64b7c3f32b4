package service

// Identity describes who is performing a request: an administrator
// authenticated by the admin token, or an API key resolved to its
// scope. The String form is recorded as created_by on file records and
// is load-bearing for ownership checks.
type Identity struct {
	Kind      string // "admin" or "apikey"
	ID        string
	BasicPath string
	FilePerm  bool
	TextPerm  bool
	MountPerm bool
}

const (
	KindAdmin  = "admin"
	KindAPIKey = "apikey"
)

// AdminIdentity builds the identity for admin-token requests. Admins
// are not confined to a basic path and carry every capability.
func AdminIdentity(id string) Identity {
	return Identity{
		Kind:      KindAdmin,
		ID:        id,
		BasicPath: "/",
		FilePerm:  true,
		TextPerm:  true,
		MountPerm: true,
	}
}

func (i Identity) String() string {
	return i.Kind + ":" + i.ID
}

func (i Identity) IsAdmin() bool {
	return i.Kind == KindAdmin
}
