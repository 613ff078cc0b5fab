package domain

// Session is the ephemeral transport-layer endpoint created on connect and
// destroyed on disconnect. A session without a UserID may observe events but
// must never be allowed to originate chat or calls — callers enforce that
// invariant by checking Authenticated before dispatching.
type Session struct {
	ID       string
	UserID   string
	Username string
}

func (s Session) Authenticated() bool {
	return s.UserID != ""
}
