package models

const (
	RoleCandidate = "CANDIDATE"
	RoleRecruiter = "RECRUITER"
)

// Identity - аутентифицированный пользователь из JWT.
type Identity struct {
	UserID string `json:"userId"`
	Role   string `json:"role"`
}

func (i Identity) IsRecruiter() bool {
	return i.Role == RoleRecruiter
}
