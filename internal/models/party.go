package models

// Creator is a managed client account that a thread may be linked to.
type Creator struct {
	ID    int64
	Name  string
	Phone string
}

// TeamMember is a staff account that outbound messages are attributed to.
type TeamMember struct {
	ID   int64
	Name string
}
