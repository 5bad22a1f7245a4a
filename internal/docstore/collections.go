package docstore

// Collections used by the classroom.
const (
	Users       = "users"
	OnlineUsers = "onlineUsers"
	Community   = "community"
	Homework    = "homework"
	Resources   = "resources"
	Doubts      = "doubts"

	// Identity provider state, never exposed over the wire.
	Accounts       = "accounts"
	AccountEmails  = "account_emails"
	UserActivities = "user_activities"
)
