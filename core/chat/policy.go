package chat

const roleStudent = "student"

// IsAllowed reports whether a user with `senderRole` may message a user with `receiverRole`.
// Students may not message other students; every other pair is allowed.
func IsAllowed(senderRole, receiverRole string) bool {
	return !(senderRole == roleStudent && receiverRole == roleStudent)
}
