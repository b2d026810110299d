package realtime

// Event types pushed to connected clients. Catalog events go to every
// session; notification events only to the recipient's sessions.
const (
	EventNewBook      = "new_book"
	EventBookUpdated  = "book_updated"
	EventBookDeleted  = "book_deleted"
	EventNotification = "notification"
)

// Event is a single frame on the realtime channel.
type Event struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}
