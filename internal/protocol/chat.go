package protocol

// ChatMessage is a chat log entry, either plain text or an inline file. The
// two kinds share one struct because they share ids, reactions and ratings;
// IsFile discriminates. Msgpack tags cover the client-side cache files.
type ChatMessage struct {
	ID       string `json:"id" msgpack:"id"`
	RoomID   string `json:"roomId" msgpack:"roomId"`
	PeerID   string `json:"peerId" msgpack:"peerId"`
	UserName string `json:"userName" msgpack:"userName"`

	Text string `json:"text,omitempty" msgpack:"text,omitempty"`

	FileName string `json:"fileName,omitempty" msgpack:"fileName,omitempty"`
	FileType string `json:"fileType,omitempty" msgpack:"fileType,omitempty"`
	FileSize int64  `json:"fileSize,omitempty" msgpack:"fileSize,omitempty"`
	FileData string `json:"fileData,omitempty" msgpack:"fileData,omitempty"` // base64

	Timestamp int64          `json:"timestamp" msgpack:"timestamp"`
	Reactions []ChatReaction `json:"reactions" msgpack:"reactions"`
	Rating    ChatRating     `json:"rating" msgpack:"rating"`
}

func (m ChatMessage) IsFile() bool { return m.FileName != "" }

type ChatReaction struct {
	MessageID string `json:"messageId" msgpack:"messageId"`
	PeerID    string `json:"peerId" msgpack:"peerId"`
	UserName  string `json:"userName" msgpack:"userName"`
	Emoji     string `json:"emoji" msgpack:"emoji"`
	Timestamp int64  `json:"timestamp" msgpack:"timestamp"`
}

type ChatRating struct {
	MessageID string `json:"messageId" msgpack:"messageId"`
	Likes     int    `json:"likes" msgpack:"likes"`
	Dislikes  int    `json:"dislikes" msgpack:"dislikes"`
}
