package service

// 实时存储中的路径布局。所有组件只通过这些路径交互，
// 彼此之间没有直接调用。
const (
	roomsRoot     = "rooms"
	membersRoot   = "roomMembers"
	messagesRoot  = "messages"
	presenceRoot  = "status"
	typingRoot    = "typing"
	userRoomsRoot = "userRooms"
)

func roomPath(roomID string) string           { return roomsRoot + "/" + roomID }
func membersPath(roomID string) string        { return membersRoot + "/" + roomID }
func memberPath(roomID, uid string) string    { return membersRoot + "/" + roomID + "/" + uid }
func messagesPath(roomID string) string       { return messagesRoot + "/" + roomID }
func messagePath(roomID, msgID string) string { return messagesRoot + "/" + roomID + "/" + msgID }
func reactionPath(roomID, msgID, emoji, uid string) string {
	return messagePath(roomID, msgID) + "/reactions/" + emoji + "/" + uid
}
func presencePath(uid string) string         { return presenceRoot + "/" + uid }
func typingRoomPath(roomID string) string    { return typingRoot + "/" + roomID }
func typingPath(roomID, uid string) string   { return typingRoot + "/" + roomID + "/" + uid }
func userRoomsPath(uid string) string        { return userRoomsRoot + "/" + uid }
func userRoomPath(uid, roomID string) string { return userRoomsRoot + "/" + uid + "/" + roomID }
