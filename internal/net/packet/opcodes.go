package packet

// Client → server.
const (
	C_OPCODE_LOGIN     byte = 1 // [S name]
	C_OPCODE_KEEPALIVE byte = 2
	C_OPCODE_MOVE      byte = 3 // [C direction][C running]
	C_OPCODE_CHAT      byte = 4 // [S text]
	C_OPCODE_QUIT      byte = 5
)

// Server → client.
const (
	S_OPCODE_LOGIN_OK      byte = 64 // [D slot][D x][D y][H map]
	S_OPCODE_LOGIN_REFUSED byte = 65 // [C reason]
	S_OPCODE_PLAYER_UPDATE byte = 81 // [block self][H count]{[D id][block]}
	S_OPCODE_NPC_UPDATE    byte = 82 // [H count]{[D id][block]}
	S_OPCODE_MESSAGE       byte = 90 // [S text]
)

// Login refusal reasons.
const (
	RefuseWorldFull   byte = 1
	RefuseNameInUse   byte = 2
	RefuseInvalidName byte = 3
)
