package protocol

import "strconv"

// Command 命令字
type Command byte

// 命令字取值与 mpush 客户端保持一致
const (
	CmdHeartbeat           Command = 1
	CmdHandshake           Command = 2
	CmdLogin               Command = 3
	CmdLogout              Command = 4
	CmdBind                Command = 5
	CmdUnbind              Command = 6
	CmdFastConnect         Command = 7
	CmdPause               Command = 8
	CmdResume              Command = 9
	CmdError               Command = 10
	CmdOK                  Command = 11
	CmdHTTPProxy           Command = 12
	CmdKick                Command = 13
	CmdGatewayKick         Command = 14
	CmdPush                Command = 15
	CmdGatewayPush         Command = 16
	CmdNotification        Command = 17
	CmdGatewayNotification Command = 18
	CmdChat                Command = 19
	CmdGatewayChat         Command = 20
	CmdGroup               Command = 21
	CmdGatewayGroup        Command = 22
	CmdAck                 Command = 23
	CmdNack                Command = 24
	CmdUnknown             Command = 0xFF
)

var commandNames = map[Command]string{
	CmdHeartbeat:           "HEARTBEAT",
	CmdHandshake:           "HANDSHAKE",
	CmdLogin:               "LOGIN",
	CmdLogout:              "LOGOUT",
	CmdBind:                "BIND",
	CmdUnbind:              "UNBIND",
	CmdFastConnect:         "FAST_CONNECT",
	CmdPause:               "PAUSE",
	CmdResume:              "RESUME",
	CmdError:               "ERROR",
	CmdOK:                  "OK",
	CmdHTTPProxy:           "HTTP_PROXY",
	CmdKick:                "KICK",
	CmdGatewayKick:         "GATEWAY_KICK",
	CmdPush:                "PUSH",
	CmdGatewayPush:         "GATEWAY_PUSH",
	CmdNotification:        "NOTIFICATION",
	CmdGatewayNotification: "GATEWAY_NOTIFICATION",
	CmdChat:                "CHAT",
	CmdGatewayChat:         "GATEWAY_CHAT",
	CmdGroup:               "GROUP",
	CmdGatewayGroup:        "GATEWAY_GROUP",
	CmdAck:                 "ACK",
	CmdNack:                "NACK",
	CmdUnknown:             "UNKNOWN",
}

// String 返回命令名
func (c Command) String() string {
	if name, ok := commandNames[c]; ok {
		return name
	}
	return "CMD(" + strconv.Itoa(int(c)) + ")"
}

// Known 是否为已定义的命令字
func (c Command) Known() bool {
	_, ok := commandNames[c]
	return ok && c != CmdUnknown
}
