package ecode

// 业务错误码，0表示成功
const (
	Success = 0

	Unknown        = 10001 // 未知错误
	ValidateErr    = 10002 // 参数校验失败
	NotFoundErr    = 10003 // 资源不存在
	ConflictErr    = 10004 // 状态冲突（如重复创建）
	RequireAuthErr = 10401 // 鉴权失败

	// 交易运行时相关
	ConfigInvalidErr = 20001 // 机器人配置非法
	BotHaltedErr     = 20002 // 机器人已熔断，需要人工reset
	ExchangeErr      = 20003 // 交易所接口错误
)

var messages = map[int]string{
	Success:          "ok",
	Unknown:          "internal error",
	ValidateErr:      "invalid parameter",
	NotFoundErr:      "not found",
	ConflictErr:      "conflict",
	RequireAuthErr:   "require auth",
	ConfigInvalidErr: "invalid bot config",
	BotHaltedErr:     "bot halted",
	ExchangeErr:      "exchange error",
}

// Message 返回错误码的默认描述
func Message(code int) string {
	if msg, ok := messages[code]; ok {
		return msg
	}
	return messages[Unknown]
}
