package consts

import "time"

const (
	// RequestId 请求id名称
	RequestId = "request_id"

	// redis键前缀
	BotStatePrefix = "botflow:botstate:"

	// 默认redis过期时间
	RedisExrDefault = time.Hour * 24

	DateLayout = "2006-01-02"
	TimeLayout = "2006-01-02 15:04:05"
)

// kafka主题，兼容行情网关的下游消费者
const (
	KafkaTopicSubscribe = "marketdata_subscribe"
	KafkaTopicTicker    = "marketdata_ticker"
)
