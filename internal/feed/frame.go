package feed

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"botflow/internal/model"

	"github.com/spf13/cast"
)

// Frame 一条解析后的K线推送
type Frame struct {
	Symbol string
	Period model.KlinePeriod
	Klines []model.Kline
}

var errNotCandle = errors.New("not a candle frame")

// parseFrame 解析交易所推送。
// K线数据格式是一个数组 [ts, open, high, low, close, vol, volCcy, ..., confirm]，
// instId 在 arg 中而不是 data 数组中。
// 返回 (nil, nil) 表示事件消息（订阅确认等），返回错误表示非法帧。
func parseFrame(msg []byte) (*Frame, error) {
	var raw struct {
		Event string `json:"event"`
		Arg   struct {
			Channel string `json:"channel"`
			InstId  string `json:"instId"`
		} `json:"arg"`
		Data []json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(msg, &raw); err != nil {
		return nil, fmt.Errorf("unmarshal frame: %w", err)
	}

	// 忽略事件消息
	if raw.Event != "" {
		return nil, nil
	}

	// 只有当频道是 candle* 时才处理
	if !strings.HasPrefix(raw.Arg.Channel, "candle") {
		return nil, nil
	}
	if raw.Arg.InstId == "" {
		return nil, errors.New("candle frame missing instId")
	}
	if len(raw.Data) == 0 {
		return nil, errors.New("candle frame missing data")
	}

	// 提取周期，例如从 "candle15m" 中提取 "15m"
	period := model.KlinePeriod(strings.TrimPrefix(raw.Arg.Channel, "candle"))

	frame := &Frame{Symbol: raw.Arg.InstId, Period: period}
	for _, d := range raw.Data {
		k, err := parseKlineRow(d)
		if err != nil {
			return nil, err
		}
		frame.Klines = append(frame.Klines, k)
	}
	return frame, nil
}

func parseKlineRow(d json.RawMessage) (model.Kline, error) {
	var item []string
	if err := json.Unmarshal(d, &item); err != nil {
		return model.Kline{}, fmt.Errorf("unmarshal kline row: %w", err)
	}
	if len(item) < 9 {
		return model.Kline{}, fmt.Errorf("kline row too short: %d fields", len(item))
	}

	ts, err := cast.ToInt64E(item[0])
	if err != nil {
		return model.Kline{}, fmt.Errorf("bad timestamp %q", item[0])
	}

	open, err1 := cast.ToFloat64E(item[1])
	high, err2 := cast.ToFloat64E(item[2])
	low, err3 := cast.ToFloat64E(item[3])
	closePx, err4 := cast.ToFloat64E(item[4])
	vol, err5 := cast.ToFloat64E(item[5])
	volCcy, err6 := cast.ToFloat64E(item[6])
	for _, e := range []error{err1, err2, err3, err4, err5, err6} {
		if e != nil {
			return model.Kline{}, fmt.Errorf("bad kline numeric field: %w", e)
		}
	}

	return model.Kline{
		Timestamp: time.UnixMilli(ts),
		Open:      open,
		High:      high,
		Low:       low,
		Close:     closePx,
		Vol:       vol,
		VolCcy:    volCcy,
		Confirm:   item[8] == "1",
	}, nil
}
