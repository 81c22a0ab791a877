package decoder

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"picowatch-alert/internal/models"
)

// DecodeError 载荷不是合法编码（非 JSON）
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("malformed telemetry payload: %v", e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// SchemaError 载荷结构不符合遥测格式（字段缺失、类型错误、环境数据段数不对）
type SchemaError struct {
	Field  string
	Reason string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("invalid telemetry field %q: %s", e.Field, e.Reason)
}

// Decode 解码一条遥测消息
// 字段 PicoID/RoomID/Data 允许 JSON 字符串或数字（统一转为字符串），
// PicoType 必须是 1-5 的整数。环境设备（PicoType 1）的 Data 必须是
// 6 个逗号分隔的数值：sound, light, temperature, IAQ, pressure, humidity。
func Decode(payload []byte) (*models.DeviceReading, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		return nil, &DecodeError{Err: err}
	}

	deviceID, err := stringField(fields, "PicoID")
	if err != nil {
		return nil, err
	}
	roomID, err := stringField(fields, "RoomID")
	if err != nil {
		return nil, err
	}
	data, err := stringField(fields, "Data")
	if err != nil {
		return nil, err
	}

	raw, ok := fields["PicoType"]
	if !ok {
		return nil, &SchemaError{Field: "PicoType", Reason: "missing"}
	}
	var picoType int
	if err := json.Unmarshal(raw, &picoType); err != nil {
		return nil, &SchemaError{Field: "PicoType", Reason: "expected integer"}
	}
	deviceType := models.DeviceType(picoType)
	if !deviceType.Valid() {
		return nil, &SchemaError{Field: "PicoType", Reason: fmt.Sprintf("unknown device type %d", picoType)}
	}

	reading := &models.DeviceReading{
		DeviceID:   deviceID,
		RoomID:     roomID,
		DeviceType: deviceType,
		Data:       data,
	}

	if deviceType == models.DeviceEnvironment {
		env, err := parseEnvironment(data)
		if err != nil {
			return nil, err
		}
		reading.Environment = env
	}

	return reading, nil
}

// stringField 取一个允许字符串或数字的必填字段
func stringField(fields map[string]json.RawMessage, name string) (string, error) {
	raw, ok := fields[name]
	if !ok {
		return "", &SchemaError{Field: name, Reason: "missing"}
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}

	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String(), nil
	}

	return "", &SchemaError{Field: name, Reason: "expected string or number"}
}

// parseEnvironment 解析环境设备的 Data 字段
func parseEnvironment(data string) (*models.EnvironmentReading, error) {
	parts := strings.Split(data, ",")
	if len(parts) != 6 {
		return nil, &SchemaError{Field: "Data", Reason: fmt.Sprintf("expected 6 environment values, got %d", len(parts))}
	}

	values := make([]float64, 6)
	for i, part := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return nil, &SchemaError{Field: "Data", Reason: fmt.Sprintf("environment value %d is not numeric", i+1)}
		}
		values[i] = v
	}

	return &models.EnvironmentReading{
		Sound:       values[0],
		Light:       values[1],
		Temperature: values[2],
		IAQ:         values[3],
		Pressure:    values[4],
		Humidity:    values[5],
	}, nil
}
